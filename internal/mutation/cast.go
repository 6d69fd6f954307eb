package mutation

import (
	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Cast converts a host value into the stored value of column c and returns
// the size it adds to the record. Vector values are cast element by
// element and their size is the sum of the element sizes.
func Cast(c engine.Column, v any) (any, int, error) {
	if !c.Domain.IsArray() {
		stored, err := domain.Encode(c.Domain, v)
		if err != nil {
			return nil, 0, err
		}
		return stored, domain.Size(stored), nil
	}

	elements, err := domain.Elements(v)
	if err != nil {
		return nil, 0, err
	}
	size := 0
	for _, e := range elements {
		if e == nil {
			continue
		}
		stored, err := domain.Encode(c.Domain.Element(), e)
		if err != nil {
			return nil, 0, err
		}
		size += domain.Size(stored)
	}
	stored, err := domain.Encode(c.Domain, elements)
	if err != nil {
		return nil, 0, err
	}
	return stored, size, nil
}

// needMaxRecordSizeUpdate reports whether records of index can grow past
// the index-only scan threshold: any text column does, and so do two
// varchar columns.
func needMaxRecordSizeUpdate(index *types.Index) bool {
	nVarchar := 0
	for _, c := range index.Columns {
		switch c.Type {
		case types.TypeVarchar:
			nVarchar++
		case types.TypeText, types.TypeVarcharArray, types.TypeTextArray:
			return true
		}
	}
	return nVarchar >= 2
}
