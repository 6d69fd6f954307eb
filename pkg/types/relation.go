package types

import "strings"

// TypeID identifies a host column type.
type TypeID int

// Host column types understood by the engine
const (
	TypeUnknown TypeID = iota
	TypeBool
	TypeInt2
	TypeInt4
	TypeInt8
	TypeFloat4
	TypeFloat8
	TypeText
	TypeVarchar
	TypeTimestamp
	TypeTimestampTZ
	TypeJSONB
	TypeInt2Array
	TypeInt4Array
	TypeInt8Array
	TypeFloat4Array
	TypeFloat8Array
	TypeTextArray
	TypeVarcharArray
)

var typeNames = map[TypeID]string{
	TypeBool:         "boolean",
	TypeInt2:         "smallint",
	TypeInt4:         "integer",
	TypeInt8:         "bigint",
	TypeFloat4:       "real",
	TypeFloat8:       "double precision",
	TypeText:         "text",
	TypeVarchar:      "varchar",
	TypeTimestamp:    "timestamp",
	TypeTimestampTZ:  "timestamptz",
	TypeJSONB:        "jsonb",
	TypeInt2Array:    "smallint[]",
	TypeInt4Array:    "integer[]",
	TypeInt8Array:    "bigint[]",
	TypeFloat4Array:  "real[]",
	TypeFloat8Array:  "double precision[]",
	TypeTextArray:    "text[]",
	TypeVarcharArray: "varchar[]",
}

func (t TypeID) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTypeID returns the TypeID for a name produced by TypeID.String.
func ParseTypeID(name string) TypeID {
	for id, n := range typeNames {
		if strings.EqualFold(n, name) {
			return id
		}
	}
	return TypeUnknown
}

// IsArray reports whether values of the type are one-dimensional arrays.
func (t TypeID) IsArray() bool {
	return t >= TypeInt2Array && t <= TypeVarcharArray
}

// IsText reports whether the type is a scalar text type.
func (t TypeID) IsText() bool {
	return t == TypeText || t == TypeVarchar
}

// Element returns the element type of an array type, or t itself.
func (t TypeID) Element() TypeID {
	switch t {
	case TypeInt2Array:
		return TypeInt2
	case TypeInt4Array:
		return TypeInt4
	case TypeInt8Array:
		return TypeInt8
	case TypeFloat4Array:
		return TypeFloat4
	case TypeFloat8Array:
		return TypeFloat8
	case TypeTextArray:
		return TypeText
	case TypeVarcharArray:
		return TypeVarchar
	default:
		return t
	}
}

// ArrayOf returns the array type whose elements are t, or t itself when no
// such array type exists.
func (t TypeID) ArrayOf() TypeID {
	switch t {
	case TypeInt2:
		return TypeInt2Array
	case TypeInt4:
		return TypeInt4Array
	case TypeInt8:
		return TypeInt8Array
	case TypeFloat4:
		return TypeFloat4Array
	case TypeFloat8:
		return TypeFloat8Array
	case TypeText:
		return TypeTextArray
	case TypeVarchar:
		return TypeVarcharArray
	default:
		return t
	}
}

// Attribute is one column of a heap relation.
type Attribute struct {
	Number  int16 // 1-based attribute number
	Name    string
	Type    TypeID
	NotNull bool
}

// Table describes a heap relation.
type Table struct {
	OID        uint32
	Name       string
	Attributes []Attribute
	PrimaryKey []int16 // attribute numbers of the primary key, in key order
}

// Attribute returns the attribute with the given number.
func (t *Table) Attribute(number int16) (Attribute, bool) {
	for _, a := range t.Attributes {
		if a.Number == number {
			return a, true
		}
	}
	return Attribute{}, false
}

// OpsFamily is the operator family an index column was declared with. It
// decides which strategies the column supports and whether its lexicon
// tokenizes values.
type OpsFamily int

const (
	// FamilyDefault supports comparisons, equality and IN. No tokenizer.
	FamilyDefault OpsFamily = iota
	// FamilyFullText supports match, query, script, similar and conditions.
	FamilyFullText
	// FamilyRegexp supports regexp and LIKE through regular expressions.
	FamilyRegexp
	// FamilyPrefix supports prefix and prefix RK searches on whole terms.
	FamilyPrefix
)

// TokenizerNone disables the family default tokenizer.
const TokenizerNone = "none"

// IndexColumn is one column of an index.
type IndexColumn struct {
	Name      string
	Type      TypeID
	HeapAttno int16 // 0 for expression columns
	Family    OpsFamily
	Tokenizer string // "" uses the family default
}

// EffectiveTokenizer returns the lexicon tokenizer, or "" when the lexicon
// stores whole values.
func (c IndexColumn) EffectiveTokenizer() string {
	if c.Tokenizer == TokenizerNone {
		return ""
	}
	if c.Tokenizer != "" {
		return c.Tokenizer
	}
	switch c.Family {
	case FamilyFullText:
		return "unicode61"
	case FamilyRegexp:
		return "trigram"
	default:
		return ""
	}
}

// Index describes an index relation using the engine access method.
type Index struct {
	OID         uint32
	Name        string
	RelFileNode uint32
	HeapOID     uint32
	Columns     []IndexColumn
	Unique      bool
	// Keyed stores sources records under the packed ctid instead of a
	// surrogate id plus a ctid column. Fixed at build time.
	Keyed bool
}

// Column returns the 1-based index column attno.
func (i *Index) Column(attno int) (IndexColumn, bool) {
	if attno < 1 || attno > len(i.Columns) {
		return IndexColumn{}, false
	}
	return i.Columns[attno-1], true
}
