package types

import "fmt"

// Ctid is the physical location of a host row version.
type Ctid struct {
	Block  uint32
	Offset uint16
}

// InvalidOffset marks a Ctid that doesn't point at a row.
const InvalidOffset uint16 = 0

// Pack encodes the ctid into the 48 bits used as engine key and column value.
func (c Ctid) Pack() uint64 {
	return uint64(c.Block)<<16 | uint64(c.Offset)
}

// UnpackCtid decodes a value produced by Ctid.Pack.
func UnpackCtid(packed uint64) Ctid {
	return Ctid{
		Block:  uint32(packed >> 16),
		Offset: uint16(packed & 0xffff),
	}
}

// IsValid reports whether the ctid points at a line pointer.
func (c Ctid) IsValid() bool {
	return c.Offset != InvalidOffset
}

func (c Ctid) String() string {
	return fmt.Sprintf("(%d,%d)", c.Block, c.Offset)
}
