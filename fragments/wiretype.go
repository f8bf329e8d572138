package fragments

import "fmt"

// A WireType is the framing code carried in the low 3 bits of every
// field tag.
type WireType uint8

const (
	Varint          WireType = 0
	Fixed64         WireType = 1
	LengthDelimited WireType = 2
	StartGroup      WireType = 3
	EndGroup        WireType = 4
	Fixed32         WireType = 5
)

// Valid reports whether w is one of the six defined wire types.
func (w WireType) Valid() bool { return w <= Fixed32 }

func (w WireType) String() string {
	switch w {
	case Varint:
		return "varint"
	case Fixed64:
		return "fixed64"
	case LengthDelimited:
		return "bytes"
	case StartGroup:
		return "start_group"
	case EndGroup:
		return "end_group"
	case Fixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("WireType(%d)", uint8(w))
	}
}

// Field number limits.
const (
	MinFieldNumber = 1
	MaxFieldNumber = 1<<29 - 1

	// Field numbers in [FirstReservedFieldNumber,
	// LastReservedFieldNumber] are reserved for the protobuf
	// implementation and cannot appear in a schema.
	FirstReservedFieldNumber = 19000
	LastReservedFieldNumber  = 19999
)

// IsReservedFieldNumber reports whether n falls in the reserved
// field number range.
func IsReservedFieldNumber(n int) bool {
	return n >= FirstReservedFieldNumber && n <= LastReservedFieldNumber
}

// ValidFieldNumber reports whether n can be written in a tag.
func ValidFieldNumber(n int) bool {
	return n >= MinFieldNumber && n <= MaxFieldNumber
}

// ParseWireType returns the wire type with the given name, as printed
// by its String method.
func ParseWireType(s string) (WireType, error) {
	for wt := Varint; wt <= Fixed32; wt++ {
		if wt.String() == s {
			return wt, nil
		}
	}
	return 0, fmt.Errorf("unknown wire type %q", s)
}
