package fragments

import "fmt"

// A Format selects how an integer is represented on the wire.
type Format uint8

const (
	// FormatDefault encodes integers as plain varints. Signed values
	// are sign-extended to 64 bits, so negative numbers always take
	// 10 bytes.
	FormatDefault Format = iota
	// FormatZigZag encodes signed integers as zigzag varints.
	FormatZigZag
	// FormatTwosComplement reinterprets signed integers as unsigned
	// and encodes them as varints. It matches FormatDefault.
	FormatTwosComplement
	// FormatFixedSize encodes integers as Fixed64 if they are 64 bits
	// wide, and Fixed32 otherwise.
	FormatFixedSize
)

func (f Format) String() string {
	switch f {
	case FormatDefault:
		return "default"
	case FormatZigZag:
		return "zigzag"
	case FormatTwosComplement:
		return "twoscomplement"
	case FormatFixedSize:
		return "fixed"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// WireType returns the wire type used for a bits-wide integer in
// format f.
func (f Format) WireType(bits int) WireType {
	if f != FormatFixedSize {
		return Varint
	}
	if bits > 32 {
		return Fixed64
	}
	return Fixed32
}

// Int writes a bits-wide signed integer in format f, without a tag.
func (e *Encoder) Int(v int64, bits int, f Format) error {
	switch f {
	case FormatFixedSize:
		if bits > 32 {
			return e.Fixed64(uint64(v))
		}
		return e.Fixed32(uint32(v))
	case FormatZigZag:
		if bits > 32 {
			return e.Varint(ZigZagEncode64(v))
		}
		return e.Varint(uint64(ZigZagEncode32(int32(v))))
	default:
		return e.Varint(uint64(v))
	}
}

// Uint writes a bits-wide unsigned integer in format f, without a
// tag. ZigZag and TwosComplement do not apply to unsigned values and
// are treated as FormatDefault.
func (e *Encoder) Uint(v uint64, bits int, f Format) error {
	if f == FormatFixedSize {
		if bits > 32 {
			return e.Fixed64(v)
		}
		return e.Fixed32(uint32(v))
	}
	return e.Varint(v)
}

// Int reads a bits-wide signed integer that was written in format f
// with wire type wt.
//
// Varints narrower than 64 bits are accepted either sign-extended or
// truncated to the destination width, as other protobuf
// implementations emit both.
func (d *Decoder) Int(bits int, f Format, wt WireType) (int64, error) {
	var ret int64
	switch wt {
	case Varint:
		u, err := d.Varint()
		if err != nil {
			return 0, err
		}
		switch {
		case f == FormatZigZag && bits > 32:
			return ZigZagDecode64(u), nil
		case f == FormatZigZag:
			if u > 1<<32-1 {
				return 0, OverflowError{Value: u, Bits: 32}
			}
			ret = int64(ZigZagDecode32(uint32(u)))
		case bits == 64:
			return int64(u), nil
		default:
			ret = int64(u)
			if !fitsSigned(ret, bits) && u < 1<<bits {
				// Truncated form, sign bit at position bits-1.
				ret = signExtend(u, bits)
			}
		}
		if !fitsSigned(ret, bits) {
			return 0, OverflowError{Value: u, Bits: bits}
		}
		return ret, nil
	case Fixed32:
		u, err := d.Fixed32()
		if err != nil {
			return 0, err
		}
		ret = int64(int32(u))
		if !fitsSigned(ret, bits) {
			return 0, OverflowError{Value: uint64(u), Bits: bits}
		}
		return ret, nil
	case Fixed64:
		u, err := d.Fixed64()
		if err != nil {
			return 0, err
		}
		ret = int64(u)
		if !fitsSigned(ret, bits) {
			return 0, OverflowError{Value: u, Bits: bits}
		}
		return ret, nil
	default:
		return 0, WireTypeError{Got: wt}
	}
}

// Uint reads a bits-wide unsigned integer that was written with wire
// type wt.
func (d *Decoder) Uint(bits int, wt WireType) (uint64, error) {
	var (
		u   uint64
		err error
	)
	switch wt {
	case Varint:
		u, err = d.Varint()
	case Fixed32:
		var u32 uint32
		u32, err = d.Fixed32()
		u = uint64(u32)
	case Fixed64:
		u, err = d.Fixed64()
	default:
		return 0, WireTypeError{Got: wt}
	}
	if err != nil {
		return 0, err
	}
	if bits < 64 && u >= 1<<bits {
		return 0, OverflowError{Value: u, Bits: bits}
	}
	return u, nil
}

func fitsSigned(v int64, bits int) bool {
	if bits >= 64 {
		return true
	}
	lim := int64(1) << (bits - 1)
	return v >= -lim && v < lim
}

func signExtend(u uint64, bits int) int64 {
	shift := 64 - bits
	return int64(u<<shift) >> shift
}
