package fragments

import "google.golang.org/protobuf/encoding/protowire"

// MaxVarintLen is the maximum encoded length of a 64-bit varint.
const MaxVarintLen = 10

// AppendVarint appends the base-128 encoding of v to bs.
func AppendVarint(bs []byte, v uint64) []byte {
	return protowire.AppendVarint(bs, v)
}

// ConsumeVarint decodes a varint from the front of bs, and returns
// the value and the number of bytes consumed.
func ConsumeVarint(bs []byte) (v uint64, n int, err error) {
	for i := range MaxVarintLen {
		if i >= len(bs) {
			return 0, 0, ErrTruncated
		}
		b := bs[i]
		if i == MaxVarintLen-1 {
			if b&0x80 != 0 {
				return 0, 0, errVarintTooLong
			}
			if b > 1 {
				// Only the lowest bit of the 10th group is left in a
				// 64-bit value.
				return 0, 0, OverflowError{Value: v, Bits: 64}
			}
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v, i + 1, nil
		}
	}
	panic("unreachable")
}

// AppendTag appends the tag for the given field number and wire type
// to bs. The caller is responsible for the validity of field and wt.
func AppendTag(bs []byte, field int, wt WireType) []byte {
	return protowire.AppendTag(bs, protowire.Number(field), protowire.Type(wt))
}
