package fragments

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
)

// A DecoderFunc reads a value into val.
type DecoderFunc func(ctx context.Context, dec *Decoder, val reflect.Value) error

// A FieldFunc consumes the payload of one field. It is called with
// the decoder positioned just after the field's tag.
type FieldFunc func(field int, wt WireType) error

// A Decoder provides utilities to read a protobuf wire format message
// from a byte slice.
//
// Reads never go past the end of the innermost message being
// decoded, see [Decoder.Message].
type Decoder struct {
	// In is the input to read.
	In []byte
	// MaxDepth is the maximum nesting of messages and groups. Zero
	// means [DefaultMaxDepth].
	MaxDepth int

	pos     int
	end     int
	bounded bool
	depth   int
}

// Position returns the offset of the next byte to be read within In.
func (d *Decoder) Position() int { return d.pos }

// Remaining returns the number of bytes left in the current message.
func (d *Decoder) Remaining() int { return d.limit() - d.pos }

func (d *Decoder) limit() int {
	if d.bounded {
		return d.end
	}
	return len(d.In)
}

func (d *Decoder) enter() error {
	max := d.MaxDepth
	if max == 0 {
		max = DefaultMaxDepth
	}
	if d.depth >= max {
		return ErrRecursionLimit
	}
	d.depth++
	return nil
}

func (d *Decoder) leave() { d.depth-- }

// Read reads n bytes, with no framing. The returned slice aliases In.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, fmt.Errorf("reading %d bytes with %d remaining: %w", n, d.Remaining(), ErrTruncated)
	}
	ret := d.In[d.pos : d.pos+n : d.pos+n]
	d.pos += n
	return ret, nil
}

// Varint reads a base-128 varint.
func (d *Decoder) Varint() (uint64, error) {
	v, n, err := ConsumeVarint(d.In[d.pos:d.limit()])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

// Uint32 reads a varint that must fit in 32 bits.
func (d *Decoder) Uint32() (uint32, error) {
	v, err := d.Varint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, OverflowError{Value: v, Bits: 32}
	}
	return uint32(v), nil
}

// Int32 reads a twos-complement varint that must fit in 32 bits.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Int(32, FormatTwosComplement, Varint)
	return int32(v), err
}

// Bool reads a varint as a boolean. Any non-zero value is true.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Varint()
	return v != 0, err
}

// Tag reads a field tag.
func (d *Decoder) Tag() (field int, wt WireType, err error) {
	v, err := d.Varint()
	if err != nil {
		return 0, 0, err
	}
	field, wt = int(v>>3), WireType(v&7)
	if v>>3 > MaxFieldNumber || !ValidFieldNumber(field) || !wt.Valid() {
		return 0, 0, TagError{Field: int(min(v>>3, math.MaxInt32)), WireType: wt}
	}
	return field, wt, nil
}

// Fixed32 reads 4 little-endian bytes.
func (d *Decoder) Fixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(d.In[d.pos:d.limit()])
	if n < 0 {
		return 0, fmt.Errorf("reading 4 bytes with %d remaining: %w", d.Remaining(), ErrTruncated)
	}
	d.pos += n
	return v, nil
}

// Fixed64 reads 8 little-endian bytes.
func (d *Decoder) Fixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(d.In[d.pos:d.limit()])
	if n < 0 {
		return 0, fmt.Errorf("reading 8 bytes with %d remaining: %w", d.Remaining(), ErrTruncated)
	}
	d.pos += n
	return v, nil
}

// Float32 reads a Fixed32 as a float.
func (d *Decoder) Float32() (float32, error) {
	u, err := d.Fixed32()
	return math.Float32frombits(u), err
}

// Float64 reads a Fixed64 as a float.
func (d *Decoder) Float64() (float64, error) {
	u, err := d.Fixed64()
	return math.Float64frombits(u), err
}

// Bytes reads a length-prefixed byte string. The returned slice
// aliases In.
func (d *Decoder) Bytes() ([]byte, error) {
	ln, err := d.Varint()
	if err != nil {
		return nil, err
	}
	if ln > uint64(d.Remaining()) {
		return nil, fmt.Errorf("length prefix %d with %d remaining: %w", ln, d.Remaining(), ErrTruncated)
	}
	return d.Read(int(ln))
}

// String reads a length-prefixed string.
func (d *Decoder) String() (string, error) {
	bs, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// scope reads a length prefix and confines reads to the following
// that many bytes while fn runs.
func (d *Decoder) scope(fn func() error) error {
	ln, err := d.Varint()
	if err != nil {
		return err
	}
	if ln > uint64(d.Remaining()) {
		return fmt.Errorf("message length %d with %d remaining: %w", ln, d.Remaining(), ErrTruncated)
	}
	prevEnd, prevBounded := d.end, d.bounded
	d.end, d.bounded = d.pos+int(ln), true
	defer func() { d.end, d.bounded = prevEnd, prevBounded }()
	if err := fn(); err != nil {
		return err
	}
	if d.pos != d.end {
		return fmt.Errorf("%d unread bytes at end of message: %w", d.end-d.pos, ErrTruncated)
	}
	return nil
}

// Message reads a length-delimited sub-message, calling fn for each
// of its fields.
func (d *Decoder) Message(fn FieldFunc) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	return d.scope(func() error { return d.fields(0, fn) })
}

// Group reads the contents of a group opened by a StartGroup tag for
// field, calling fn for each of its fields. The group's EndGroup tag
// is consumed.
func (d *Decoder) Group(field int, fn FieldFunc) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	return d.fields(field, fn)
}

// Packed reads a length-delimited run of packed scalars, calling fn
// until the run is exhausted. Each call to fn must consume exactly
// one element.
func (d *Decoder) Packed(fn func() error) error {
	return d.scope(func() error {
		for d.pos < d.end {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fields calls fn for each field until the end of the current
// message.
func (d *Decoder) Fields(fn FieldFunc) error {
	return d.fields(0, fn)
}

// fields calls fn for each field up to the end of the current message
// or, if group is non-zero, up to the group's EndGroup tag.
func (d *Decoder) fields(group int, fn FieldFunc) error {
	for d.pos < d.limit() {
		field, wt, err := d.Tag()
		if err != nil {
			return err
		}
		if wt == EndGroup {
			if field != group {
				return EndGroupError{Want: group, Got: field}
			}
			return nil
		}
		if err := fn(field, wt); err != nil {
			return err
		}
	}
	if group != 0 {
		return fmt.Errorf("group for field %d not closed: %w", group, ErrTruncated)
	}
	return nil
}

// Skip consumes the payload of a field with the given wire type.
func (d *Decoder) Skip(field int, wt WireType) error {
	var err error
	switch wt {
	case Varint:
		_, err = d.Varint()
	case Fixed64:
		_, err = d.Read(8)
	case LengthDelimited:
		_, err = d.Bytes()
	case StartGroup:
		err = d.Group(field, d.Skip)
	case Fixed32:
		_, err = d.Read(4)
	case EndGroup:
		err = EndGroupError{Got: field}
	default:
		err = TagError{Field: field, WireType: wt}
	}
	return err
}
