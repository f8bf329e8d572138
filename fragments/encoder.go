package fragments

import (
	"context"
	"math"
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
)

// An EncoderFunc writes a value to the given encoder.
type EncoderFunc func(ctx context.Context, enc *Encoder, val reflect.Value) error

// DefaultMaxDepth is the nesting limit used when an Encoder or
// Decoder does not specify one.
const DefaultMaxDepth = 64

// An Encoder provides utilities to write a protobuf wire format
// message to a byte slice.
//
// Methods check [Encoder.MaxSize] before producing any output, so a
// failed write leaves Out unchanged.
type Encoder struct {
	// Out is the encoded output.
	Out []byte
	// MaxSize, if positive, is the maximum number of bytes the
	// encoder will produce. Writes that would exceed it fail with a
	// [SizeLimitError].
	MaxSize int
	// MaxDepth is the maximum nesting of messages and groups. Zero
	// means [DefaultMaxDepth].
	MaxDepth int
	// CountOnly makes the encoder track [Encoder.Position] without
	// writing anything to Out.
	CountOnly bool

	pos   int
	depth int
}

// Position returns the number of bytes written since the encoder was
// created.
func (e *Encoder) Position() int { return e.pos }

func (e *Encoder) reserve(n int) error {
	if e.MaxSize > 0 && e.pos+n > e.MaxSize {
		return SizeLimitError{Length: e.pos + n, Limit: e.MaxSize}
	}
	e.pos += n
	return nil
}

func (e *Encoder) enter() error {
	max := e.MaxDepth
	if max == 0 {
		max = DefaultMaxDepth
	}
	if e.depth >= max {
		return ErrRecursionLimit
	}
	e.depth++
	return nil
}

func (e *Encoder) leave() { e.depth-- }

// Write writes bs as-is to the output.
func (e *Encoder) Write(bs []byte) error {
	if err := e.reserve(len(bs)); err != nil {
		return err
	}
	if !e.CountOnly {
		e.Out = append(e.Out, bs...)
	}
	return nil
}

// Varint writes v as a base-128 varint.
func (e *Encoder) Varint(v uint64) error {
	if err := e.reserve(protowire.SizeVarint(v)); err != nil {
		return err
	}
	if !e.CountOnly {
		e.Out = AppendVarint(e.Out, v)
	}
	return nil
}

// Tag writes a field tag.
func (e *Encoder) Tag(field int, wt WireType) error {
	if !ValidFieldNumber(field) || !wt.Valid() {
		return TagError{Field: field, WireType: wt}
	}
	return e.Varint(uint64(field)<<3 | uint64(wt))
}

// Bool writes b as a varint 0 or 1.
func (e *Encoder) Bool(b bool) error {
	if b {
		return e.Varint(1)
	}
	return e.Varint(0)
}

// Fixed32 writes v as 4 little-endian bytes.
func (e *Encoder) Fixed32(v uint32) error {
	if err := e.reserve(4); err != nil {
		return err
	}
	if !e.CountOnly {
		e.Out = protowire.AppendFixed32(e.Out, v)
	}
	return nil
}

// Fixed64 writes v as 8 little-endian bytes.
func (e *Encoder) Fixed64(v uint64) error {
	if err := e.reserve(8); err != nil {
		return err
	}
	if !e.CountOnly {
		e.Out = protowire.AppendFixed64(e.Out, v)
	}
	return nil
}

// Float32 writes f as a Fixed32.
func (e *Encoder) Float32(f float32) error {
	return e.Fixed32(math.Float32bits(f))
}

// Float64 writes f as a Fixed64.
func (e *Encoder) Float64(f float64) error {
	return e.Fixed64(math.Float64bits(f))
}

// Bytes writes a length-prefixed byte string.
func (e *Encoder) Bytes(bs []byte) error {
	if err := e.Varint(uint64(len(bs))); err != nil {
		return err
	}
	return e.Write(bs)
}

// String writes a length-prefixed string.
func (e *Encoder) String(s string) error {
	if err := e.Varint(uint64(len(s))); err != nil {
		return err
	}
	if err := e.reserve(len(s)); err != nil {
		return err
	}
	if !e.CountOnly {
		e.Out = append(e.Out, s...)
	}
	return nil
}

// Message writes a length-delimited sub-message. The message's
// fields must be written within the provided fields function. The
// caller writes the message's tag.
func (e *Encoder) Message(fields func() error) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	return e.delimited(fields)
}

// Packed writes a length-delimited run of packed scalars. The
// elements must be written within the provided elements function,
// without tags.
func (e *Encoder) Packed(elements func() error) error {
	return e.delimited(elements)
}

// delimited runs fn, then inserts the varint length of its output in
// front of it.
func (e *Encoder) delimited(fn func() error) error {
	start, off := e.pos, len(e.Out)
	if err := fn(); err != nil {
		return err
	}
	n := uint64(e.pos - start)
	sz := protowire.SizeVarint(n)
	if err := e.reserve(sz); err != nil {
		return err
	}
	if e.CountOnly {
		return nil
	}
	var buf [MaxVarintLen]byte
	prefix := AppendVarint(buf[:0], n)
	e.Out = append(e.Out, prefix...)
	copy(e.Out[off+sz:], e.Out[off:len(e.Out)-sz])
	copy(e.Out[off:], prefix)
	return nil
}

// Group writes a group for the given field. The group's fields must
// be written within the provided fields function. Group writes both
// the StartGroup and EndGroup tags.
func (e *Encoder) Group(field int, fields func() error) error {
	if err := e.Tag(field, StartGroup); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	err := fields()
	e.leave()
	if err != nil {
		return err
	}
	return e.Tag(field, EndGroup)
}
