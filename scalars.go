package pbwire

import (
	"context"
	"fmt"
	"reflect"

	"github.com/danderson/pbwire/fragments"
)

// scalarOp describes the encoding of one scalar type.
type scalarOp struct {
	kind   reflect.Kind
	bits   int
	format DataFormat
}

func newScalarOp(t reflect.Type, f DataFormat) scalarOp {
	op := scalarOp{kind: t.Kind(), format: f}
	if op.signed() || op.unsigned() {
		op.bits = intBits(t)
	}
	return op
}

func (op scalarOp) signed() bool {
	switch op.kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func (op scalarOp) unsigned() bool {
	switch op.kind {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// wireType returns the wire type scalars are written with.
func (op scalarOp) wireType() fragments.WireType {
	switch op.kind {
	case reflect.Bool:
		return fragments.Varint
	case reflect.Float32:
		return fragments.Fixed32
	case reflect.Float64:
		return fragments.Fixed64
	case reflect.String:
		return fragments.LengthDelimited
	}
	return op.format.WireType(op.bits)
}

func (op scalarOp) encode(e *fragments.Encoder, v reflect.Value) error {
	switch {
	case op.kind == reflect.Bool:
		return e.Bool(v.Bool())
	case op.kind == reflect.Float32:
		return e.Float32(float32(v.Float()))
	case op.kind == reflect.Float64:
		return e.Float64(v.Float())
	case op.kind == reflect.String:
		return e.String(v.String())
	case op.signed():
		return e.Int(v.Int(), op.bits, op.format)
	case op.unsigned():
		return e.Uint(v.Uint(), op.bits, op.format)
	}
	return fmt.Errorf("unhandled scalar kind %s", op.kind)
}

func (op scalarOp) decode(d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
	switch {
	case op.kind == reflect.Bool:
		if wt != fragments.Varint {
			return wireTypeErr(v.Type(), wt)
		}
		b, err := d.Bool()
		if err != nil {
			return err
		}
		v.SetBool(b)
	case op.kind == reflect.Float32:
		if wt != fragments.Fixed32 {
			return wireTypeErr(v.Type(), wt)
		}
		f, err := d.Float32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(f))
	case op.kind == reflect.Float64:
		if wt != fragments.Fixed64 {
			return wireTypeErr(v.Type(), wt)
		}
		f, err := d.Float64()
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case op.kind == reflect.String:
		if wt != fragments.LengthDelimited {
			return wireTypeErr(v.Type(), wt)
		}
		s, err := d.String()
		if err != nil {
			return err
		}
		v.SetString(s)
	case op.signed():
		i, err := d.Int(op.bits, op.format, wt)
		if err != nil {
			return fmt.Errorf("reading %s: %w", v.Type(), err)
		}
		v.SetInt(i)
	case op.unsigned():
		u, err := d.Uint(op.bits, wt)
		if err != nil {
			return fmt.Errorf("reading %s: %w", v.Type(), err)
		}
		v.SetUint(u)
	default:
		return fmt.Errorf("unhandled scalar kind %s", op.kind)
	}
	return nil
}

// scalarCodec returns the codec for the scalar type t in format f.
func (b *builder) scalarCodec(t reflect.Type, f DataFormat) *valueCodec {
	op := newScalarOp(t, f)
	ret := &valueCodec{
		typ:      t,
		wt:       op.wireType(),
		packable: op.kind != reflect.String,
		dec: func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
			return op.decode(d, wt, v)
		},
	}
	if b.compile {
		ret.enc = compileScalar(op)
	} else {
		ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return op.encode(e, v)
		}
	}
	return ret
}

// compileScalar returns an encoder specialized for op. Its output is
// identical to op.encode.
func compileScalar(op scalarOp) fragments.EncoderFunc {
	switch {
	case op.kind == reflect.Bool:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Bool(v.Bool())
		}
	case op.kind == reflect.Float32:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Float32(float32(v.Float()))
		}
	case op.kind == reflect.Float64:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Float64(v.Float())
		}
	case op.kind == reflect.String:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.String(v.String())
		}
	case op.signed() && op.format == FormatFixedSize && op.bits > 32:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Fixed64(uint64(v.Int()))
		}
	case op.signed() && op.format == FormatFixedSize:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Fixed32(uint32(v.Int()))
		}
	case op.signed() && op.format == FormatZigZag && op.bits > 32:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Varint(fragments.ZigZagEncode64(v.Int()))
		}
	case op.signed() && op.format == FormatZigZag:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Varint(uint64(fragments.ZigZagEncode32(int32(v.Int()))))
		}
	case op.signed():
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Varint(uint64(v.Int()))
		}
	case op.unsigned() && op.format == FormatFixedSize && op.bits > 32:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Fixed64(v.Uint())
		}
	case op.unsigned() && op.format == FormatFixedSize:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Fixed32(uint32(v.Uint()))
		}
	case op.unsigned():
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Varint(v.Uint())
		}
	}
	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		return op.encode(e, v)
	}
}

// intValue returns the integer in v, which must be of an integer
// kind.
func intValue(v reflect.Value) int64 {
	if v.CanInt() {
		return v.Int()
	}
	return int64(v.Uint())
}

// setIntValue stores i in v, which must be of an integer kind.
func setIntValue(v reflect.Value, i int64) {
	if v.CanInt() {
		v.SetInt(i)
	} else {
		v.SetUint(uint64(i))
	}
}

// enumCodec returns the codec for the named integer type t. Types
// with registered enum values are written as their int32 wire value,
// others as plain integers in format f.
func (b *builder) enumCodec(t reflect.Type, f DataFormat) *valueCodec {
	mt, err := b.m.MetaType(t)
	if err != nil {
		return b.scalarCodec(t, f)
	}
	if mt.enumPassthru() {
		return freezeOnUse(mt, b.scalarCodec(t, f))
	}
	return freezeOnUse(mt, &valueCodec{
		typ:      t,
		wt:       fragments.Varint,
		packable: true,
		enc: func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			iv := intValue(v)
			w, ok := mt.enumWire(iv)
			if !ok {
				return fmt.Errorf("%s value %d: %w", t, iv, ErrUnknownEnumValue)
			}
			return e.Int(int64(w), 32, FormatDefault)
		},
		dec: func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
			w, err := d.Int(32, FormatDefault, wt)
			if err != nil {
				return fmt.Errorf("reading %s: %w", t, err)
			}
			iv, ok := mt.enumValue(int32(w))
			if !ok {
				return fmt.Errorf("%s wire value %d: %w", t, w, ErrUnknownEnumValue)
			}
			setIntValue(v, iv)
			return nil
		},
	})
}

// freezeOnUse returns a copy of c that freezes mt the first time it
// encodes or decodes a value.
func freezeOnUse(mt *MetaType, c *valueCodec) *valueCodec {
	ret := *c
	if enc := c.enc; enc != nil {
		ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			if !mt.Frozen() {
				mt.freeze(ctx)
			}
			return enc(ctx, e, v)
		}
	}
	if dec := c.dec; dec != nil {
		ret.dec = func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
			if !mt.Frozen() {
				mt.freeze(ctx)
			}
			return dec(ctx, d, wt, v)
		}
	}
	return &ret
}
