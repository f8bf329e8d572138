package pbwire

import (
	"context"
	"reflect"
	"time"

	"github.com/danderson/pbwire/fragments"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// secondsNanos is the layout shared by time.Time and time.Duration:
// field 1 is whole seconds, field 2 the remaining nanoseconds. Fields
// holding zero are omitted.
func writeSecondsNanos(e *fragments.Encoder, secs int64, nanos int32) error {
	if secs != 0 {
		if err := e.Tag(1, fragments.Varint); err != nil {
			return err
		}
		if err := e.Int(secs, 64, FormatDefault); err != nil {
			return err
		}
	}
	if nanos != 0 {
		if err := e.Tag(2, fragments.Varint); err != nil {
			return err
		}
		if err := e.Int(int64(nanos), 32, FormatDefault); err != nil {
			return err
		}
	}
	return nil
}

// readSecondsNanos returns a field reader that fills secs and nanos.
func readSecondsNanos(d *fragments.Decoder, secs *int64, nanos *int32) fragments.FieldFunc {
	return func(field int, wt fragments.WireType) error {
		switch field {
		case 1:
			v, err := d.Int(64, FormatDefault, wt)
			if err != nil {
				return err
			}
			*secs = v
		case 2:
			v, err := d.Int(32, FormatDefault, wt)
			if err != nil {
				return err
			}
			*nanos = int32(v)
		default:
			return d.Skip(field, wt)
		}
		return nil
	}
}

// timestampCodec encodes time.Time like google.protobuf.Timestamp.
func timestampCodec() *valueCodec {
	return &valueCodec{
		typ:     timeType,
		wt:      fragments.LengthDelimited,
		message: true,
		enc: func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			t := v.Interface().(time.Time)
			if t.IsZero() {
				return nil
			}
			return writeSecondsNanos(e, t.Unix(), int32(t.Nanosecond()))
		},
		fields: func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
			var (
				secs  int64
				nanos int32
			)
			return readSecondsNanos(d, &secs, &nanos), func() error {
				if secs == 0 && nanos == 0 {
					v.Set(reflect.ValueOf(time.Time{}))
					return nil
				}
				v.Set(reflect.ValueOf(time.Unix(secs, int64(nanos)).UTC()))
				return nil
			}
		},
	}
}

// durationCodec encodes time.Duration like
// google.protobuf.Duration.
func durationCodec() *valueCodec {
	return &valueCodec{
		typ:     durationType,
		wt:      fragments.LengthDelimited,
		message: true,
		enc: func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			d := time.Duration(v.Int())
			return writeSecondsNanos(e, int64(d/time.Second), int32(d%time.Second))
		},
		fields: func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
			var (
				secs  int64
				nanos int32
			)
			return readSecondsNanos(d, &secs, &nanos), func() error {
				v.SetInt(int64(time.Duration(secs)*time.Second + time.Duration(nanos)))
				return nil
			}
		},
	}
}

// uuidCodec encodes uuid.UUID as two fixed64 halves: field 1 holds
// bytes 0-7 and field 2 bytes 8-15, each little-endian.
func uuidCodec() *valueCodec {
	return &valueCodec{
		typ:     uuidType,
		wt:      fragments.LengthDelimited,
		message: true,
		enc: func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			u := v.Interface().(uuid.UUID)
			for i, half := range [][]byte{u[:8], u[8:]} {
				n, _ := protowire.ConsumeFixed64(half)
				if n == 0 {
					continue
				}
				if err := e.Tag(i+1, fragments.Fixed64); err != nil {
					return err
				}
				if err := e.Fixed64(n); err != nil {
					return err
				}
			}
			return nil
		},
		fields: func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
			var u uuid.UUID
			fn := func(field int, wt fragments.WireType) error {
				if (field != 1 && field != 2) || wt != fragments.Fixed64 {
					return d.Skip(field, wt)
				}
				n, err := d.Fixed64()
				if err != nil {
					return err
				}
				// Appending to an empty slice of u writes into u.
				off := (field - 1) * 8
				protowire.AppendFixed64(u[off:off], n)
				return nil
			}
			return fn, func() error {
				v.Set(reflect.ValueOf(u))
				return nil
			}
		},
	}
}

// bytesCodec returns the codec for byte slices and arrays.
func bytesCodec(t reflect.Type) *valueCodec {
	ret := &valueCodec{
		typ: t,
		wt:  fragments.LengthDelimited,
		dec: func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
			if wt != fragments.LengthDelimited {
				return wireTypeErr(t, wt)
			}
			bs, err := d.Bytes()
			if err != nil {
				return err
			}
			if t.Kind() == reflect.Array {
				if len(bs) != t.Len() {
					return typeErr(t, "cannot decode %d bytes into %d-byte array", len(bs), t.Len())
				}
				reflect.Copy(v, reflect.ValueOf(bs))
				return nil
			}
			v.Set(reflect.ValueOf(append([]byte{}, bs...)).Convert(t))
			return nil
		},
	}
	if t.Kind() == reflect.Array {
		ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			bs := make([]byte, t.Len())
			reflect.Copy(reflect.ValueOf(bs), v)
			return e.Bytes(bs)
		}
	} else {
		ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Bytes(v.Bytes())
		}
	}
	return ret
}
