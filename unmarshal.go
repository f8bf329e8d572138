package pbwire

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/danderson/pbwire/fragments"
)

// Unmarshal decodes the protobuf wire encoding in bs into the value
// pointed to by v, using the default model.
func Unmarshal(bs []byte, v any) error {
	return Default().Unmarshal(bs, v)
}

// Unmarshal decodes the protobuf wire encoding in bs into the value
// pointed to by v. If v is nil or not a pointer, Unmarshal returns an
// error.
//
// Generally, Unmarshal applies the inverse of the rules used by
// [Model.Marshal]. Decoding merges into the existing value: fields
// absent from bs leave the corresponding members unchanged, except
// that members with a default value that are still zero are set to
// their default. The first occurrence of a collection member's field
// replaces the collection's contents, unless the member's Append
// setting is true. Later occurrences add to it.
//
// Fields whose tag matches no member are skipped. Unmarshal allocates
// nil pointers as needed. If an encountered value implements
// [Unmarshaler], Unmarshal calls UnmarshalPB for each of its fields.
// New instances of types implementing [Initializer] have InitPB
// called on them, unless the type's SkipConstructor setting is true.
func (m *Model) Unmarshal(bs []byte, v any) error {
	if v == nil {
		return errors.New("cannot unmarshal into nil interface")
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer {
		return fmt.Errorf("cannot unmarshal into non-pointer %s", val.Type())
	}
	if val.IsNil() {
		return fmt.Errorf("cannot unmarshal into nil %s", val.Type())
	}
	d := fragments.Decoder{
		In:       bs,
		MaxDepth: m.maxDepth,
	}
	return m.unmarshal(context.Background(), &d, val.Elem())
}

// unmarshal reads the top-level value of d into v.
func (m *Model) unmarshal(ctx context.Context, d *fragments.Decoder, v reflect.Value) error {
	c, err := m.rootCodec(v.Type())
	if err != nil {
		return err
	}
	ctx = withCallState(ctx, newCallState(m))
	if c.message {
		fn, done := c.fields(ctx, d, v)
		if err := d.Fields(fn); err != nil {
			return err
		}
		return done()
	}
	return d.Fields(func(field int, wt fragments.WireType) error {
		if field != 1 {
			return d.Skip(field, wt)
		}
		return c.readField(ctx, d, field, wt, v)
	})
}
