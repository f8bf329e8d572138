package pbwire

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/danderson/pbwire/fragments"
)

// SizeLimitError is the error returned when an encoding exceeds its
// size limit.
type SizeLimitError = fragments.SizeLimitError

// MarshalOptions configures a single Marshal call.
type MarshalOptions struct {
	// MaxSize, if positive, is the maximum size in bytes of the
	// encoding. Encodings that would exceed it fail with a
	// [SizeLimitError].
	MaxSize int
}

// Marshal returns the protobuf wire encoding of v, using the default
// model.
func Marshal(v any) ([]byte, error) {
	return Default().Marshal(v)
}

// Marshal returns the protobuf wire encoding of v.
//
// Marshal traverses the value v recursively. If an encountered value
// implements [Marshaler], Marshal calls MarshalPB on it to produce
// the fields of its message.
//
// Otherwise, Marshal uses the following type-dependent encodings:
//
// Structs encode as messages. Each mapped member is written as one
// field under its tag, in tag order. Members holding their default
// value are omitted, unless the model was created with
// [WithImplicitZeroDefaults](false), or the member is required. Nil
// pointers and interfaces are always omitted.
//
// bool, integers, floats and strings encode as the corresponding
// protobuf scalar. The member's [DataFormat] selects the integer
// encoding. Named integer types with registered enum values encode as
// their int32 wire value.
//
// []byte and [N]byte encode as protobuf bytes. [time.Time],
// [time.Duration] and [uuid.UUID] encode as messages compatible with
// google.protobuf.Timestamp, google.protobuf.Duration and a pair of
// fixed64 halves, respectively.
//
// Slices and arrays encode as repeated fields, packed if the member's
// [CollectionFormat] asks for it and the elements are scalars. Maps
// encode as repeated entry messages with the key in field 1 and the
// value in field 2, in key order.
//
// Interface values encode as a message holding the value under the
// tag of its declared [Subtype]. Values of type any, and interface
// members with the DynamicType setting, encode in a wrapper message
// carrying the value's type name.
//
// v itself must not be nil. If v is a struct, a pointer to a struct,
// or a collection, its fields are written at the top level of the
// encoding. Any other value is written as field 1.
func (m *Model) Marshal(v any) ([]byte, error) {
	return m.MarshalAppend(nil, v, MarshalOptions{})
}

// MarshalAppend appends the protobuf wire encoding of v to bs, as
// described in [Model.Marshal].
func (m *Model) MarshalAppend(bs []byte, v any, opts MarshalOptions) ([]byte, error) {
	e := fragments.Encoder{
		Out:      bs,
		MaxSize:  opts.MaxSize,
		MaxDepth: m.maxDepth,
	}
	if err := m.marshal(context.Background(), &e, v); err != nil {
		return bs, err
	}
	return e.Out, nil
}

// Measure returns the size in bytes of the encoding of v, without
// producing it. If abortAfter is positive and the encoding is longer
// than abortAfter bytes, Measure returns a [SizeLimitError] carrying
// the full length.
func (m *Model) Measure(v any, abortAfter int) (int, error) {
	e := fragments.Encoder{
		MaxDepth:  m.maxDepth,
		CountOnly: true,
	}
	if err := m.marshal(context.Background(), &e, v); err != nil {
		return 0, err
	}
	n := e.Position()
	if abortAfter > 0 && n > abortAfter {
		return n, SizeLimitError{Length: n, Limit: abortAfter}
	}
	return n, nil
}

// marshal writes v to e as a top-level value.
func (m *Model) marshal(ctx context.Context, e *fragments.Encoder, v any) error {
	if v == nil {
		return errors.New("cannot marshal nil value")
	}
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer && val.IsNil() {
		return fmt.Errorf("cannot marshal nil %s", val.Type())
	}
	c, err := m.rootCodec(val.Type())
	if err != nil {
		return err
	}
	ctx = withCallState(ctx, newCallState(m))
	if c.message {
		return c.enc(ctx, e, val)
	}
	return c.writeField(ctx, e, 1, val)
}
