package fragments

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the input ends in the middle of
	// a value.
	ErrTruncated = errors.New("truncated input")
	// ErrMalformedVarint is returned for varints longer than
	// [MaxVarintLen] bytes.
	ErrMalformedVarint = errors.New("malformed varint")
	// ErrOverflow is returned when a decoded value does not fit in
	// its destination.
	ErrOverflow = errors.New("value overflows destination")
	// ErrUnexpectedEndGroup is returned for an EndGroup tag that does
	// not close the innermost open group.
	ErrUnexpectedEndGroup = errors.New("unexpected end group")
	// ErrRecursionLimit is returned when messages nest deeper than the
	// configured maximum depth.
	ErrRecursionLimit = errors.New("recursion limit exceeded")
	// ErrSizeLimit is returned when output would exceed the
	// configured maximum size.
	ErrSizeLimit = errors.New("size limit exceeded")
	// ErrInvalidTag is returned for tags with an out of range field
	// number or an undefined wire type.
	ErrInvalidTag = errors.New("invalid tag")
)

// errVarintTooLong is both malformed and an overflow: no 64-bit value
// needs more than 10 groups.
var errVarintTooLong = fmt.Errorf("%w: more than %d bytes: %w", ErrMalformedVarint, MaxVarintLen, ErrOverflow)

// OverflowError is the error returned when a decoded value does not
// fit in a Bits-wide destination.
type OverflowError struct {
	Value uint64
	Bits  int
}

func (e OverflowError) Error() string {
	return fmt.Sprintf("value %d overflows %d-bit destination", e.Value, e.Bits)
}

func (e OverflowError) Unwrap() error { return ErrOverflow }

// EndGroupError is the error returned when an EndGroup tag does not
// match the innermost open group. Want is zero if no group was open.
type EndGroupError struct {
	Want, Got int
}

func (e EndGroupError) Error() string {
	if e.Want == 0 {
		return fmt.Sprintf("end group for field %d outside any group", e.Got)
	}
	return fmt.Sprintf("end group for field %d inside group for field %d", e.Got, e.Want)
}

func (e EndGroupError) Unwrap() error { return ErrUnexpectedEndGroup }

// SizeLimitError is the error returned when writing would take the
// output past its maximum size.
type SizeLimitError struct {
	Length int
	Limit  int
}

func (e SizeLimitError) Error() string {
	return fmt.Sprintf("length %d exceeds constrained size of %d bytes", e.Length, e.Limit)
}

func (e SizeLimitError) Unwrap() error { return ErrSizeLimit }

// TagError is the error returned for a tag that cannot be encoded or
// was malformed in the input.
type TagError struct {
	Field    int
	WireType WireType
}

func (e TagError) Error() string {
	if !e.WireType.Valid() {
		return fmt.Sprintf("field %d has undefined wire type %d", e.Field, uint8(e.WireType))
	}
	return fmt.Sprintf("field number %d out of range [%d,%d]", e.Field, MinFieldNumber, MaxFieldNumber)
}

func (e TagError) Unwrap() error { return ErrInvalidTag }

// WireTypeError is the error returned when a field's wire type is not
// one its reader accepts.
type WireTypeError struct {
	Field int
	Got   WireType
}

func (e WireTypeError) Error() string {
	return fmt.Sprintf("field %d: unexpected wire type %s", e.Field, e.Got)
}
