package pbwire

import (
	"errors"
	"fmt"
	"reflect"
)

// TypeError is the error returned when a type cannot be represented
// in the protobuf wire format, or its configuration is invalid.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("pbwire cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

var (
	// ErrNoSerializableMembers is returned for struct types that have
	// fields, none of which are mapped to a tag.
	ErrNoSerializableMembers = errors.New("no serializable members")
	// ErrReservedTag is returned for members or subtypes that use a
	// tag in the reserved range.
	ErrReservedTag = errors.New("tag is in the reserved range 19000-19999")
	// ErrUnknownTypeName is returned when decoding a dynamically
	// typed value whose type name is not registered with the model.
	ErrUnknownTypeName = errors.New("unknown dynamic type name")
	// ErrUnknownReference is returned when decoding a reference to an
	// object that was not previously decoded.
	ErrUnknownReference = errors.New("reference to unknown object")
	// ErrNilElement is returned when encoding a nil collection
	// element in a format that cannot represent it.
	ErrNilElement = errors.New("nil element in collection")
	// ErrUnknownEnumValue is returned for enum values with no wire
	// mapping.
	ErrUnknownEnumValue = errors.New("unknown enum value")
	// ErrNotRegistered is returned for types used with a model that
	// doesn't add types automatically, before they are added.
	ErrNotRegistered = errors.New("type not registered with the model")
	// ErrModelFrozen is returned when adding a type to a frozen
	// model.
	ErrModelFrozen = errors.New("model is frozen")
	// ErrArrayLengthLimit is returned when decoding more collection
	// elements than the member's read limit allows.
	ErrArrayLengthLimit = errors.New("collection length exceeds read limit")
)

// ConflictingTagError is the error returned when two members of a
// type, or two subtypes of an interface, use the same tag.
type ConflictingTagError struct {
	Tag           int
	First, Second string
}

func (e ConflictingTagError) Error() string {
	return fmt.Sprintf("tag %d used by both %s and %s", e.Tag, e.First, e.Second)
}

// UnknownSubtypeError is the error returned for a subtype that cannot
// be assigned to its declared base type, for values whose runtime
// type is not a declared subtype, and in strict mode for include tags
// that don't match any declared subtype.
type UnknownSubtypeError struct {
	Base string
	Tag  int
	Type string
}

func (e UnknownSubtypeError) Error() string {
	switch {
	case e.Type == "":
		return fmt.Sprintf("tag %d is not a known subtype of %s", e.Tag, e.Base)
	case e.Tag == 0:
		return fmt.Sprintf("%s is not a declared subtype of %s", e.Type, e.Base)
	default:
		return fmt.Sprintf("subtype %s (tag %d) is not assignable to %s", e.Type, e.Tag, e.Base)
	}
}

// InvalidTagError is the error returned for a forced tag that is not
// a valid field number.
type InvalidTagError struct {
	Member string
	Tag    int
}

func (e InvalidTagError) Error() string {
	return fmt.Sprintf("member %s has invalid tag %d", e.Member, e.Tag)
}

// FrozenSettingError is the error returned when a member setting is
// changed after the member's serializer has been used.
type FrozenSettingError struct {
	Member   string
	Setting  string
	Old, New any
}

func (e FrozenSettingError) Error() string {
	return fmt.Sprintf("cannot change %s of %s from %v to %v: settings are frozen once the serializer has been used", e.Setting, e.Member, e.Old, e.New)
}
