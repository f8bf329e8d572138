package pbwire

import (
	"reflect"

	"github.com/creachadair/mds/value"
)

// TypeSettings are the settings of a type. Every field is optional.
type TypeSettings struct {
	// Name is the type's name in schemas and dynamic type
	// wrappers. It defaults to the Go type name.
	Name value.Maybe[string]
	// EnumPassthru encodes enum values as their underlying integer,
	// instead of through the registered value mapping.
	EnumPassthru value.Maybe[bool]
	// SkipConstructor skips calling InitPB on new instances of types
	// that implement [Initializer].
	SkipConstructor value.Maybe[bool]
	// IgnoreListHandling makes the type ineligible for collection
	// handling.
	IgnoreListHandling value.Maybe[bool]
	// PrefixLength frames the type as a length-delimited message
	// when nested. If false, it is framed as a group.
	PrefixLength value.Maybe[bool]
	// ConstructType is the concrete type to allocate when decoding
	// into an interface of this type with no other type information.
	ConstructType value.Maybe[reflect.Type]
	// AutoTuple numbers the exported fields of a type with no
	// configured members in declaration order.
	AutoTuple value.Maybe[bool]
	// ImplicitFields selects how members without explicit
	// configuration are mapped.
	ImplicitFields value.Maybe[ImplicitFields]
	// ImplicitFirstTag is the first tag assigned to implicit and
	// name-inferred members.
	ImplicitFirstTag value.Maybe[int]
	// InferTagFromName assigns tags by name order to members that
	// are configured without one.
	InferTagFromName value.Maybe[bool]
	// Member holds defaults for every member whose type is this
	// type.
	Member MemberLevelSettings
}

// MergeType returns base with every field set in derived replaced by
// derived's value.
func MergeType(base, derived TypeSettings) TypeSettings {
	return TypeSettings{
		Name:               override(base.Name, derived.Name),
		EnumPassthru:       override(base.EnumPassthru, derived.EnumPassthru),
		SkipConstructor:    override(base.SkipConstructor, derived.SkipConstructor),
		IgnoreListHandling: override(base.IgnoreListHandling, derived.IgnoreListHandling),
		PrefixLength:       override(base.PrefixLength, derived.PrefixLength),
		ConstructType:      override(base.ConstructType, derived.ConstructType),
		AutoTuple:          override(base.AutoTuple, derived.AutoTuple),
		ImplicitFields:     override(base.ImplicitFields, derived.ImplicitFields),
		ImplicitFirstTag:   override(base.ImplicitFirstTag, derived.ImplicitFirstTag),
		InferTagFromName:   override(base.InferTagFromName, derived.InferTagFromName),
		Member:             Merge(base.Member, derived.Member),
	}
}

// WithDefaults returns s with unset fields set to their default.
// EnumPassthru is left alone, its default depends on whether the type
// has enum values.
func (s TypeSettings) WithDefaults(t reflect.Type) TypeSettings {
	if !s.Name.Present() {
		s.Name = value.Just(t.String())
	}
	if !s.PrefixLength.Present() {
		s.PrefixLength = value.Just(true)
	}
	if !s.ImplicitFirstTag.Present() {
		s.ImplicitFirstTag = value.Just(1)
	}
	s.SkipConstructor = orDefault(s.SkipConstructor)
	s.IgnoreListHandling = orDefault(s.IgnoreListHandling)
	s.AutoTuple = orDefault(s.AutoTuple)
	s.ImplicitFields = orDefault(s.ImplicitFields)
	s.InferTagFromName = orDefault(s.InferTagFromName)
	return s
}
