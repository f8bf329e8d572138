package pbwire

import (
	"reflect"

	"github.com/creachadair/mds/value"
	"github.com/danderson/pbwire/fragments"
)

// CollectionSettings configures the collection handling of one
// nesting level of a member. Every field is optional.
type CollectionSettings struct {
	// Format is the element framing.
	Format value.Maybe[CollectionFormat]
	// ConcreteType is the collection type to allocate when the
	// declared type is an interface.
	ConcreteType value.Maybe[reflect.Type]
	// ItemType overrides the element type used to pick the element
	// encoding.
	ItemType value.Maybe[reflect.Type]
	// PackedWireTypeForRead is the wire type of elements found in a
	// packed run when decoding. It defaults to the wire type the
	// element would be written with.
	PackedWireTypeForRead value.Maybe[fragments.WireType]
	// Append makes decoding add to an existing collection instead of
	// replacing it.
	Append value.Maybe[bool]
	// ArrayLengthReadLimit caps the number of elements accepted when
	// decoding. Zero means no limit.
	ArrayLengthReadLimit value.Maybe[int]
}

// MemberLevelSettings configures one nesting level of a member: level
// 0 is the member itself, level 1 the elements of a collection
// member, and so on. Every field is optional.
type MemberLevelSettings struct {
	// EffectiveType overrides the declared type used to pick the
	// encoding.
	EffectiveType value.Maybe[reflect.Type]
	// Format is the value framing.
	Format value.Maybe[ValueFormat]
	// LegacyDefaults omits values equal to the member's default (or
	// the zero value) when encoding.
	LegacyDefaults value.Maybe[bool]
	// DynamicType writes the runtime type name of interface values,
	// so that any registered type can be decoded.
	DynamicType value.Maybe[bool]
	// ContentFormat is the integer encoding.
	ContentFormat value.Maybe[DataFormat]
	// Collection configures collection handling.
	Collection CollectionSettings
}

func override[T any](base, derived value.Maybe[T]) value.Maybe[T] {
	if derived.Present() {
		return derived
	}
	return base
}

func orDefault[T any](m value.Maybe[T]) value.Maybe[T] {
	if m.Present() {
		return m
	}
	var zero T
	return value.Just(zero)
}

// MergeCollection returns base with every field set in derived
// replaced by derived's value.
func MergeCollection(base, derived CollectionSettings) CollectionSettings {
	return CollectionSettings{
		Format:                override(base.Format, derived.Format),
		ConcreteType:          override(base.ConcreteType, derived.ConcreteType),
		ItemType:              override(base.ItemType, derived.ItemType),
		PackedWireTypeForRead: override(base.PackedWireTypeForRead, derived.PackedWireTypeForRead),
		Append:                override(base.Append, derived.Append),
		ArrayLengthReadLimit:  override(base.ArrayLengthReadLimit, derived.ArrayLengthReadLimit),
	}
}

// Merge returns base with every field set in derived replaced by
// derived's value.
func Merge(base, derived MemberLevelSettings) MemberLevelSettings {
	return MemberLevelSettings{
		EffectiveType:  override(base.EffectiveType, derived.EffectiveType),
		Format:         override(base.Format, derived.Format),
		LegacyDefaults: override(base.LegacyDefaults, derived.LegacyDefaults),
		DynamicType:    override(base.DynamicType, derived.DynamicType),
		ContentFormat:  override(base.ContentFormat, derived.ContentFormat),
		Collection:     MergeCollection(base.Collection, derived.Collection),
	}
}

// WithDefaults returns s with every unset field set to its zero
// value. EffectiveType, ConcreteType, ItemType and
// PackedWireTypeForRead stay unset, as they have no meaningful zero.
func (s MemberLevelSettings) WithDefaults() MemberLevelSettings {
	s.Format = orDefault(s.Format)
	s.LegacyDefaults = orDefault(s.LegacyDefaults)
	s.DynamicType = orDefault(s.DynamicType)
	s.ContentFormat = orDefault(s.ContentFormat)
	s.Collection.Format = orDefault(s.Collection.Format)
	s.Collection.Append = orDefault(s.Collection.Append)
	s.Collection.ArrayLengthReadLimit = orDefault(s.Collection.ArrayLengthReadLimit)
	return s
}

// IsZero reports whether no field of s is set.
func (s MemberLevelSettings) IsZero() bool {
	return s == MemberLevelSettings{}
}

// get returns the value in m, or the zero value.
func get[T any](m value.Maybe[T]) T {
	v, _ := m.GetOK()
	return v
}

// MemberSettings is the per-level settings of a member.
type MemberSettings struct {
	levels []MemberLevelSettings
}

// Level returns the settings for nesting level i. Levels that were
// never set return empty settings.
func (s *MemberSettings) Level(i int) MemberLevelSettings {
	if i < 0 || i >= len(s.levels) {
		return MemberLevelSettings{}
	}
	return s.levels[i]
}

// SetLevel replaces the settings for nesting level i.
func (s *MemberSettings) SetLevel(i int, l MemberLevelSettings) {
	if i < 0 {
		panic("negative member settings level")
	}
	for len(s.levels) <= i {
		s.levels = append(s.levels, MemberLevelSettings{})
	}
	s.levels[i] = l
}

// Depth returns the number of levels that have been set.
func (s *MemberSettings) Depth() int { return len(s.levels) }

// clone returns a deep copy of s.
func (s MemberSettings) clone() MemberSettings {
	return MemberSettings{levels: append([]MemberLevelSettings(nil), s.levels...)}
}
