package pbwire

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/danderson/pbwire/fragments"
)

// maxTag is the largest valid field number.
const maxTag = fragments.MaxFieldNumber

// IsReservedTag reports whether tag is in the field number range
// reserved by the protobuf implementation.
func IsReservedTag(tag int) bool {
	return fragments.IsReservedFieldNumber(tag)
}

// A Subtype is a type that can stand in for an interface type on the
// wire. Its values are written as a nested message under Tag.
type Subtype struct {
	Tag  int
	Type reflect.Type
}

// A MetaType is a type known to a [Model], with its resolved settings.
//
// A MetaType is one of: a struct type encoded as a message, an
// interface type with subtypes, or a named integer type with enum
// values. Its settings can be changed until its serializer is first
// used.
type MetaType struct {
	// Type is the Go type described.
	Type reflect.Type

	model  *Model
	mu     sync.Mutex
	frozen atomic.Bool

	settings   TypeSettings
	custom     bool
	members    []*MappedMember
	subtypes   []Subtype
	enumToWire map[int64]int32
	wireToEnum map[int32]int64
}

func (mt *MetaType) String() string { return mt.Type.String() }

// Name returns the type's name in schemas and dynamic type wrappers.
func (mt *MetaType) Name() string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return get(mt.settings.Name)
}

// Settings returns the type's resolved settings.
func (mt *MetaType) Settings() TypeSettings {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.settings
}

// Members returns the type's mapped members in tag order.
func (mt *MetaType) Members() []*MappedMember {
	mt.mu.Lock()
	ret := slices.Clone(mt.members)
	mt.mu.Unlock()
	slices.SortStableFunc(ret, func(a, b *MappedMember) int {
		return cmp.Compare(a.Tag(), b.Tag())
	})
	return ret
}

// Member returns the mapped member with the given Go name, or nil.
func (mt *MetaType) Member(name string) *MappedMember {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for _, m := range mt.members {
		if m.Member.Name == name {
			return m
		}
	}
	return nil
}

// Subtypes returns the type's subtypes in tag order.
func (mt *MetaType) Subtypes() []Subtype {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return slices.Clone(mt.subtypes)
}

// Custom reports whether the type encodes itself by implementing
// [Marshaler] and [Unmarshaler].
func (mt *MetaType) Custom() bool { return mt.custom }

// IsEnum reports whether the type is an integer type with registered
// enum values.
func (mt *MetaType) IsEnum() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return len(mt.enumToWire) > 0
}

// EnumValues returns the type's enum values, mapped to their wire
// values.
func (mt *MetaType) EnumValues() map[int64]int32 {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return maps.Clone(mt.enumToWire)
}

// enumPassthru reports whether enum values are written as their
// underlying integer.
func (mt *MetaType) enumPassthru() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if v, ok := mt.settings.EnumPassthru.GetOK(); ok {
		return v
	}
	return len(mt.enumToWire) == 0
}

// Frozen reports whether the type's settings can no longer change.
func (mt *MetaType) Frozen() bool { return mt.frozen.Load() }

// SetSettings replaces the type's settings.
func (mt *MetaType) SetSettings(ts TypeSettings) error {
	ts = ts.WithDefaults(mt.Type)
	mt.mu.Lock()
	if ts == mt.settings {
		mt.mu.Unlock()
		return nil
	}
	if mt.frozen.Load() {
		mt.mu.Unlock()
		return FrozenSettingError{Member: mt.String(), Setting: "TypeSettings", Old: mt.settings, New: ts}
	}
	mt.settings = ts
	mt.mu.Unlock()
	mt.changed()
	return nil
}

// AddSubtype declares t as a subtype of the interface type mt, written
// under the given tag.
func (mt *MetaType) AddSubtype(tag int, t reflect.Type) error {
	mt.mu.Lock()
	for _, st := range mt.subtypes {
		if st.Tag == tag && st.Type == t {
			mt.mu.Unlock()
			return nil
		}
	}
	if mt.frozen.Load() {
		mt.mu.Unlock()
		return FrozenSettingError{Member: mt.String(), Setting: "Subtypes", Old: nil, New: Subtype{tag, t}}
	}
	subs, err := addSubtype(mt.Type, mt.subtypes, Subtype{tag, t})
	if err != nil {
		mt.mu.Unlock()
		return err
	}
	mt.subtypes = subs
	mt.mu.Unlock()
	mt.changed()
	return nil
}

// AddEnumValue maps the enum value v, which must be of the type mt, to
// the given wire value.
func (mt *MetaType) AddEnumValue(v any, wire int32) error {
	rv := reflect.ValueOf(v)
	if rv.Type() != mt.Type || !isEnumType(mt.Type) {
		return typeErr(mt.Type, "cannot add enum value %v of type %T", v, v)
	}
	var iv int64
	if rv.CanInt() {
		iv = rv.Int()
	} else {
		iv = int64(rv.Uint())
	}

	mt.mu.Lock()
	if w, ok := mt.enumToWire[iv]; ok && w == wire {
		mt.mu.Unlock()
		return nil
	}
	if mt.frozen.Load() {
		mt.mu.Unlock()
		return FrozenSettingError{Member: mt.String(), Setting: "EnumValues", Old: nil, New: v}
	}
	if prev, ok := mt.wireToEnum[wire]; ok && prev != iv {
		mt.mu.Unlock()
		return typeErr(mt.Type, "wire value %d used by both %v and %v", wire, prev, iv)
	}
	if mt.enumToWire == nil {
		mt.enumToWire = map[int64]int32{}
		mt.wireToEnum = map[int32]int64{}
	}
	if old, ok := mt.enumToWire[iv]; ok {
		delete(mt.wireToEnum, old)
	}
	mt.enumToWire[iv] = wire
	mt.wireToEnum[wire] = iv
	mt.mu.Unlock()
	mt.changed()
	return nil
}

// enumWire returns the wire value of the enum value iv.
func (mt *MetaType) enumWire(iv int64) (int32, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	w, ok := mt.enumToWire[iv]
	return w, ok
}

// enumValue returns the enum value of the wire value w.
func (mt *MetaType) enumValue(w int32) (int64, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	v, ok := mt.wireToEnum[w]
	return v, ok
}

// freeze marks the type and its members as used. Later changes to
// different values fail.
func (mt *MetaType) freeze(ctx context.Context) {
	mt.mu.Lock()
	if !mt.frozen.CompareAndSwap(false, true) {
		mt.mu.Unlock()
		return
	}
	members := mt.members
	mt.mu.Unlock()
	for _, m := range members {
		m.freeze()
	}
	mt.model.log.Debug().Str("type", mt.String()).Int("members", len(members)).Msg("settings frozen")
	emitSettingsFrozen(ctx, mt.String(), len(members))
}

// changed is called after a setting of the type or one of its
// members changes.
func (mt *MetaType) changed() {
	if mt.model != nil {
		mt.model.invalidate(mt)
	}
}

// checkMemberTagLocked verifies that tag is usable by member m of the
// type. mt.mu must be held.
func (mt *MetaType) checkMemberTagLocked(m *MappedMember, tag int) error {
	if err := checkTag(m.String(), tag); err != nil {
		return err
	}
	for _, o := range mt.members {
		if o != m && o.main.Tag == tag {
			return ConflictingTagError{Tag: tag, First: o.String(), Second: m.String()}
		}
	}
	return nil
}

// validateMembers checks that the members of t have valid, distinct
// tags.
func validateMembers(t reflect.Type, members []*MappedMember) error {
	byTag := map[int]*MappedMember{}
	for _, m := range members {
		tag := m.main.Tag
		if err := checkTag(m.String(), tag); err != nil {
			return TypeError{t.String(), err}
		}
		if prev, ok := byTag[tag]; ok {
			return TypeError{t.String(), ConflictingTagError{Tag: tag, First: prev.String(), Second: m.String()}}
		}
		byTag[tag] = m
	}
	return nil
}

// addSubtype returns subs with sub added in tag order, or an error if
// sub cannot be a subtype of base.
func addSubtype(base reflect.Type, subs []Subtype, sub Subtype) ([]Subtype, error) {
	if sub.Type == nil {
		return nil, typeErr(base, "subtype with tag %d has no type", sub.Tag)
	}
	if IsReservedTag(sub.Tag) {
		return nil, TypeError{base.String(), fmt.Errorf("subtype %s: %w", sub.Type, ErrReservedTag)}
	}
	if sub.Tag < 1 || sub.Tag > maxTag {
		return nil, TypeError{base.String(), InvalidTagError{Member: sub.Type.String(), Tag: sub.Tag}}
	}
	if base.Kind() != reflect.Interface || sub.Type == base || !sub.Type.AssignableTo(base) {
		return nil, TypeError{base.String(), UnknownSubtypeError{Base: base.String(), Tag: sub.Tag, Type: sub.Type.String()}}
	}
	for _, o := range subs {
		if o.Tag == sub.Tag {
			return nil, TypeError{base.String(), ConflictingTagError{Tag: sub.Tag, First: o.Type.String(), Second: sub.Type.String()}}
		}
		if o.Type == sub.Type {
			return nil, typeErr(base, "subtype %s declared with tags %d and %d", sub.Type, o.Tag, sub.Tag)
		}
	}
	ret := append(slices.Clone(subs), sub)
	slices.SortFunc(ret, func(a, b Subtype) int { return cmp.Compare(a.Tag, b.Tag) })
	return ret, nil
}
