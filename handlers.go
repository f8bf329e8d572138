package pbwire

import (
	"reflect"

	"github.com/creachadair/mds/value"
	"github.com/danderson/pbwire/fragments"
)

// NativeHandler resolves members from [KindNative] records, such as
// those produced by "pb" struct tags.
type NativeHandler struct{}

func (NativeHandler) ResolveMember(st *MemberState) Result {
	return resolveRecords(st, KindNative)
}

// LegacyHandler resolves members from [KindLegacy] records, such as
// those produced by golang/protobuf "protobuf" struct tags.
type LegacyHandler struct{}

func (LegacyHandler) ResolveMember(st *MemberState) Result {
	return resolveRecords(st, KindLegacy)
}

// ImplicitHandler maps members that no other handler assigned a tag
// to, if the owning type has an implicit fields mode.
type ImplicitHandler struct{}

func (ImplicitHandler) ResolveMember(st *MemberState) Result {
	mode, _ := st.Type.Settings().ImplicitFields.GetOK()
	if mode == ImplicitNone || st.Tag() != TagUnset {
		return NotFound
	}
	st.MarkImplicit()
	return Partial
}

// resolveRecords applies the member records of the given kind to st.
func resolveRecords(st *MemberState, kind string) Result {
	ret := NotFound
	for _, r := range st.Records {
		if r.Kind() != kind {
			continue
		}
		ret = Partial
		if ign, _, err := attr[bool](r, KeyIgnore); err != nil {
			st.Fail(err)
		} else if ign {
			return Ignore
		}
		level, _, err := attr[int](r, KeyLevel)
		if err != nil {
			st.Fail(err)
			continue
		}
		if level == 0 {
			if tag, ok, err := attr[int](r, KeyTag); err != nil {
				st.Fail(err)
			} else if ok {
				st.SetTag(tag, true)
			}
			if name, ok, err := attr[string](r, KeyName); err != nil {
				st.Fail(err)
			} else if ok {
				st.SetName(name)
			}
			if req, ok, err := attr[bool](r, KeyRequired); err != nil {
				st.Fail(err)
			} else if ok {
				st.SetRequired(req)
			}
			if def, ok := r.TryGet(KeyDefault); ok && def != nil {
				st.SetDefault(def)
			}
		}
		st.MergeLevel(level, levelSettings(r, st.Fail))
	}
	if ret == Partial && st.Tag() != TagUnset {
		return Done
	}
	return ret
}

// maybeAttr returns the named key of r as a Maybe, reporting type
// mismatches to fail.
func maybeAttr[T any](r Attribute, name string, fail func(error)) value.Maybe[T] {
	v, ok, err := attr[T](r, name)
	if err != nil {
		fail(err)
		return value.Maybe[T]{}
	}
	if !ok {
		return value.Maybe[T]{}
	}
	return value.Just(v)
}

// levelSettings returns the member level settings in r.
func levelSettings(r Attribute, fail func(error)) MemberLevelSettings {
	ret := MemberLevelSettings{
		EffectiveType:  maybeAttr[reflect.Type](r, KeyEffectiveType, fail),
		Format:         maybeAttr[ValueFormat](r, KeyValueFormat, fail),
		LegacyDefaults: maybeAttr[bool](r, KeyLegacyDefaults, fail),
		DynamicType:    maybeAttr[bool](r, KeyDynamicType, fail),
		ContentFormat:  maybeAttr[DataFormat](r, KeyDataFormat, fail),
		Collection: CollectionSettings{
			Format:                maybeAttr[CollectionFormat](r, KeyCollectionFormat, fail),
			ConcreteType:          maybeAttr[reflect.Type](r, KeyConcreteType, fail),
			ItemType:              maybeAttr[reflect.Type](r, KeyItemType, fail),
			PackedWireTypeForRead: maybeAttr[fragments.WireType](r, KeyPackedWireType, fail),
			Append:                maybeAttr[bool](r, KeyAppend, fail),
			ArrayLengthReadLimit:  maybeAttr[int](r, KeyLengthLimit, fail),
		},
	}
	return ret
}

// NativeTypeHandler resolves types from [KindContract] records, such
// as the one produced by a [Contract] marker field, and declares
// subtypes from [KindInclude] records.
type NativeTypeHandler struct{}

func (NativeTypeHandler) ResolveType(st *TypeState) Result {
	ret := NotFound
	for _, r := range st.Records {
		switch r.Kind() {
		case KindContract:
			ret = Partial
			st.Apply(TypeSettings{
				Name:               maybeAttr[string](r, KeyName, st.Fail),
				EnumPassthru:       maybeAttr[bool](r, KeyEnumPassthru, st.Fail),
				SkipConstructor:    maybeAttr[bool](r, KeySkipConstructor, st.Fail),
				IgnoreListHandling: maybeAttr[bool](r, KeyIgnoreListHandling, st.Fail),
				PrefixLength:       maybeAttr[bool](r, KeyPrefixLength, st.Fail),
				ConstructType:      maybeAttr[reflect.Type](r, KeyConstructType, st.Fail),
				AutoTuple:          maybeAttr[bool](r, KeyAutoTuple, st.Fail),
				ImplicitFields:     maybeAttr[ImplicitFields](r, KeyImplicitFields, st.Fail),
				ImplicitFirstTag:   maybeAttr[int](r, KeyImplicitFirstTag, st.Fail),
				InferTagFromName:   maybeAttr[bool](r, KeyInferTagFromName, st.Fail),
				Member:             levelSettings(r, st.Fail),
			})
		case KindInclude:
			ret = Partial
			tag, _, err := attr[int](r, KeyTag)
			if err != nil {
				st.Fail(err)
				continue
			}
			t, _, err := attr[reflect.Type](r, KeyType)
			if err != nil {
				st.Fail(err)
				continue
			}
			if t == nil {
				st.Fail(typeErr(st.Type, "include record for tag %d has no type", tag))
				continue
			}
			st.AddSubtype(tag, t)
		}
	}
	return ret
}

// DefaultTypeHandler applies model-wide fallbacks to every type.
// It only fills settings that no earlier handler set.
type DefaultTypeHandler struct {
	// ImplicitFields is the implicit fields mode of types that don't
	// choose one.
	ImplicitFields ImplicitFields
	// ImplicitFirstTag, if positive, is the first implicit tag of
	// types that don't choose one.
	ImplicitFirstTag int
}

func (h DefaultTypeHandler) ResolveType(st *TypeState) Result {
	var ts TypeSettings
	if h.ImplicitFields != ImplicitNone {
		ts.ImplicitFields = value.Just(h.ImplicitFields)
	}
	if h.ImplicitFirstTag > 0 {
		ts.ImplicitFirstTag = value.Just(h.ImplicitFirstTag)
	}
	st.Apply(ts)
	return Partial
}
