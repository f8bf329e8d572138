package pbwire

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/danderson/pbwire/fragments"
)

// fieldState tracks one member while decoding a message.
type fieldState struct {
	// seen is set once the member's field has been read.
	seen bool
	// n is the number of collection elements read so far.
	n int
}

// memberCodec reads and writes one member of a message.
type memberCodec struct {
	mm  *MappedMember
	tag int

	get func(reflect.Value) reflect.Value
	ref func(reflect.Value) reflect.Value

	// write writes the member's value, including field tags.
	write fragments.EncoderFunc
	// read reads one occurrence of the member's field.
	read func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value, st *fieldState) error
	// omit reports whether a value is left out when encoding.
	omit func(reflect.Value) bool
	// def is the member's default value, if it has one.
	def reflect.Value
}

// denseTagLimit is the largest tag for which compiled messages use a
// slice instead of a map to find members.
const denseTagLimit = 1024

// messageCodec returns the codec for the struct type t.
func (b *builder) messageCodec(t reflect.Type) (*valueCodec, error) {
	mt, err := b.m.MetaType(t)
	if err != nil {
		return nil, err
	}
	ret := &valueCodec{
		typ:     t,
		wt:      fragments.LengthDelimited,
		message: true,
	}
	if !get(mt.Settings().PrefixLength) {
		ret.wt, ret.group = fragments.StartGroup, true
	}
	// Register before building members, for recursive types.
	b.remember(codecKey{t: t}, ret)

	members := mt.Members()
	mcs := make([]*memberCodec, 0, len(members))
	maxMemberTag := 0
	for _, mm := range members {
		mc, err := b.memberCodec(mm)
		if err != nil {
			return nil, err
		}
		mcs = append(mcs, mc)
		maxMemberTag = max(maxMemberTag, mc.tag)
	}
	find := memberIndex(mcs, b.compile && maxMemberTag <= denseTagLimit)

	ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		if !mt.Frozen() {
			mt.freeze(ctx)
		}
		for _, mc := range mcs {
			fv := mc.get(v)
			if mc.omit(fv) {
				continue
			}
			if err := mc.write(ctx, e, fv); err != nil {
				return fmt.Errorf("encoding %s: %w", mc.mm, err)
			}
		}
		return nil
	}
	ret.fields = func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
		if !mt.Frozen() {
			mt.freeze(ctx)
		}
		states := make([]fieldState, len(mcs))
		fn := func(field int, wt fragments.WireType) error {
			i, ok := find(field)
			if !ok {
				return d.Skip(field, wt)
			}
			mc := mcs[i]
			if err := mc.read(ctx, d, wt, mc.ref(v), &states[i]); err != nil {
				return fmt.Errorf("decoding %s: %w", mc.mm, err)
			}
			states[i].seen = true
			return nil
		}
		done := func() error {
			for i, mc := range mcs {
				if states[i].seen || !mc.def.IsValid() {
					continue
				}
				if fv := mc.ref(v); fv.CanSet() && fv.IsZero() {
					fv.Set(mc.def)
				}
			}
			return nil
		}
		return fn, done
	}
	return ret, nil
}

// memberIndex returns a function that maps tags to indexes in mcs.
func memberIndex(mcs []*memberCodec, dense bool) func(int) (int, bool) {
	if dense {
		idx := make([]int, 0, denseTagLimit+1)
		for i, mc := range mcs {
			for len(idx) <= mc.tag {
				idx = append(idx, -1)
			}
			idx[mc.tag] = i
		}
		return func(tag int) (int, bool) {
			if tag < 0 || tag >= len(idx) || idx[tag] < 0 {
				return 0, false
			}
			return idx[tag], true
		}
	}
	idx := make(map[int]int, len(mcs))
	for i, mc := range mcs {
		idx[mc.tag] = i
	}
	return func(tag int) (int, bool) {
		i, ok := idx[tag]
		return i, ok
	}
}

// memberCodec returns the codec for one member of a message.
func (b *builder) memberCodec(mm *MappedMember) (*memberCodec, error) {
	main := mm.Main()
	ls := memberLevels(mm)
	t := mm.Member.Type
	ret := &memberCodec{
		mm:  mm,
		tag: main.Tag,
		get: mm.Member.Get,
		ref: mm.Member.Ref,
	}

	if main.DefaultValue != nil {
		def, err := convertDefault(main.DefaultValue, t)
		if err != nil {
			return nil, TypeError{mm.owner.String(), fmt.Errorf("member %s: %w", mm.Member.Name, err)}
		}
		ret.def = def
	}
	ret.omit = b.omitter(t, main, ls.at(0), ret.def)

	if b.isMemberCollection(t, ls.at(0)) {
		cc, err := b.collection(t, ls, main.Tag)
		if err != nil {
			return nil, err
		}
		ret.write = cc.write
		ret.read = cc.read
		return ret, nil
	}

	c, err := b.codec(t, ls)
	if err != nil {
		return nil, err
	}
	ret.write = b.fieldWriter(main.Tag, c)
	ret.read = func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value, st *fieldState) error {
		return c.readField(ctx, d, main.Tag, wt, v)
	}
	return ret, nil
}

// omitter returns the function that decides whether a member value of
// type t is left out when encoding.
func (b *builder) omitter(t reflect.Type, main MemberMainSettings, l MemberLevelSettings, def reflect.Value) func(reflect.Value) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		return func(v reflect.Value) bool { return v.IsNil() }
	case reflect.Slice, reflect.Map:
		if !isBytes(t) {
			return func(v reflect.Value) bool { return v.Len() == 0 }
		}
	}
	if main.Required {
		return func(reflect.Value) bool { return false }
	}
	omit := b.m.omitDefaults
	if ld, ok := l.LegacyDefaults.GetOK(); ok {
		omit = ld
	}
	switch {
	case !omit:
		return func(reflect.Value) bool { return false }
	case def.IsValid():
		return func(v reflect.Value) bool { return v.Equal(def) }
	case isBytes(t) && t.Kind() == reflect.Slice:
		return func(v reflect.Value) bool { return v.Len() == 0 }
	}
	return func(v reflect.Value) bool { return v.IsZero() }
}

// convertDefault returns def as a value of type t. Strings are parsed
// according to t's kind, other values are converted.
func convertDefault(def any, t reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(def)
	if rv.Type() == t {
		return rv, nil
	}
	if !scalarKinds.Has(t.Kind()) {
		return reflect.Value{}, fmt.Errorf("default values are not supported for %s", t)
	}
	ret := reflect.New(t).Elem()
	if s, ok := def.(string); ok && t.Kind() != reflect.String {
		switch {
		case t.Kind() == reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return reflect.Value{}, err
			}
			ret.SetBool(b)
		case ret.CanInt():
			i, err := strconv.ParseInt(s, 0, intBits(t))
			if err != nil {
				return reflect.Value{}, err
			}
			ret.SetInt(i)
		case ret.CanUint():
			u, err := strconv.ParseUint(s, 0, intBits(t))
			if err != nil {
				return reflect.Value{}, err
			}
			ret.SetUint(u)
		case ret.CanFloat():
			f, err := strconv.ParseFloat(s, intBits(t))
			if err != nil {
				return reflect.Value{}, err
			}
			ret.SetFloat(f)
		}
		return ret, nil
	}
	if !rv.CanConvert(t) || (rv.Kind() == reflect.String) != (t.Kind() == reflect.String) {
		return reflect.Value{}, fmt.Errorf("default value %v (%T) cannot be used as %s", def, def, t)
	}
	return rv.Convert(t), nil
}

// compileFieldWriter returns a writer for field that emits a
// precomputed tag.
func compileFieldWriter(field int, c *valueCodec) fragments.EncoderFunc {
	switch {
	case c.group:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return e.Group(field, func() error { return c.enc(ctx, e, v) })
		}
	case c.message:
		tag := fragments.AppendTag(nil, field, fragments.LengthDelimited)
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			if err := e.Write(tag); err != nil {
				return err
			}
			return e.Message(func() error { return c.enc(ctx, e, v) })
		}
	}
	tag := fragments.AppendTag(nil, field, c.wt)
	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		if err := e.Write(tag); err != nil {
			return err
		}
		return c.enc(ctx, e, v)
	}
}
