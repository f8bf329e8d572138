package pbwire

import (
	"context"
	"fmt"
	"reflect"

	"github.com/creachadair/mds/value"
	"github.com/danderson/pbwire/fragments"
)

// Marshaler is the interface implemented by types that can write
// themselves as the fields of a protobuf message.
type Marshaler interface {
	MarshalPB(ctx context.Context, e *fragments.Encoder) error
}

// Unmarshaler is the interface implemented by types that can read
// themselves from the fields of a protobuf message.
//
// UnmarshalPB is called once per field, with the decoder positioned
// just after the field's tag. It must consume the field's payload,
// for example with [fragments.Decoder.Skip].
type Unmarshaler interface {
	UnmarshalPB(ctx context.Context, d *fragments.Decoder, field int, wt fragments.WireType) error
}

// Initializer is the interface implemented by types that need setup
// when allocated during decoding. InitPB is called on every new
// instance, unless the type's SkipConstructor setting is true.
type Initializer interface {
	InitPB()
}

var (
	marshalerType   = reflect.TypeFor[Marshaler]()
	unmarshalerType = reflect.TypeFor[Unmarshaler]()
	initializerType = reflect.TypeFor[Initializer]()
)

// isCustom reports whether t encodes itself.
func isCustom(t reflect.Type) bool {
	if t.Kind() == reflect.Interface || t.Kind() == reflect.Pointer {
		return false
	}
	pt := reflect.PointerTo(t)
	return pt.Implements(marshalerType) || pt.Implements(unmarshalerType)
}

// decodeFunc reads a non-message value that was written with wire
// type wt into v.
type decodeFunc func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error

// fieldsFunc returns the field reader for the message value v, and a
// function to call once all of the message's fields are read.
type fieldsFunc func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error)

// A valueCodec reads and writes values of one type with fixed
// settings.
//
// Message values are written as a list of fields by enc, and framed
// by the caller either as a length-delimited field or as a group.
// Other values are written by enc as a single field payload of wire
// type wt.
type valueCodec struct {
	typ reflect.Type
	wt  fragments.WireType

	message bool
	group   bool
	// packable values can appear in a packed run.
	packable bool
	// nilSafe codecs can write nil values.
	nilSafe bool

	enc    fragments.EncoderFunc
	dec    decodeFunc
	fields fieldsFunc
}

// writeField writes v as field.
func (c *valueCodec) writeField(ctx context.Context, e *fragments.Encoder, field int, v reflect.Value) error {
	switch {
	case c.group:
		return e.Group(field, func() error { return c.enc(ctx, e, v) })
	case c.message:
		if err := e.Tag(field, fragments.LengthDelimited); err != nil {
			return err
		}
		return e.Message(func() error { return c.enc(ctx, e, v) })
	}
	if err := e.Tag(field, c.wt); err != nil {
		return err
	}
	return c.enc(ctx, e, v)
}

// readField reads the payload of field, of wire type wt, into v.
// Message values accept both length-delimited and group framing.
func (c *valueCodec) readField(ctx context.Context, d *fragments.Decoder, field int, wt fragments.WireType, v reflect.Value) error {
	if !c.message {
		return c.dec(ctx, d, wt, v)
	}
	fn, done := c.fields(ctx, d, v)
	var err error
	switch wt {
	case fragments.LengthDelimited:
		err = d.Message(fn)
	case fragments.StartGroup:
		err = d.Group(field, fn)
	default:
		return fragments.WireTypeError{Field: field, Got: wt}
	}
	if err != nil {
		return err
	}
	return done()
}

// levels is a stack of member level settings: levels[0] configures a
// value, levels[1] its elements, and so on.
type levels []MemberLevelSettings

func (ls levels) at(i int) MemberLevelSettings {
	if i < len(ls) {
		return ls[i]
	}
	return MemberLevelSettings{}
}

func (ls levels) next() levels {
	if len(ls) == 0 {
		return nil
	}
	return ls[1:]
}

// memberLevels returns the level stack of a mapped member.
func memberLevels(mm *MappedMember) levels {
	ret := make(levels, mm.Depth())
	for i := range ret {
		ret[i] = mm.Level(i)
	}
	return ret
}

// codecKey identifies a cached codec. Only codecs whose encoding is
// fully determined by their type and one level of settings are
// cached.
type codecKey struct {
	t reflect.Type
	l MemberLevelSettings
}

// builder assembles codecs for a model. It is used with the model's
// buildMu held.
type builder struct {
	m       *Model
	compile bool
	added   []codecKey
}

func (m *Model) newBuilder() *builder {
	return &builder{m: m, compile: m.compile}
}

// abort forgets the codecs cached by a failed build, some of which
// may be incomplete.
func (b *builder) abort() {
	for _, k := range b.added {
		delete(b.m.built, k)
	}
	b.added = nil
}

func (b *builder) cached(k codecKey) (*valueCodec, bool) {
	c, ok := b.m.built[k]
	return c, ok
}

// remember caches c under k. It must be called before building any
// codec that might refer back to c.
func (b *builder) remember(k codecKey, c *valueCodec) {
	b.m.built[k] = c
	b.added = append(b.added, k)
}

// rootCodec returns the codec for top-level values of type t.
func (m *Model) rootCodec(t reflect.Type) (*valueCodec, error) {
	if c, err := m.roots.Get(t); err != errNotFound {
		return c, err
	}
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	if c, err := m.roots.Get(t); err != errNotFound {
		return c, err
	}
	b := m.newBuilder()
	c, err := b.codec(t, nil)
	if err != nil {
		b.abort()
		m.log.Debug().Str("type", t.String()).Err(err).Msg("serializer build failed")
		return nil, err
	}
	m.roots.Set(t, c)
	m.log.Debug().Str("type", t.String()).Int("codecs", len(b.added)).Bool("compiled", b.compile).Msg("serializer built")
	emitSerializerBuilt(context.Background(), t.String(), len(b.added), b.compile)
	return c, nil
}

// valueCodec returns a codec for values of type t with the given
// settings, building it if needed.
func (m *Model) valueCodec(t reflect.Type, ls levels) (*valueCodec, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	b := m.newBuilder()
	c, err := b.codec(t, ls)
	if err != nil {
		b.abort()
		return nil, err
	}
	return c, nil
}

// codec returns the codec for values of type t, configured by ls.
func (b *builder) codec(t reflect.Type, ls levels) (*valueCodec, error) {
	l := b.typeDefaults(t, ls.at(0))
	if len(ls) > 0 || !l.IsZero() {
		ls = append(levels{l}, ls.next()...)
	}

	if et, ok := l.EffectiveType.GetOK(); ok && et != nil && et != t {
		inner := l
		inner.EffectiveType = value.Maybe[reflect.Type]{}
		c, err := b.codec(et, append(levels{inner}, ls.next()...))
		if err != nil {
			return nil, err
		}
		return adaptCodec(t, c)
	}

	dynamic := t.Kind() == reflect.Interface && (get(l.DynamicType) || t.NumMethod() == 0)
	if get(l.Format).wrapped() || dynamic {
		return b.wrapperCodec(t, ls, dynamic)
	}

	switch {
	case t.Kind() == reflect.Pointer:
		return b.ptrCodec(t, ls)
	case isCustom(t):
		return b.cachedCodec(codecKey{t: t}, func() (*valueCodec, error) { return b.customCodec(t) })
	case t == timeType:
		return timestampCodec(), nil
	case t == durationType:
		return durationCodec(), nil
	case t == uuidType:
		return uuidCodec(), nil
	case isBytes(t):
		return bytesCodec(t), nil
	case isCollection(t) && !b.ignoreListHandling(t):
		return b.nestedCollectionCodec(t, ls)
	case t.Kind() == reflect.Interface:
		return b.cachedCodec(codecKey{t: t}, func() (*valueCodec, error) { return b.polyCodec(t) })
	case t.Kind() == reflect.Struct:
		return b.cachedCodec(codecKey{t: t}, func() (*valueCodec, error) { return b.messageCodec(t) })
	case scalarKinds.Has(t.Kind()):
		f := get(l.ContentFormat)
		k := codecKey{t: t, l: MemberLevelSettings{ContentFormat: value.Just(f)}}
		if isEnumType(t) {
			return b.cachedCodec(k, func() (*valueCodec, error) { return b.enumCodec(t, f), nil })
		}
		return b.cachedCodec(k, func() (*valueCodec, error) { return b.scalarCodec(t, f), nil })
	case isCollection(t):
		return nil, typeErr(t, "collection handling is disabled and the type does not implement Marshaler")
	}
	return nil, typeErr(t, "no known mapping")
}

// cachedCodec returns the codec cached under k, or builds and caches
// it with mk. Codecs that refer back to themselves must call
// b.remember before recursing, see messageCodec.
func (b *builder) cachedCodec(k codecKey, mk func() (*valueCodec, error)) (*valueCodec, error) {
	if c, ok := b.cached(k); ok {
		return c, nil
	}
	c, err := mk()
	if err != nil {
		return nil, err
	}
	if _, ok := b.cached(k); !ok {
		b.remember(k, c)
	}
	return c, nil
}

// typeDefaults merges the type-wide member defaults of t's MetaType,
// if any, under l.
func (b *builder) typeDefaults(t reflect.Type, l MemberLevelSettings) MemberLevelSettings {
	if st := schemaTypes(t); len(st) != 1 || st[0] != derefType(t) {
		return l
	}
	mt, err := b.m.MetaType(t)
	if err != nil {
		return l
	}
	return Merge(mt.Settings().Member, l)
}

// ignoreListHandling reports whether the collection type t opted out
// of collection handling.
func (b *builder) ignoreListHandling(t reflect.Type) bool {
	if t.Name() == "" {
		return false
	}
	ts, err := b.m.resolveType(t)
	if err != nil {
		return false
	}
	return get(ts.Settings().IgnoreListHandling)
}

func (b *builder) newValue(t reflect.Type) func() reflect.Value {
	return b.m.newValue(t)
}

// newValue returns a function that allocates a new addressable value
// of type t, initialized according to t's settings.
func (m *Model) newValue(t reflect.Type) func() reflect.Value {
	init := reflect.PointerTo(t).Implements(initializerType)
	if init {
		if mt := m.lookup(t); mt != nil && get(mt.Settings().SkipConstructor) {
			init = false
		}
	}
	acc := m.accessor
	return func() reflect.Value {
		p := acc.New(t)
		if init {
			p.Interface().(Initializer).InitPB()
		}
		return p.Elem()
	}
}

// fieldWriter returns a function that writes values as field, using
// codec c.
func (b *builder) fieldWriter(field int, c *valueCodec) fragments.EncoderFunc {
	if !b.compile {
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			return c.writeField(ctx, e, field, v)
		}
	}
	return compileFieldWriter(field, c)
}

// ptrCodec returns the codec for the pointer type t. Nil pointers
// must be handled by the caller, except when writing a top-level
// value.
func (b *builder) ptrCodec(t reflect.Type, ls levels) (*valueCodec, error) {
	inner, err := b.codec(t.Elem(), ls)
	if err != nil {
		return nil, err
	}
	alloc := b.newValue(t.Elem())
	ret := &valueCodec{
		typ:      t,
		wt:       inner.wt,
		message:  inner.message,
		group:    inner.group,
		packable: inner.packable,
		enc: func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			if v.IsNil() {
				return nil
			}
			return inner.enc(ctx, e, v.Elem())
		},
	}
	ensure := func(v reflect.Value) reflect.Value {
		if v.IsNil() {
			v.Set(alloc().Addr())
		}
		return v.Elem()
	}
	ret.dec = func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
		return inner.dec(ctx, d, wt, ensure(v))
	}
	ret.fields = func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
		return inner.fields(ctx, d, ensure(v))
	}
	return ret, nil
}

// customCodec returns the codec for a type that implements Marshaler
// or Unmarshaler.
func (b *builder) customCodec(t reflect.Type) (*valueCodec, error) {
	pt := reflect.PointerTo(t)
	canMarshal := pt.Implements(marshalerType)
	canUnmarshal := pt.Implements(unmarshalerType)
	ret := &valueCodec{
		typ:     t,
		wt:      fragments.LengthDelimited,
		message: true,
	}
	if mt, err := b.m.MetaType(t); err == nil && !get(mt.Settings().PrefixLength) {
		ret.wt, ret.group = fragments.StartGroup, true
	}
	ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		if !canMarshal {
			return typeErr(t, "does not implement Marshaler")
		}
		if v.CanAddr() {
			return v.Addr().Interface().(Marshaler).MarshalPB(ctx, e)
		}
		if t.Implements(marshalerType) {
			return v.Interface().(Marshaler).MarshalPB(ctx, e)
		}
		p := reflect.New(t)
		p.Elem().Set(v)
		return p.Interface().(Marshaler).MarshalPB(ctx, e)
	}
	ret.fields = func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
		if !canUnmarshal {
			return func(int, fragments.WireType) error {
				return typeErr(t, "does not implement Unmarshaler")
			}, noop
		}
		u := v.Addr().Interface().(Unmarshaler)
		return func(field int, wt fragments.WireType) error {
			return u.UnmarshalPB(ctx, d, field, wt)
		}, noop
	}
	return ret, nil
}

func noop() error { return nil }

// adaptCodec returns a codec for values of type t, encoded by c as
// values of type c.typ. t must be an interface implemented by c.typ,
// or convertible to and from c.typ.
func adaptCodec(t reflect.Type, c *valueCodec) (*valueCodec, error) {
	u := c.typ
	var to, from func(reflect.Value) (reflect.Value, error)
	switch {
	case t.Kind() == reflect.Interface && u.Implements(t):
		to = func(v reflect.Value) (reflect.Value, error) {
			if v.IsNil() || v.Elem().Type() != u {
				return reflect.Value{}, typeErr(t, "value of type %s cannot be encoded as %s", v.Elem().Type(), u)
			}
			return v.Elem(), nil
		}
		from = func(v reflect.Value) (reflect.Value, error) { return v, nil }
	case t.ConvertibleTo(u) && u.ConvertibleTo(t):
		to = func(v reflect.Value) (reflect.Value, error) { return v.Convert(u), nil }
		from = func(v reflect.Value) (reflect.Value, error) { return v.Convert(t), nil }
	default:
		return nil, typeErr(t, "cannot be encoded as %s", u)
	}

	// holder returns an addressable copy of v as a u.
	holder := func(v reflect.Value) reflect.Value {
		h := reflect.New(u).Elem()
		if cur, err := to(v); err == nil {
			h.Set(cur)
		}
		return h
	}
	ret := &valueCodec{
		typ:      t,
		wt:       c.wt,
		message:  c.message,
		group:    c.group,
		packable: c.packable,
		nilSafe:  c.nilSafe,
		enc: func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			cv, err := to(v)
			if err != nil {
				return err
			}
			return c.enc(ctx, e, cv)
		},
		dec: func(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value) error {
			h := holder(v)
			if err := c.dec(ctx, d, wt, h); err != nil {
				return err
			}
			out, err := from(h)
			if err != nil {
				return err
			}
			v.Set(out)
			return nil
		},
		fields: func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
			h := holder(v)
			fn, done := c.fields(ctx, d, h)
			return fn, func() error {
				if err := done(); err != nil {
					return err
				}
				out, err := from(h)
				if err != nil {
					return err
				}
				v.Set(out)
				return nil
			}
		},
	}
	return ret, nil
}

// wireTypeErr returns the error for reading a value of type t from a
// field of wire type wt.
func wireTypeErr(t reflect.Type, wt fragments.WireType) error {
	return fmt.Errorf("reading %s: %w", t, fragments.WireTypeError{Got: wt})
}
