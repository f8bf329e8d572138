package pbwire

import (
	"context"
	"reflect"

	"github.com/danderson/pbwire/fragments"
)

// subCodec encodes one subtype of an interface.
type subCodec struct {
	tag   int
	typ   reflect.Type
	c     *valueCodec
	write fragments.EncoderFunc
}

// polyCodec returns the codec for the interface type t, whose values
// are written as a message holding the value's subtype under the
// subtype's tag. Values of t's ConstructType are written inline, as
// the fields of the message itself.
func (b *builder) polyCodec(t reflect.Type) (*valueCodec, error) {
	mt, err := b.m.MetaType(t)
	if err != nil {
		return nil, err
	}
	ts := mt.Settings()
	ret := &valueCodec{
		typ:     t,
		wt:      fragments.LengthDelimited,
		message: true,
	}
	if !get(ts.PrefixLength) {
		ret.wt, ret.group = fragments.StartGroup, true
	}
	b.remember(codecKey{t: t}, ret)

	subs := mt.Subtypes()
	scs := make([]subCodec, 0, len(subs))
	byTag := make(map[int]int, len(subs))
	for _, sub := range subs {
		c, err := b.codec(sub.Type, nil)
		if err != nil {
			return nil, err
		}
		byTag[sub.Tag] = len(scs)
		scs = append(scs, subCodec{
			tag:   sub.Tag,
			typ:   sub.Type,
			c:     c,
			write: b.fieldWriter(sub.Tag, c),
		})
	}

	var (
		base    *valueCodec
		newBase func() reflect.Value
	)
	if ct, ok := ts.ConstructType.GetOK(); ok && ct != nil {
		if !ct.Implements(t) {
			return nil, typeErr(t, "construct type %s does not implement %s", ct, t)
		}
		if base, err = b.codec(ct, nil); err != nil {
			return nil, err
		}
		if !base.message {
			return nil, typeErr(t, "construct type %s is not encoded as a message", ct)
		}
		newBase = b.newValue(ct)
	}

	const baseIdx = -1
	var matches cache[reflect.Type, int]
	match := func(rt reflect.Type) (int, error) {
		return matches.GetOrSet(rt, func() (int, error) {
			for i, sc := range scs {
				if sc.typ == rt || (sc.typ.Kind() == reflect.Interface && rt.Implements(sc.typ)) {
					return i, nil
				}
			}
			if base != nil && rt == base.typ {
				return baseIdx, nil
			}
			return 0, UnknownSubtypeError{Base: t.String(), Type: rt.String()}
		})
	}

	ret.enc = func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		if !mt.Frozen() {
			mt.freeze(ctx)
		}
		if v.IsNil() {
			return nil
		}
		rv := v.Elem()
		i, err := match(rv.Type())
		if err != nil {
			return err
		}
		if i == baseIdx {
			return base.enc(ctx, e, rv)
		}
		sc := scs[i]
		if sc.typ.Kind() == reflect.Interface {
			h := reflect.New(sc.typ).Elem()
			h.Set(rv)
			rv = h
		}
		return sc.write(ctx, e, rv)
	}

	strict := b.m.strict
	ret.fields = func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
		if !mt.Frozen() {
			mt.freeze(ctx)
		}
		var (
			set      bool
			baseVal  reflect.Value
			baseFn   fragments.FieldFunc
			baseDone func() error
		)
		startBase := func() {
			baseVal = newBase()
			if !v.IsNil() && v.Elem().Type() == base.typ {
				baseVal.Set(v.Elem())
			}
			baseFn, baseDone = base.fields(ctx, d, baseVal)
		}
		fn := func(field int, wt fragments.WireType) error {
			if i, ok := byTag[field]; ok {
				sc := scs[i]
				h := reflect.New(sc.typ).Elem()
				if !v.IsNil() && v.Elem().Type() == sc.typ {
					h.Set(v.Elem())
				}
				if err := sc.c.readField(ctx, d, field, wt, h); err != nil {
					return err
				}
				if h.Kind() == reflect.Interface {
					if !h.IsNil() {
						v.Set(h.Elem())
					}
				} else {
					v.Set(h)
				}
				set = true
				return nil
			}
			if base != nil {
				if baseFn == nil {
					startBase()
				}
				return baseFn(field, wt)
			}
			if strict {
				return UnknownSubtypeError{Base: t.String(), Tag: field}
			}
			return d.Skip(field, wt)
		}
		done := func() error {
			if set || base == nil {
				return nil
			}
			if baseFn == nil {
				startBase()
			}
			if err := baseDone(); err != nil {
				return err
			}
			v.Set(baseVal)
			return nil
		}
		return fn, done
	}
	return ret, nil
}
