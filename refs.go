package pbwire

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/creachadair/mds/value"
	"github.com/danderson/pbwire/fragments"
)

// Fields of the wrapper message written for values in reference or
// enhanced format, and for dynamically typed values.
const (
	wrapperExistingKey = 1
	wrapperNewKey      = 2
	wrapperTypeName    = 3
	wrapperPayload     = 10
)

// wrapper encodes values inside a wrapper message. An empty wrapper
// is a nil value.
type wrapper struct {
	m       *Model
	typ     reflect.Type
	ref     bool
	dynamic bool
	inner   levels

	// static is the payload codec when the payload type is known
	// ahead of time.
	static *valueCodec
	// dyn caches payload codecs of dynamically typed values.
	dyn cache[reflect.Type, *valueCodec]
}

// wrapperCodec returns the codec for values of type t framed in a
// wrapper message.
func (b *builder) wrapperCodec(t reflect.Type, ls levels, dynamic bool) (*valueCodec, error) {
	l := ls.at(0)
	il := l
	il.Format = value.Just(ValueCompact)
	il.DynamicType = value.Just(false)
	w := &wrapper{
		m:       b.m,
		typ:     t,
		ref:     get(l.Format) == ValueReference,
		dynamic: dynamic,
		inner:   append(levels{il}, ls.next()...),
	}
	if !dynamic {
		pt := t
		if w.ref && t.Kind() == reflect.Pointer {
			pt = t.Elem()
		}
		c, err := b.codec(pt, w.inner)
		if err != nil {
			return nil, err
		}
		w.static = c
	}
	return &valueCodec{
		typ:     t,
		wt:      fragments.LengthDelimited,
		message: true,
		nilSafe: true,
		enc:     w.write,
		fields:  w.fields,
	}, nil
}

// payload returns the codec for payloads of type t.
func (w *wrapper) payload(t reflect.Type) (*valueCodec, error) {
	if w.static != nil {
		if t != w.static.typ {
			return nil, typeErr(w.typ, "payload %s does not match %s", t, w.static.typ)
		}
		return w.static, nil
	}
	return w.dyn.GetOrSet(t, func() (*valueCodec, error) {
		return w.m.valueCodec(t, w.inner)
	})
}

func (w *wrapper) write(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
	val := v
	if w.dynamic {
		if v.IsNil() {
			return nil
		}
		val = v.Elem()
	}
	if isNil(val) {
		return nil
	}
	if w.dynamic {
		name, err := w.m.dynamicName(val.Type())
		if err != nil {
			return err
		}
		if err := e.Tag(wrapperTypeName, fragments.LengthDelimited); err != nil {
			return err
		}
		if err := e.String(name); err != nil {
			return err
		}
	}
	if w.ref && val.Kind() == reflect.Pointer {
		st := contextCallState(ctx)
		if st == nil {
			st = newCallState(w.m)
		}
		key, seen := st.objectKey(val)
		if seen {
			if err := e.Tag(wrapperExistingKey, fragments.Varint); err != nil {
				return err
			}
			return e.Varint(key)
		}
		if err := e.Tag(wrapperNewKey, fragments.Varint); err != nil {
			return err
		}
		if err := e.Varint(key); err != nil {
			return err
		}
		val = val.Elem()
	}
	c, err := w.payload(val.Type())
	if err != nil {
		return err
	}
	return c.writeField(ctx, e, wrapperPayload, val)
}

func (w *wrapper) fields(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
	st := contextCallState(ctx)
	if st == nil {
		st = newCallState(w.m)
	}
	var (
		rt  reflect.Type
		obj reflect.Value
	)
	// typ returns the type of the value being decoded.
	typ := func() (reflect.Type, error) {
		if !w.dynamic {
			return w.typ, nil
		}
		if rt == nil {
			return nil, typeErr(w.typ, "dynamic value has no type name")
		}
		return rt, nil
	}
	fn := func(field int, wt fragments.WireType) error {
		switch field {
		case wrapperTypeName:
			if wt != fragments.LengthDelimited {
				return fragments.WireTypeError{Field: field, Got: wt}
			}
			name, err := d.String()
			if err != nil {
				return err
			}
			if rt, err = w.m.dynamicType(name); err != nil {
				return err
			}
		case wrapperExistingKey:
			key, err := d.Varint()
			if err != nil {
				return err
			}
			o, ok := st.object(key)
			if !ok {
				return fmt.Errorf("key %d: %w", key, ErrUnknownReference)
			}
			obj = o
		case wrapperNewKey:
			key, err := d.Varint()
			if err != nil {
				return err
			}
			t, err := typ()
			if err != nil {
				return err
			}
			if t.Kind() != reflect.Pointer {
				return typeErr(t, "only pointers can be decoded as references")
			}
			obj = w.m.newValue(t.Elem())().Addr()
			st.addObject(key, obj)
		case wrapperPayload:
			if obj.IsValid() {
				c, err := w.payload(obj.Type().Elem())
				if err != nil {
					return err
				}
				return c.readField(ctx, d, field, wt, obj.Elem())
			}
			if !w.dynamic {
				target := v
				if w.static.typ != v.Type() {
					if v.IsNil() {
						v.Set(w.m.newValue(w.static.typ)().Addr())
					}
					target = v.Elem()
				}
				return w.static.readField(ctx, d, field, wt, target)
			}
			t, err := typ()
			if err != nil {
				return err
			}
			c, err := w.payload(t)
			if err != nil {
				return err
			}
			h := w.m.newValue(t)()
			if err := c.readField(ctx, d, field, wt, h); err != nil {
				return err
			}
			obj = h
		default:
			return d.Skip(field, wt)
		}
		return nil
	}
	done := func() error {
		if !obj.IsValid() {
			return nil
		}
		if !obj.Type().AssignableTo(v.Type()) {
			return typeErr(v.Type(), "cannot hold decoded %s", obj.Type())
		}
		v.Set(obj)
		return nil
	}
	return fn, done
}

// dynamicName returns the name written for a dynamically typed value
// of type t.
func (m *Model) dynamicName(t reflect.Type) (string, error) {
	if n, ok := builtinNames[t]; ok {
		return n, nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		n, err := m.dynamicName(t.Elem())
		return "*" + n, err
	case reflect.Slice:
		n, err := m.dynamicName(t.Elem())
		return "[]" + n, err
	}
	mt, err := m.MetaType(t)
	if err != nil {
		return "", err
	}
	return mt.Name(), nil
}

// dynamicType returns the type written as name by dynamicName.
func (m *Model) dynamicType(name string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(name, "*"):
		t, err := m.dynamicType(name[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(t), nil
	case strings.HasPrefix(name, "[]"):
		t, err := m.dynamicType(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(t), nil
	}
	if t, ok := builtinTypes[name]; ok {
		return t, nil
	}
	if t, ok := m.typeByName(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownTypeName)
}
