package pbwire

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/danderson/pbwire/fragments"
)

// collCodec reads and writes a collection as repeated occurrences of
// one field.
type collCodec struct {
	// declared is the declared type, typ the collection type
	// encoded. They differ when declared is an interface.
	declared reflect.Type
	typ      reflect.Type
	field    int

	// Slices and arrays.
	elem      *valueCodec
	elemWrite fragments.EncoderFunc
	newElem   func() reflect.Value
	packed    bool
	readWT    fragments.WireType

	// Maps.
	key, val *valueCodec
	keyWrite fragments.EncoderFunc
	valWrite fragments.EncoderFunc
	newVal   func() reflect.Value
	keyCmp   func(a, b reflect.Value) int

	appendTo bool
	limit    int
}

// isMemberCollection reports whether a member of type t, configured
// by l, is encoded as a collection.
func (b *builder) isMemberCollection(t reflect.Type, l MemberLevelSettings) bool {
	if t.Kind() == reflect.Interface {
		ct, ok := l.Collection.ConcreteType.GetOK()
		return ok && ct != nil && isCollection(ct)
	}
	return isCollection(t) && !b.ignoreListHandling(t)
}

// collection returns the codec for collections of type t written as
// field. ls[0] configures the collection and ls[1:] its elements.
func (b *builder) collection(t reflect.Type, ls levels, field int) (*collCodec, error) {
	l := ls.at(0)
	cs := l.Collection
	ct := t
	if t.Kind() == reflect.Interface {
		ct = get(cs.ConcreteType)
		if ct == nil || !ct.Implements(t) {
			return nil, typeErr(t, "concrete collection type %v does not implement %s", ct, t)
		}
	}
	cc := &collCodec{
		declared: t,
		typ:      ct,
		field:    field,
		appendTo: get(cs.Append),
		limit:    get(cs.ArrayLengthReadLimit),
	}
	next := ls.next()

	if ct.Kind() == reflect.Map {
		if !mapKeyKinds.Has(ct.Key().Kind()) {
			return nil, typeErr(ct, "map key type %s is not an integer, bool or string", ct.Key())
		}
		key, err := b.codec(ct.Key(), nil)
		if err != nil {
			return nil, err
		}
		val, err := b.codec(ct.Elem(), next)
		if err != nil {
			return nil, err
		}
		cc.key, cc.val = key, val
		cc.keyWrite = b.fieldWriter(1, key)
		cc.valWrite = b.fieldWriter(2, val)
		cc.newVal = b.newValue(ct.Elem())
		cc.keyCmp = mapKeyCmp(ct.Key())
		return cc, nil
	}

	et := ct.Elem()
	var (
		elem *valueCodec
		err  error
	)
	if it, ok := cs.ItemType.GetOK(); ok && it != nil && it != et {
		elem, err = b.codec(it, next)
		if err == nil {
			elem, err = adaptCodec(et, elem)
		}
	} else {
		elem, err = b.codec(et, next)
	}
	if err != nil {
		return nil, err
	}
	cc.elem = elem
	cc.elemWrite = b.fieldWriter(field, elem)
	cc.newElem = b.newValue(et)
	cc.packed = get(cs.Format) == CollectionPacked && elem.packable
	cc.readWT = elem.wt
	if wt, ok := cs.PackedWireTypeForRead.GetOK(); ok {
		cc.readWT = wt
	}
	return cc, nil
}

// concrete returns the collection held by v, which is nil if the
// declared interface holds nothing.
func (cc *collCodec) concrete(v reflect.Value) (reflect.Value, error) {
	if cc.declared.Kind() != reflect.Interface {
		return v, nil
	}
	if v.IsNil() {
		return reflect.Value{}, nil
	}
	if v.Elem().Type() != cc.typ {
		return reflect.Value{}, typeErr(cc.declared, "holds %s, want %s", v.Elem().Type(), cc.typ)
	}
	return v.Elem(), nil
}

func (cc *collCodec) write(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
	v, err := cc.concrete(v)
	if err != nil || !v.IsValid() {
		return err
	}
	if cc.key != nil {
		return cc.writeMap(ctx, e, v)
	}
	n := v.Len()
	if n == 0 {
		return nil
	}
	if cc.packed {
		if err := e.Tag(cc.field, fragments.LengthDelimited); err != nil {
			return err
		}
		return e.Packed(func() error {
			for i := range n {
				if err := cc.elem.enc(ctx, e, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for i := range n {
		ev := v.Index(i)
		if isNil(ev) && !cc.elem.nilSafe {
			return fmt.Errorf("element %d of %s: %w", i, cc.typ, ErrNilElement)
		}
		if err := cc.elemWrite(ctx, e, ev); err != nil {
			return err
		}
	}
	return nil
}

// writeMap writes one entry message per key, in key order. Entries
// with a nil value are written with only a key.
func (cc *collCodec) writeMap(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
	keys := v.MapKeys()
	slices.SortFunc(keys, cc.keyCmp)
	for _, k := range keys {
		mv := v.MapIndex(k)
		if err := e.Tag(cc.field, fragments.LengthDelimited); err != nil {
			return err
		}
		err := e.Message(func() error {
			if err := cc.keyWrite(ctx, e, k); err != nil {
				return err
			}
			if isNil(mv) && !cc.val.nilSafe {
				return nil
			}
			return cc.valWrite(ctx, e, mv)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// read reads one occurrence of the collection's field into v.
func (cc *collCodec) read(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value, st *fieldState) error {
	if cc.declared.Kind() == reflect.Interface {
		h := reflect.New(cc.typ).Elem()
		if !v.IsNil() && v.Elem().Type() == cc.typ {
			h.Set(v.Elem())
		}
		if err := cc.read1(ctx, d, wt, h, st); err != nil {
			return err
		}
		v.Set(h)
		return nil
	}
	return cc.read1(ctx, d, wt, v, st)
}

func (cc *collCodec) read1(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value, st *fieldState) error {
	if !st.seen && !cc.appendTo {
		switch v.Kind() {
		case reflect.Map:
			v.Set(reflect.MakeMap(cc.typ))
		default:
			v.SetZero()
		}
	}
	if cc.key != nil {
		return cc.readEntry(ctx, d, wt, v, st)
	}
	if wt == fragments.LengthDelimited && cc.elem.packable {
		return d.Packed(func() error {
			return cc.readElem(ctx, d, cc.readWT, v, st)
		})
	}
	return cc.readElem(ctx, d, wt, v, st)
}

func (cc *collCodec) checkLimit(st *fieldState) error {
	if cc.limit > 0 && st.n >= cc.limit {
		return fmt.Errorf("%s: more than %d elements: %w", cc.typ, cc.limit, ErrArrayLengthLimit)
	}
	return nil
}

func (cc *collCodec) readElem(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value, st *fieldState) error {
	if err := cc.checkLimit(st); err != nil {
		return err
	}
	if v.Kind() == reflect.Array {
		if st.n >= v.Len() {
			return typeErr(cc.typ, "more than %d elements", v.Len())
		}
		if err := cc.elem.readField(ctx, d, cc.field, wt, v.Index(st.n)); err != nil {
			return err
		}
		st.n++
		return nil
	}
	ev := cc.newElem()
	if err := cc.elem.readField(ctx, d, cc.field, wt, ev); err != nil {
		return err
	}
	v.Set(reflect.Append(v, ev))
	st.n++
	return nil
}

func (cc *collCodec) readEntry(ctx context.Context, d *fragments.Decoder, wt fragments.WireType, v reflect.Value, st *fieldState) error {
	if err := cc.checkLimit(st); err != nil {
		return err
	}
	k := reflect.New(cc.typ.Key()).Elem()
	mv := cc.newVal()
	fn := func(field int, wt fragments.WireType) error {
		switch field {
		case 1:
			return cc.key.readField(ctx, d, field, wt, k)
		case 2:
			return cc.val.readField(ctx, d, field, wt, mv)
		}
		return d.Skip(field, wt)
	}
	var err error
	switch wt {
	case fragments.LengthDelimited:
		err = d.Message(fn)
	case fragments.StartGroup:
		err = d.Group(cc.field, fn)
	default:
		return fragments.WireTypeError{Field: cc.field, Got: wt}
	}
	if err != nil {
		return err
	}
	if v.IsNil() {
		v.Set(reflect.MakeMap(cc.typ))
	}
	v.SetMapIndex(k, mv)
	st.n++
	return nil
}

// nestedCollectionCodec returns the codec for a collection that is
// not itself a member, such as the element of another collection or
// a top-level value. It is written as a message with the collection
// in field 1.
func (b *builder) nestedCollectionCodec(t reflect.Type, ls levels) (*valueCodec, error) {
	cc, err := b.collection(t, ls, 1)
	if err != nil {
		return nil, err
	}
	return &valueCodec{
		typ:     t,
		wt:      fragments.LengthDelimited,
		message: true,
		enc:     cc.write,
		fields: func(ctx context.Context, d *fragments.Decoder, v reflect.Value) (fragments.FieldFunc, func() error) {
			var st fieldState
			fn := func(field int, wt fragments.WireType) error {
				if field != 1 {
					return d.Skip(field, wt)
				}
				if err := cc.read(ctx, d, wt, v, &st); err != nil {
					return err
				}
				st.seen = true
				return nil
			}
			return fn, noop
		},
	}, nil
}

// isNil reports whether v is a nil pointer or interface.
func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}
