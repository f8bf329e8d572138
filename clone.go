package pbwire

import (
	"errors"
	"reflect"
)

// DeepClone returns a deep copy of v, made by encoding and decoding
// it. The copy has the same type as v. Only state that survives a
// round trip through the wire format is copied.
func (m *Model) DeepClone(v any) (any, error) {
	if v == nil {
		return nil, errors.New("cannot clone nil value")
	}
	bs, err := m.Marshal(v)
	if err != nil {
		return nil, err
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		ret := m.newValue(t.Elem())().Addr()
		if err := m.Unmarshal(bs, ret.Interface()); err != nil {
			return nil, err
		}
		return ret.Interface(), nil
	}
	ret := m.newValue(t)().Addr()
	if err := m.Unmarshal(bs, ret.Interface()); err != nil {
		return nil, err
	}
	return ret.Elem().Interface(), nil
}

// Clone is the typed form of [Model.DeepClone].
func Clone[T any](m *Model, v T) (T, error) {
	ret, err := m.DeepClone(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return ret.(T), nil
}
