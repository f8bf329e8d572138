package pbwire

import (
	"reflect"
	"testing"
)

func TestTypeMaps(t *testing.T) {
	if len(builtinNames) != len(builtinTypes) {
		t.Errorf("builtinNames has %d entries, builtinTypes has %d", len(builtinNames), len(builtinTypes))
	}
	for want, typ := range builtinTypes {
		if got := builtinNames[typ]; got != want {
			t.Errorf("builtinNames[%v] = %q, want %q", typ, got, want)
		}
	}

	for k := range intKinds {
		if !scalarKinds.Has(k) {
			t.Errorf("integer kind %v is not a scalar kind", k)
		}
	}
	for k := range mapKeyKinds {
		if !scalarKinds.Has(k) {
			t.Errorf("map key kind %v is not a scalar kind", k)
		}
	}
	for _, k := range []reflect.Kind{reflect.Float32, reflect.Float64} {
		if mapKeyKinds.Has(k) {
			t.Errorf("%v allowed as a map key", k)
		}
	}
}

func TestIsEnumType(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want bool
	}{
		{reflect.TypeFor[Color](), true},
		{reflect.TypeFor[int32](), false},
		{reflect.TypeFor[string](), false},
		{reflect.TypeFor[Simple](), false},
	}
	for _, tc := range tests {
		if got := isEnumType(tc.typ); got != tc.want {
			t.Errorf("isEnumType(%v) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestDynamicNames(t *testing.T) {
	m := New()
	tests := []struct {
		typ  reflect.Type
		want string
	}{
		{reflect.TypeFor[int32](), "int32"},
		{reflect.TypeFor[[]byte](), "bytes"},
		{reflect.TypeFor[*string](), "*string"},
		{reflect.TypeFor[[]int64](), "[]int64"},
		{reflect.TypeFor[Simple](), "pbwire.Simple"},
		{reflect.TypeFor[[]*Simple](), "[]*pbwire.Simple"},
		{reflect.TypeFor[Named](), "test.Named"},
	}
	for _, tc := range tests {
		got, err := m.dynamicName(tc.typ)
		if err != nil {
			t.Errorf("dynamicName(%v) failed: %v", tc.typ, err)
			continue
		}
		if got != tc.want {
			t.Errorf("dynamicName(%v) = %q, want %q", tc.typ, got, tc.want)
		}
		back, err := m.dynamicType(got)
		if err != nil {
			t.Errorf("dynamicType(%q) failed: %v", got, err)
			continue
		}
		if back != tc.typ {
			t.Errorf("dynamicType(%q) = %v, want %v", got, back, tc.typ)
		}
	}
}
