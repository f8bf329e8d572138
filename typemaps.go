package pbwire

import (
	"reflect"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/google/uuid"
)

var (
	// scalarKinds is the set of reflect.Kinds encoded as a single
	// protobuf scalar value.
	scalarKinds = mapset.New(
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String,
	)

	// intKinds is the set of reflect.Kinds that can be enums.
	intKinds = mapset.New(
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
	)

	// mapKeyKinds is the set of reflect.Kinds that can be in a
	// protobuf map key.
	mapKeyKinds = mapset.New(
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.String,
	)

	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()

	// builtinTypes maps the names used in dynamic type wrappers to
	// the types that don't need registering with a model.
	builtinTypes = map[string]reflect.Type{
		"bool":      reflect.TypeFor[bool](),
		"int32":     reflect.TypeFor[int32](),
		"int64":     reflect.TypeFor[int64](),
		"uint32":    reflect.TypeFor[uint32](),
		"uint64":    reflect.TypeFor[uint64](),
		"float":     reflect.TypeFor[float32](),
		"double":    reflect.TypeFor[float64](),
		"string":    reflect.TypeFor[string](),
		"bytes":     reflect.TypeFor[[]byte](),
		"timestamp": timeType,
		"duration":  durationType,
		"uuid":      uuidType,
		"int":       reflect.TypeFor[int](),
		"uint":      reflect.TypeFor[uint](),
		"int8":      reflect.TypeFor[int8](),
		"int16":     reflect.TypeFor[int16](),
		"uint8":     reflect.TypeFor[uint8](),
		"uint16":    reflect.TypeFor[uint16](),
	}

	// builtinNames is the inverse of builtinTypes.
	builtinNames = func() map[reflect.Type]string {
		ret := make(map[reflect.Type]string, len(builtinTypes))
		for n, t := range builtinTypes {
			ret[t] = n
		}
		return ret
	}()
)

// intBits returns the width in bits of an integer or float kind.
func intBits(t reflect.Type) int {
	return int(t.Size()) * 8
}

// isEnumType reports whether t can carry enum values: a named
// integer type.
func isEnumType(t reflect.Type) bool {
	return intKinds.Has(t.Kind()) && t.PkgPath() != ""
}
