package pbwire

import (
	"cmp"
	"fmt"
	"iter"
	"reflect"
)

// Contract marks a struct as carrying type-level configuration. A
// struct with a field of type Contract reads its type settings from
// that field's "pb" struct tag:
//
//	type Point struct {
//	    _ pbwire.Contract `pb:"name=geo.Point,group"`
//	    X int32 `pb:"1,zigzag"`
//	    Y int32 `pb:"2,zigzag"`
//	}
type Contract struct{}

var contractType = reflect.TypeFor[Contract]()

// A Member is one member of a type, as described by an [Accessor].
type Member struct {
	// Name is the member's Go name.
	Name string
	// Type is the member's declared type.
	Type reflect.Type
	// Index is the member's position in declaration order.
	Index int
	// Tag is the member's struct tag, if any.
	Tag reflect.StructTag

	// Get loads the member from an instance of its type. If the
	// member is unreachable, for example behind a nil embedded
	// pointer, Get returns a non-settable zero value.
	Get func(reflect.Value) reflect.Value
	// Ref loads the member from an addressable instance of its type,
	// allocating as needed. The returned value is settable.
	Ref func(reflect.Value) reflect.Value
}

func (m *Member) String() string {
	kindStr := ""
	if ks := m.Type.Kind().String(); ks != m.Type.String() {
		kindStr = fmt.Sprintf(" (%s)", ks)
	}
	return fmt.Sprintf("%s: %s%s", m.Name, m.Type, kindStr)
}

// An Accessor exposes the members of types and creates instances.
type Accessor interface {
	// Members returns the serializable members of t.
	Members(t reflect.Type) ([]*Member, error)
	// New returns a pointer to a new zero instance of t.
	New(t reflect.Type) reflect.Value
}

// StructAccessor is the [Accessor] for Go structs. Members are the
// exported fields of the struct, with the exported fields of embedded
// structs promoted as if declared in the outer struct.
type StructAccessor struct{}

func (StructAccessor) New(t reflect.Type) reflect.Value { return reflect.New(t) }

func (StructAccessor) Members(t reflect.Type) ([]*Member, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}
	var ret []*Member
	for field := range structFields(t, nil) {
		if !field.IsExported() || field.Type == contractType {
			continue
		}
		f := &structField{Index: allocSteps(t, field.Index), Type: field.Type}
		ret = append(ret, &Member{
			Name:  field.Name,
			Type:  field.Type,
			Index: len(ret),
			Tag:   field.Tag,
			Get:   f.GetWithZero,
			Ref:   f.GetWithAlloc,
		})
	}
	return ret, nil
}

// structField is the path to a possibly embedded struct field.
type structField struct {
	Index [][]int
	Type  reflect.Type
}

// GetWithZero loads the struct field from structVal. If loading
// requires traversing a nil pointer into an embedded struct,
// GetWithZero returns a non-settable zero value of the field.
func (f *structField) GetWithZero(structVal reflect.Value) reflect.Value {
	v := structVal
	for i, hop := range f.Index {
		if i > 0 {
			if v.IsNil() {
				return reflect.Zero(f.Type)
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(hop)
	}
	return v
}

// GetWithAlloc loads the struct field from structVal. If loading
// requires traversing a nil pointer into an embedded struct,
// GetWithAlloc allocates zero values appropriately. The returned
// [reflect.Value] is settable.
func (f *structField) GetWithAlloc(structVal reflect.Value) reflect.Value {
	v := structVal
	for i, hop := range f.Index {
		if i > 0 {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(hop)
	}
	return v
}

// allocSteps partitions a multi-hop traversal of struct fields into
// segments that end at either the final value, or at a struct pointer
// that might be nil.
func allocSteps(t reflect.Type, idx []int) [][]int {
	var ret [][]int
	prev := 0
	t = t.Field(idx[0]).Type
	for i := 1; i < len(idx); i++ {
		if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
			// Hop through a struct pointer that might be nil, cut.
			ret = append(ret, idx[prev:i])
			prev = i
			t = t.Elem()
		}
		t = t.Field(idx[i]).Type
	}
	ret = append(ret, idx[prev:])
	return ret
}

// structFields yields the fields of t, descending into embedded
// structs. Unexported embedded structs are descended into as well,
// since their exported fields are promoted.
func structFields(t reflect.Type, idx []int) iter.Seq[reflect.StructField] {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			f := t.Field(i)
			idx = append(idx, i)
			if f.Anonymous {
				at := f.Type
				if at.Kind() == reflect.Pointer {
					at = at.Elem()
				}
				if at.Kind() == reflect.Struct && at != contractType {
					for af := range structFields(at, idx) {
						if !yield(af) {
							return
						}
					}
					idx = idx[:len(idx)-1]
					continue
				}
			}
			f.Index = append([]int(nil), idx...)
			if !yield(f) {
				return
			}
			idx = idx[:len(idx)-1]
		}
	}
}

// contractTag returns the struct tag of t's Contract marker field, if
// any.
func contractTag(t reflect.Type) (reflect.StructTag, bool) {
	if t.Kind() != reflect.Struct {
		return "", false
	}
	for i := range t.NumField() {
		if f := t.Field(i); f.Type == contractType {
			return f.Tag, true
		}
	}
	return "", false
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// isBytes reports whether t is encoded as a protobuf bytes value.
func isBytes(t reflect.Type) bool {
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() == reflect.Uint8
}

// isCollection reports whether t is encoded as a repeated field.
func isCollection(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return !isBytes(t)
	case reflect.Map:
		return true
	}
	return false
}

// mapKeyCmp returns a comparison function for the given map key
// type.
func mapKeyCmp(t reflect.Type) func(a, b reflect.Value) int {
	switch t.Kind() {
	case reflect.Bool:
		return func(a, b reflect.Value) int {
			if a.Bool() == b.Bool() {
				return 0
			}
			if !a.Bool() {
				return -1
			}
			return 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Int(), b.Int())
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Uint(), b.Uint())
		}
	case reflect.String:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.String(), b.String())
		}
	default:
		panic("invalid map key type")
	}
}
