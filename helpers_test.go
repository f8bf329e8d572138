package pbwire

import (
	"context"
	"math"
	"time"

	"github.com/danderson/pbwire/fragments"
	"github.com/google/uuid"
)

// Simple is a struct with simple fields.
type Simple struct {
	A int32  `pb:"1"`
	B string `pb:"2"`
}

// Nested is a struct with a struct field.
type Nested struct {
	A uint32 `pb:"1"`
	B Simple `pb:"2"`
}

// Embedded is a struct that embeds another struct by value.
type Embedded struct {
	Simple
	C bool `pb:"3"`
}

// Embedded_P is a struct that embeds another struct by pointer.
type Embedded_P struct {
	*Simple
	C bool `pb:"3"`
}

// Arrays is a struct with various degrees of complicated arrays
// inside.
type Arrays struct {
	A []string  `pb:"1"`
	B []Simple  `pb:"2"`
	C [][]int32 `pb:"3"`
}

// Packed is a struct with a packed repeated field.
type Packed struct {
	A []int32 `pb:"1,packed"`
}

// Repeated is Packed without the packing.
type Repeated struct {
	A []int32 `pb:"1"`
}

// AppendList is a struct whose list accumulates across decodes.
type AppendList struct {
	A []string `pb:"1,append"`
}

// Formats is a struct with every integer encoding.
type Formats struct {
	A int32  `pb:"1,zigzag"`
	B uint32 `pb:"2,fixed"`
	C int64  `pb:"3,fixed"`
	D int64  `pb:"4,twoscomplement"`
	E uint64 `pb:"5,zigzag"`
}

// Floats is a struct with floating point fields.
type Floats struct {
	A float32 `pb:"1"`
	B float64 `pb:"2"`
}

// Ptrs is a struct with pointer fields.
type Ptrs struct {
	A *int32  `pb:"1"`
	B *Simple `pb:"2"`
}

// Maps is a struct with map fields.
type Maps struct {
	A map[string]int32  `pb:"1"`
	B map[int64]*Simple `pb:"2"`
	C map[bool][]string `pb:"3"`
	D map[uint32]uint32 `pb:"4,fixed"`
}

// WellKnown is a struct with the types that encode like
// google.protobuf well known types.
type WellKnown struct {
	T time.Time     `pb:"1"`
	D time.Duration `pb:"2"`
	U uuid.UUID     `pb:"3"`
	B []byte        `pb:"4"`
	H [4]byte       `pb:"5"`
}

// Tree is a self-referential struct.
type Tree struct {
	Left  *Tree `pb:"1"`
	Right *Tree `pb:"2"`
	V     int32 `pb:"3"`
}

// Defaults is a struct with default values.
type Defaults struct {
	A int32  `pb:"1,default=7"`
	B string `pb:"2,default=x"`
	C bool   `pb:"3,default=true"`
}

// Required is a struct with a required field.
type Required struct {
	A int32 `pb:"1,required"`
	B int32 `pb:"2"`
}

// WriteZero is a struct whose field is written even when zero.
type WriteZero struct {
	A int32 `pb:"1,writedefault"`
	B int32 `pb:"2"`
}

// Grouped is a struct framed as a group when nested.
type Grouped struct {
	_ Contract `pb:"group"`
	A int32    `pb:"1"`
}

// WithGroup is a struct with a group field.
type WithGroup struct {
	G Grouped `pb:"1"`
	B int32   `pb:"2"`
}

// Legacy is a struct configured with golang/protobuf style tags.
type Legacy struct {
	ID   int64   `protobuf:"varint,1,opt,name=id,proto3"`
	Name string  `protobuf:"bytes,2,opt,name=name,proto3"`
	Off  int32   `protobuf:"zigzag32,3,opt,name=off,proto3"`
	Ids  []int32 `protobuf:"varint,4,rep,packed,name=ids,proto3"`
}

// RefNode is a linked list node that preserves shared and cyclic
// references.
type RefNode struct {
	Name string   `pb:"1"`
	Next *RefNode `pb:"2,ref"`
}

// RefPair is a struct holding two references.
type RefPair struct {
	A *Simple `pb:"1,ref"`
	B *Simple `pb:"2,ref"`
}

// Enhanced is a struct with a list that keeps its nil elements.
type Enhanced struct {
	A []*Simple `pbitem:"enhanced" pb:"1"`
}

// Dyn is a struct with a dynamically typed field.
type Dyn struct {
	V any `pb:"1"`
}

// Color is an integer type that can carry enum values.
type Color int32

// Colors is a struct with an enum field.
type Colors struct {
	C Color `pb:"1"`
}

// Shape is an interface with declared subtypes.
type Shape interface {
	Area() float64
}

type Square struct {
	Side float64 `pb:"1"`
}

func (s Square) Area() float64 { return s.Side * s.Side }

type Circle struct {
	R float64 `pb:"1"`
}

func (c Circle) Area() float64 { return math.Pi * c.R * c.R }

// Drawing is a struct with an interface field.
type Drawing struct {
	S Shape `pb:"1"`
}

// Implicit is a struct with no field configuration, mapped by its
// contract.
type Implicit struct {
	_    Contract `pb:"implicit=alphabetical,first=3"`
	Zeta int32
	Beta string
	Skip int32 `pb:"-"`
}

// Inferred is a struct whose tags are inferred from field names.
type Inferred struct {
	_     Contract `pb:"infer"`
	Zulu  int32    `pb:"zigzag"`
	Alpha string   `pb:"required"`
	Fixed int32    `pb:"1"`
}

// Tuple is a struct with no configuration at all, numbered in
// declaration order.
type Tuple struct {
	_ Contract `pb:"autotuple"`
	X int32
	Y int32
}

// Named is a struct with a schema name.
type Named struct {
	_ Contract `pb:"name=test.Named"`
	A int32    `pb:"1"`
}

// Counter counts InitPB calls.
type Counter struct {
	Inits int   `pb:"-"`
	V     int32 `pb:"1"`
}

func (c *Counter) InitPB() { c.Inits++ }

// NoCtor is Counter without constructor calls.
type NoCtor struct {
	_     Contract `pb:"skipctor"`
	Inits int      `pb:"-"`
	V     int32    `pb:"1"`
}

func (c *NoCtor) InitPB() { c.Inits++ }

// SelfMarshalerPtr is a struct that implements Marshaler and
// Unmarshaler with pointer method receivers. It writes B+1, to
// verify that the methods are used.
type SelfMarshalerPtr struct {
	B byte
}

func (s *SelfMarshalerPtr) MarshalPB(ctx context.Context, e *fragments.Encoder) error {
	if err := e.Tag(1, fragments.Varint); err != nil {
		return err
	}
	return e.Varint(uint64(s.B) + 1)
}

func (s *SelfMarshalerPtr) UnmarshalPB(ctx context.Context, d *fragments.Decoder, field int, wt fragments.WireType) error {
	if field != 1 || wt != fragments.Varint {
		return d.Skip(field, wt)
	}
	v, err := d.Varint()
	if err != nil {
		return err
	}
	s.B = byte(v - 1)
	return nil
}

// NestedSelfMarshalerPtr is a struct with a struct field that
// implements Marshaler/Unmarshaler with pointer method
// receivers.
type NestedSelfMarshalerPtr struct {
	A uint32           `pb:"1"`
	B SelfMarshalerPtr `pb:"2"`
}

// NestedSelfMarshalerPtrPtr is a struct with a struct pointer field
// that implements Marshaler/Unmarshaler with pointer method
// receivers.
type NestedSelfMarshalerPtrPtr struct {
	A uint32            `pb:"1"`
	B *SelfMarshalerPtr `pb:"2"`
}

func ptr[T any](v T) *T {
	return &v
}
