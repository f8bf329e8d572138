package pbwire

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/creachadair/mds/value"
	"github.com/danderson/pbwire/fragments"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestMarshalUnmarshal(t *testing.T) {
	type testCase struct {
		name       string
		raw        []byte
		wantDecode any
		toEncode   any
	}
	ok := func(name string, want any, raw ...byte) testCase {
		return testCase{name, raw, want, want}
	}
	asymmetric := func(name string, decoded any, toEncode any, raw ...byte) testCase {
		return testCase{name, raw, decoded, toEncode}
	}

	tests := []testCase{
		ok("true", true,
			0x08, 0x01),
		ok("false", false,
			0x08, 0x00),

		ok("i32", int32(123),
			0x08, 0x7b),
		ok("i32 negative", int32(-1),
			// Sign extended to 64 bits
			0x08, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01),
		ok("u32", uint32(300),
			0x08, 0xac, 0x02),
		ok("u64", uint64(1<<64-1),
			0x08, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01),
		ok("i8", int8(-2),
			0x08, 0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01),
		ok("f32", float32(1.5),
			0x0d, 0x00, 0x00, 0xc0, 0x3f),
		ok("f64", float64(1.5),
			0x09, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf8, 0x3f),

		ok("string", "abc",
			// Tag, length
			0x0a, 0x03,
			'a', 'b', 'c'),
		ok("bytes", []byte("abc"),
			0x0a, 0x03,
			'a', 'b', 'c'),
		ok("ptr", ptr(int32(5)),
			0x08, 0x05),

		ok("[]int64", []int64{1, 2, 3},
			0x08, 0x01,
			0x08, 0x02,
			0x08, 0x03),
		ok("[2]int32", [2]int32{1, 0},
			0x08, 0x01,
			0x08, 0x00),
		ok("[]string", []string{"fo", "obar"},
			0x0a, 0x02, 'f', 'o',
			0x0a, 0x04, 'o', 'b', 'a', 'r'),
		ok("[][]string", [][]string{{"a"}, {"b", "c"}},
			// {"a"}
			0x0a, 0x03,
			0x0a, 0x01, 'a',
			// {"b", "c"}
			0x0a, 0x06,
			0x0a, 0x01, 'b',
			0x0a, 0x01, 'c'),
		ok("[]Simple", []Simple{{1, "a"}},
			0x0a, 0x05,
			0x08, 0x01,
			0x12, 0x01, 'a'),
		ok("map", map[string]int32{"b": 2, "a": 1},
			// Entries in key order
			0x0a, 0x05,
			0x0a, 0x01, 'a',
			0x10, 0x01,
			0x0a, 0x05,
			0x0a, 0x01, 'b',
			0x10, 0x02),

		ok("struct simple", Simple{123, "abc"},
			// .A
			0x08, 0x7b,
			// .B
			0x12, 0x03, 'a', 'b', 'c'),
		ok("struct zero", Simple{}),
		ok("struct ptr", &Simple{1, ""},
			0x08, 0x01),
		ok("struct nested", Nested{1, Simple{2, "x"}},
			// .A
			0x08, 0x01,
			// .B
			0x12, 0x05,
			0x08, 0x02,
			0x12, 0x01, 'x'),
		ok("struct embedded", Embedded{Simple{1, "a"}, true},
			// .Simple.A
			0x08, 0x01,
			// .Simple.B
			0x12, 0x01, 'a',
			// .C
			0x18, 0x01),
		ok("struct embedded ptr", Embedded_P{&Simple{1, "a"}, true},
			0x08, 0x01,
			0x12, 0x01, 'a',
			0x18, 0x01),
		ok("struct embedded nil ptr", Embedded_P{C: true},
			0x18, 0x01),
		asymmetric("struct embedded ptr to zero",
			Embedded_P{},
			Embedded_P{Simple: &Simple{}}),

		ok("struct arrays", Arrays{
			A: []string{"x"},
			B: []Simple{{1, ""}},
			C: [][]int32{{1, 2}},
		},
			// .A
			0x0a, 0x01, 'x',
			// .B
			0x12, 0x02,
			0x08, 0x01,
			// .C
			0x1a, 0x04,
			0x08, 0x01,
			0x08, 0x02),
		ok("struct packed", Packed{[]int32{1, 2, 3}},
			0x0a, 0x03, 0x01, 0x02, 0x03),
		ok("struct repeated", Repeated{[]int32{1, 2, 3}},
			0x08, 0x01,
			0x08, 0x02,
			0x08, 0x03),
		ok("struct formats", Formats{A: -1, B: 1, C: -2, D: -1, E: 3},
			// .A, zigzag
			0x08, 0x01,
			// .B, fixed32
			0x15, 0x01, 0x00, 0x00, 0x00,
			// .C, fixed64
			0x19, 0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			// .D, twos complement
			0x20, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01,
			// .E, zigzag does not apply to unsigned
			0x28, 0x03),
		ok("struct floats", Floats{1.5, -2},
			0x0d, 0x00, 0x00, 0xc0, 0x3f,
			0x11, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xc0),
		ok("struct ptrs", Ptrs{A: ptr(int32(0)), B: &Simple{}},
			// Non-nil pointers are written even if they point to
			// zero.
			0x08, 0x00,
			0x12, 0x00),
		ok("struct maps", Maps{
			A: map[string]int32{"a": 1},
			B: map[int64]*Simple{1: {2, ""}, 2: nil},
			C: map[bool][]string{true: {"x"}},
			D: map[uint32]uint32{1: 2},
		},
			// .A
			0x0a, 0x05,
			0x0a, 0x01, 'a',
			0x10, 0x01,
			// .B[1]
			0x12, 0x06,
			0x08, 0x01,
			0x12, 0x02, 0x08, 0x02,
			// .B[2], value omitted
			0x12, 0x02,
			0x08, 0x02,
			// .C
			0x1a, 0x07,
			0x08, 0x01,
			0x12, 0x03, 0x0a, 0x01, 'x',
			// .D, fixed values and varint keys
			0x22, 0x07,
			0x08, 0x01,
			0x15, 0x02, 0x00, 0x00, 0x00),
		ok("struct well known", WellKnown{
			T: time.Unix(1, 5).UTC(),
			D: time.Second + 5,
			U: uuid.UUID{0: 1, 8: 2},
			B: []byte("hi"),
			H: [4]byte{1, 2, 3, 4},
		},
			// .T
			0x0a, 0x04, 0x08, 0x01, 0x10, 0x05,
			// .D
			0x12, 0x04, 0x08, 0x01, 0x10, 0x05,
			// .U
			0x1a, 0x12,
			0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x11, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			// .B
			0x22, 0x02, 'h', 'i',
			// .H
			0x2a, 0x04, 0x01, 0x02, 0x03, 0x04),
		ok("struct tree", Tree{Left: &Tree{V: 1}, V: 2},
			// .Left
			0x0a, 0x02, 0x18, 0x01,
			// .V
			0x18, 0x02),
		ok("struct group", WithGroup{Grouped{A: 1}, 2},
			// .G start group
			0x0b,
			0x08, 0x01,
			// .G end group
			0x0c,
			// .B
			0x10, 0x02),
		ok("struct legacy tags", Legacy{ID: 1, Name: "n", Off: -1, Ids: []int32{1, 2}},
			0x08, 0x01,
			0x12, 0x01, 'n',
			0x18, 0x01,
			0x22, 0x02, 0x01, 0x02),
		ok("struct implicit", Implicit{Zeta: 1, Beta: "b"},
			// .Beta
			0x1a, 0x01, 'b',
			// .Zeta
			0x20, 0x01),
		ok("struct inferred", Inferred{Zulu: -1, Alpha: "a", Fixed: 1},
			// .Fixed
			0x08, 0x01,
			// .Alpha
			0x12, 0x01, 'a',
			// .Zulu
			0x18, 0x01),
		ok("struct autotuple", Tuple{X: 1, Y: 2},
			0x08, 0x01,
			0x10, 0x02),
		ok("enum passthru", Colors{2},
			0x08, 0x02),

		ok("any", Dyn{V: int32(5)},
			0x0a, 0x09,
			// Type name
			0x1a, 0x05, 'i', 'n', 't', '3', '2',
			// Payload
			0x50, 0x05),
		ok("any slice", Dyn{V: []int32{1, 2}},
			0x0a, 0x0f,
			0x1a, 0x07, '[', ']', 'i', 'n', 't', '3', '2',
			0x52, 0x04,
			0x08, 0x01,
			0x08, 0x02),
		ok("enhanced nil element", Enhanced{[]*Simple{{A: 1}, nil}},
			// .A[0]
			0x0a, 0x04,
			0x52, 0x02, 0x08, 0x01,
			// .A[1], empty wrapper
			0x0a, 0x00),
		ok("ref list", RefNode{Name: "a", Next: &RefNode{Name: "b"}},
			0x0a, 0x01, 'a',
			0x12, 0x07,
			// New object key
			0x10, 0x01,
			// Payload
			0x52, 0x03,
			0x0a, 0x01, 'b'),

		ok("self marshaler", &SelfMarshalerPtr{66},
			0x08, 0x43),
		asymmetric("self marshaler value",
			&SelfMarshalerPtr{66},
			SelfMarshalerPtr{66},
			0x08, 0x43),
		ok("nested self marshaler", NestedSelfMarshalerPtr{1, SelfMarshalerPtr{66}},
			0x08, 0x01,
			0x12, 0x02, 0x08, 0x43),
		ok("nested self marshaler ptr", NestedSelfMarshalerPtrPtr{1, &SelfMarshalerPtr{66}},
			0x08, 0x01,
			0x12, 0x02, 0x08, 0x43),
	}

	for _, compile := range []bool{false, true} {
		m := New(WithCompile(compile))
		for _, tc := range tests {
			t.Run(fmt.Sprintf("%s/compile=%v", tc.name, compile), func(t *testing.T) {
				v := reflect.New(reflect.TypeOf(tc.wantDecode))
				if err := m.Unmarshal(tc.raw, v.Interface()); err != nil {
					t.Fatalf("decode failed: %v\n  raw: % x\n  want: %#v", err, tc.raw, tc.wantDecode)
				}
				if diff := cmp.Diff(v.Elem().Interface(), tc.wantDecode); diff != "" {
					t.Fatalf("decode wrong value (-got+want):\n%s", diff)
				}
				got, err := m.Marshal(tc.toEncode)
				if err != nil {
					t.Fatalf("encode failed: %v\n  val: %#v\n want: % x", err, tc.toEncode, tc.raw)
				}
				if !bytes.Equal(got, tc.raw) {
					t.Fatalf("encode wrong encoding:\n  val: %#v\n  got: % x\n want: % x", tc.toEncode, got, tc.raw)
				}
				n, err := m.Measure(tc.toEncode, 0)
				if err != nil {
					t.Fatalf("measure failed: %v", err)
				}
				if n != len(tc.raw) {
					t.Fatalf("Measure() = %d, want %d", n, len(tc.raw))
				}
			})
		}
	}
}

func TestMarshalErrors(t *testing.T) {
	type Untagged struct {
		A int32
	}
	type BadTag struct {
		A int32 `pb:"0"`
	}
	type Reserved struct {
		A int32 `pb:"19000"`
	}
	type Conflict struct {
		A int32 `pb:"1"`
		B int32 `pb:"1"`
	}
	type BadOption struct {
		A int32 `pb:"1,bogus"`
	}
	type BadMapKey struct {
		A map[float64]int32 `pb:"1"`
	}
	type BadDefault struct {
		A int32 `pb:"1,default=x"`
	}

	tests := []struct {
		name string
		in   any
		want error
	}{
		{"nil", nil, nil},
		{"nil ptr", (*Simple)(nil), nil},
		{"func", func() {}, nil},
		{"chan", make(chan int), nil},
		{"untagged", Untagged{1}, ErrNoSerializableMembers},
		{"bad tag", BadTag{1}, nil},
		{"reserved", Reserved{1}, ErrReservedTag},
		{"conflict", Conflict{1, 2}, nil},
		{"bad option", BadOption{1}, nil},
		{"bad map key", BadMapKey{}, nil},
		{"bad default", BadDefault{}, nil},
		{"nil in list", []*Simple{nil}, ErrNilElement},
		{"any unnamed", Dyn{V: struct{ A int32 }{}}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New().Marshal(tc.in)
			if err == nil {
				t.Fatalf("Marshal(%#v) = % x, want error", tc.in, got)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("Marshal(%#v) got err %v, want %v", tc.in, err, tc.want)
			}
		})
	}
}

func TestMarshalSizeLimit(t *testing.T) {
	m := New()
	v := Simple{1, "abc"}

	got, err := m.MarshalAppend([]byte{0xff}, v, MarshalOptions{MaxSize: 8})
	if err != nil {
		t.Fatalf("MarshalAppend with room failed: %v", err)
	}
	want := []byte{0xff, 0x08, 0x01, 0x12, 0x03, 'a', 'b', 'c'}
	if !bytes.Equal(got, want) {
		t.Fatalf("MarshalAppend wrong encoding:\n  got: % x\n want: % x", got, want)
	}

	_, err = m.MarshalAppend(nil, v, MarshalOptions{MaxSize: 3})
	var se SizeLimitError
	if !errors.As(err, &se) {
		t.Fatalf("MarshalAppend over limit got err %v, want SizeLimitError", err)
	}
	if !errors.Is(err, fragments.ErrSizeLimit) {
		t.Fatalf("SizeLimitError does not match ErrSizeLimit")
	}

	n, err := m.Measure(v, 0)
	if err != nil || n != 7 {
		t.Fatalf("Measure() = %d, %v, want 7, nil", n, err)
	}
	n, err = m.Measure(v, 3)
	if !errors.As(err, &se) {
		t.Fatalf("Measure over limit got err %v, want SizeLimitError", err)
	}
	if diff := cmp.Diff(se, SizeLimitError{Length: 7, Limit: 3}); diff != "" {
		t.Fatalf("wrong SizeLimitError (-got+want):\n%s", diff)
	}
	if n != 7 {
		t.Fatalf("Measure over limit = %d, want full length 7", n)
	}
}

func TestMarshalRecursionLimit(t *testing.T) {
	m := New(WithMaxDepth(2))
	deep := Tree{Left: &Tree{Left: &Tree{Left: &Tree{}}}}
	if _, err := m.Marshal(deep); !errors.Is(err, fragments.ErrRecursionLimit) {
		t.Fatalf("Marshal(deep) got err %v, want ErrRecursionLimit", err)
	}
	shallow := Tree{Left: &Tree{Left: &Tree{}}}
	if _, err := m.Marshal(shallow); err != nil {
		t.Fatalf("Marshal(shallow) failed: %v", err)
	}

	cyclic := &Tree{}
	cyclic.Left = cyclic
	if _, err := New().Marshal(cyclic); !errors.Is(err, fragments.ErrRecursionLimit) {
		t.Fatalf("Marshal(cyclic) got err %v, want ErrRecursionLimit", err)
	}
}

func TestMarshalImplicitZeroDefaults(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		omitZero bool
		want     []byte
	}{
		{"omit", Simple{}, true, nil},
		{"write", Simple{}, false, []byte{0x08, 0x00, 0x12, 0x00}},
		{"required", Required{}, true, []byte{0x08, 0x00}},
		{"writedefault", WriteZero{}, true, []byte{0x08, 0x00}},
		{"default equal", Defaults{7, "x", true}, true, nil},
		{"default zero", Defaults{}, true, []byte{
			0x08, 0x00,
			0x12, 0x00,
			0x18, 0x00,
		}},
		{"default all", Defaults{7, "x", true}, false, []byte{
			0x08, 0x07,
			0x12, 0x01, 'x',
			0x18, 0x01,
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New(WithImplicitZeroDefaults(tc.omitZero)).Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal(%#v) failed: %v", tc.in, err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("Marshal(%#v) wrong encoding:\n  got: % x\n want: % x", tc.in, got, tc.want)
			}
		})
	}
}

func TestMarshalReferences(t *testing.T) {
	m := New()

	s := &Simple{1, "a"}
	bs, err := m.Marshal(RefPair{s, s})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := []byte{
		// .A, new object 1
		0x0a, 0x09,
		0x10, 0x01,
		0x52, 0x05, 0x08, 0x01, 0x12, 0x01, 'a',
		// .B, existing object 1
		0x12, 0x02,
		0x08, 0x01,
	}
	if !bytes.Equal(bs, want) {
		t.Fatalf("Marshal wrong encoding:\n  got: % x\n want: % x", bs, want)
	}
	var pair RefPair
	if err := m.Unmarshal(bs, &pair); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if pair.A != pair.B {
		t.Fatalf("shared reference decoded as distinct objects %p and %p", pair.A, pair.B)
	}
	if diff := cmp.Diff(pair.A, s); diff != "" {
		t.Fatalf("wrong shared object (-got+want):\n%s", diff)
	}

	ring := &RefNode{Name: "a", Next: &RefNode{Name: "b"}}
	ring.Next.Next = ring.Next
	bs, err = m.Marshal(ring)
	if err != nil {
		t.Fatalf("Marshal(cycle) failed: %v", err)
	}
	var got RefNode
	if err := m.Unmarshal(bs, &got); err != nil {
		t.Fatalf("Unmarshal(cycle) failed: %v", err)
	}
	if got.Name != "a" || got.Next == nil || got.Next.Name != "b" {
		t.Fatalf("wrong decoded cycle: %#v", got)
	}
	if got.Next.Next != got.Next {
		t.Fatalf("cycle not preserved, got.Next.Next = %p, want %p", got.Next.Next, got.Next)
	}
}

func TestMarshalSubtypes(t *testing.T) {
	m := New()
	mt, err := m.MetaType(reflect.TypeFor[Shape]())
	if err != nil {
		t.Fatalf("MetaType(Shape) failed: %v", err)
	}
	if err := mt.AddSubtype(1, reflect.TypeFor[Square]()); err != nil {
		t.Fatalf("AddSubtype(Square) failed: %v", err)
	}
	if err := mt.AddSubtype(2, reflect.TypeFor[Circle]()); err != nil {
		t.Fatalf("AddSubtype(Circle) failed: %v", err)
	}
	if err := mt.AddSubtype(2, reflect.TypeFor[Square]()); err == nil {
		t.Fatal("AddSubtype with a used tag succeeded")
	}

	in := Drawing{Circle{2}}
	want := []byte{
		// .S
		0x0a, 0x0b,
		// Circle subtype
		0x12, 0x09,
		// .R
		0x09, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40,
	}
	got, err := m.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Marshal wrong encoding:\n  got: % x\n want: % x", got, want)
	}
	var out Drawing
	if err := m.Unmarshal(got, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(out, in); diff != "" {
		t.Fatalf("Unmarshal wrong value (-got+want):\n%s", diff)
	}

	// The subtypes and framing are fixed once Shape has been used.
	if !mt.Frozen() {
		t.Fatal("Shape not frozen after use")
	}
	if err := mt.AddSubtype(3, reflect.TypeFor[Circle]()); !errors.As(err, new(FrozenSettingError)) {
		t.Fatalf("AddSubtype after use got err %v, want FrozenSettingError", err)
	}
	if err := mt.AddSubtype(2, reflect.TypeFor[Circle]()); err != nil {
		t.Fatalf("AddSubtype with the current subtype after use failed: %v", err)
	}
	ts := mt.Settings()
	ts.PrefixLength = value.Just(false)
	if err := mt.SetSettings(ts); !errors.As(err, new(FrozenSettingError)) {
		t.Fatalf("SetSettings(group framing) after use got err %v, want FrozenSettingError", err)
	}
	again, err := m.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal after failed changes failed: %v", err)
	}
	if !bytes.Equal(again, want) {
		t.Fatalf("Marshal after failed changes wrong encoding:\n  got: % x\n want: % x", again, want)
	}

	type Triangle struct {
		Shape
		B float64 `pb:"1"`
	}
	if _, err := m.Marshal(Drawing{Triangle{}}); !errors.As(err, new(UnknownSubtypeError)) {
		t.Fatalf("Marshal(undeclared subtype) got err %v, want UnknownSubtypeError", err)
	}
}
