package fragments_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danderson/pbwire/fragments"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

type mustDecoder struct {
	t *testing.T
	*fragments.Decoder
}

func (d *mustDecoder) MustVarint(want uint64) {
	got, err := d.Varint()
	if err != nil {
		d.t.Fatalf("Varint() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Varint() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustTag(wantField int, wantType fragments.WireType) {
	field, wt, err := d.Tag()
	if err != nil {
		d.t.Fatalf("Tag() got err: %v", err)
	}
	if field != wantField || wt != wantType {
		d.t.Fatalf("Tag() got (%d, %s), want (%d, %s)", field, wt, wantField, wantType)
	}
}

func (d *mustDecoder) MustFixed32(want uint32) {
	got, err := d.Fixed32()
	if err != nil {
		d.t.Fatalf("Fixed32() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Fixed32() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustFixed64(want uint64) {
	got, err := d.Fixed64()
	if err != nil {
		d.t.Fatalf("Fixed64() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Fixed64() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustBytes(want []byte) {
	got, err := d.Bytes()
	if err != nil {
		d.t.Fatalf("Bytes() got err: %v", err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Bytes() wrong output:\n  got: % x\n want: % x", got, want)
	}
}

func (d *mustDecoder) MustString(want string) {
	got, err := d.String()
	if err != nil {
		d.t.Fatalf("String() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("String() got %q, want %q", got, want)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		decode func(d *mustDecoder)
	}{
		{
			"varints",
			[]byte{
				0x00,
				0x01,
				0x7f,
				0x80, 0x01,
				0xac, 0x02,
				0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01,
			},
			func(d *mustDecoder) {
				d.MustVarint(0)
				d.MustVarint(1)
				d.MustVarint(127)
				d.MustVarint(128)
				d.MustVarint(300)
				d.MustVarint(math.MaxUint64)
			},
		},

		{
			"non-minimal varint",
			[]byte{0x81, 0x80, 0x00},
			func(d *mustDecoder) {
				d.MustVarint(1)
			},
		},

		{
			"tags",
			[]byte{0x08, 0x12, 0x85, 0x01},
			func(d *mustDecoder) {
				d.MustTag(1, fragments.Varint)
				d.MustTag(2, fragments.LengthDelimited)
				d.MustTag(16, fragments.Fixed32)
			},
		},

		{
			"fixed",
			[]byte{
				0x01, 0x00, 0x00, 0x00,
				0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
			},
			func(d *mustDecoder) {
				d.MustFixed32(1)
				d.MustFixed64(0x0102030405060708)
			},
		},

		{
			"string and bytes",
			[]byte{
				0x03, 0x66, 0x6f, 0x6f,
				0x02, 0xca, 0xfe,
				0x00,
			},
			func(d *mustDecoder) {
				d.MustString("foo")
				d.MustBytes([]byte{0xca, 0xfe})
				d.MustString("")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &mustDecoder{t, &fragments.Decoder{In: tc.in}}
			tc.decode(d)
			if d.Remaining() != 0 {
				t.Fatalf("%d bytes left unread", d.Remaining())
			}
			if d.Position() != len(tc.in) {
				t.Fatalf("Position() = %d, want %d", d.Position(), len(tc.in))
			}
		})
	}
}

func TestDecoderMatchesProtowire(t *testing.T) {
	for _, v := range bitSweep() {
		in := protowire.AppendVarint(nil, v)
		d := fragments.Decoder{In: in}
		got, err := d.Varint()
		if err != nil {
			t.Fatalf("Varint(% x) got err: %v", in, err)
		}
		if got != v {
			t.Errorf("Varint(% x) = %d, want %d", in, got, v)
		}
	}
}

func TestVarintErrors(t *testing.T) {
	tests := []struct {
		name      string
		in        []byte
		malformed bool
	}{
		{"empty", nil, false},
		{"truncated", []byte{0x80}, false},
		{"truncated long", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, false},
		{"eleven bytes", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, true},
		{"tenth byte overflow", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := fragments.Decoder{In: tc.in}
			_, err := d.Varint()
			if err == nil {
				t.Fatal("Varint() succeeded, want error")
			}
			switch {
			case tc.malformed:
				if !errors.Is(err, fragments.ErrMalformedVarint) || !errors.Is(err, fragments.ErrOverflow) {
					t.Errorf("got err %v, want ErrMalformedVarint and ErrOverflow", err)
				}
			case len(tc.in) == 10:
				if !errors.Is(err, fragments.ErrOverflow) || errors.Is(err, fragments.ErrMalformedVarint) {
					t.Errorf("got err %v, want only ErrOverflow", err)
				}
			default:
				if !errors.Is(err, fragments.ErrTruncated) {
					t.Errorf("got err %v, want ErrTruncated", err)
				}
			}
			if d.Position() != 0 {
				t.Errorf("failed read moved Position() to %d", d.Position())
			}
		})
	}
}

func TestWidthChecks(t *testing.T) {
	d := fragments.Decoder{In: protowire.AppendVarint(nil, 1<<32)}
	_, err := d.Uint32()
	var oerr fragments.OverflowError
	if !errors.As(err, &oerr) {
		t.Fatalf("Uint32() of 1<<32 got err %v, want OverflowError", err)
	}
	if diff := cmp.Diff(oerr, fragments.OverflowError{Value: 1 << 32, Bits: 32}); diff != "" {
		t.Errorf("wrong OverflowError (-got+want):\n%s", diff)
	}

	for _, in := range [][]byte{
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, // sign-extended
		{0xff, 0xff, 0xff, 0xff, 0x0f}, // truncated to 32 bits
	} {
		d := fragments.Decoder{In: in}
		got, err := d.Int32()
		if err != nil {
			t.Fatalf("Int32(% x) got err: %v", in, err)
		}
		if got != -1 {
			t.Errorf("Int32(% x) = %d, want -1", in, got)
		}
	}
}

func TestIntegerFormats(t *testing.T) {
	formats := []fragments.Format{
		fragments.FormatDefault,
		fragments.FormatZigZag,
		fragments.FormatTwosComplement,
		fragments.FormatFixedSize,
	}
	for _, bits := range []int{8, 16, 32, 64} {
		lo, hi := int64(-1)<<(bits-1), int64(uint64(1)<<(bits-1)-1)
		signed := []int64{0, 1, -1, 2, -2, lo, hi, lo + 1, hi - 1}
		umax := uint64(math.MaxUint64) >> (64 - bits)
		unsigned := []uint64{0, 1, 2, umax, umax - 1, umax / 2}

		for _, f := range formats {
			wt := f.WireType(bits)
			for _, v := range signed {
				var e fragments.Encoder
				if err := e.Int(v, bits, f); err != nil {
					t.Fatalf("Int(%d, %d, %s) got err: %v", v, bits, f, err)
				}
				d := fragments.Decoder{In: e.Out}
				got, err := d.Int(bits, f, wt)
				if err != nil {
					t.Fatalf("decode int%d %d in %s (% x) got err: %v", bits, v, f, e.Out, err)
				}
				if got != v {
					t.Errorf("int%d %d in %s round tripped to %d (% x)", bits, v, f, got, e.Out)
				}
			}
			for _, v := range unsigned {
				var e fragments.Encoder
				if err := e.Uint(v, bits, f); err != nil {
					t.Fatalf("Uint(%d, %d, %s) got err: %v", v, bits, f, err)
				}
				d := fragments.Decoder{In: e.Out}
				got, err := d.Uint(bits, wt)
				if err != nil {
					t.Fatalf("decode uint%d %d in %s (% x) got err: %v", bits, v, f, e.Out, err)
				}
				if got != v {
					t.Errorf("uint%d %d in %s round tripped to %d (% x)", bits, v, f, got, e.Out)
				}
			}
		}
	}

	overflows := []struct {
		name string
		in   []byte
		read func(*fragments.Decoder) error
	}{
		{"uint8 256", []byte{0x80, 0x02}, func(d *fragments.Decoder) error {
			_, err := d.Uint(8, fragments.Varint)
			return err
		}},
		{"int8 300", []byte{0xac, 0x02}, func(d *fragments.Decoder) error {
			_, err := d.Int(8, fragments.FormatDefault, fragments.Varint)
			return err
		}},
		{"zigzag32 too wide", []byte{0x80, 0x80, 0x80, 0x80, 0x10}, func(d *fragments.Decoder) error {
			_, err := d.Int(32, fragments.FormatZigZag, fragments.Varint)
			return err
		}},
		{"int16 from fixed32", []byte{0x00, 0x00, 0x01, 0x00}, func(d *fragments.Decoder) error {
			_, err := d.Int(16, fragments.FormatFixedSize, fragments.Fixed32)
			return err
		}},
	}
	for _, tc := range overflows {
		d := fragments.Decoder{In: tc.in}
		if err := tc.read(&d); !errors.Is(err, fragments.ErrOverflow) {
			t.Errorf("%s: got err %v, want ErrOverflow", tc.name, err)
		}
	}
}

func TestIntegerBitSweep(t *testing.T) {
	formats := []fragments.Format{
		fragments.FormatDefault,
		fragments.FormatZigZag,
		fragments.FormatTwosComplement,
		fragments.FormatFixedSize,
	}
	for _, bits := range []int{8, 16, 32, 64} {
		// Every value with one or two bits set, as unsigned and as the
		// same bits read as a signed integer of the width.
		var patterns []uint64
		for i := range bits {
			for j := i; j < bits; j++ {
				patterns = append(patterns, uint64(1)<<i|uint64(1)<<j)
			}
		}
		shift := 64 - bits
		for _, f := range formats {
			wt := f.WireType(bits)
			for _, p := range patterns {
				var e fragments.Encoder
				if err := e.Uint(p, bits, f); err != nil {
					t.Fatalf("Uint(%#x, %d, %s) got err: %v", p, bits, f, err)
				}
				d := fragments.Decoder{In: e.Out}
				gotU, err := d.Uint(bits, wt)
				if err != nil {
					t.Fatalf("decode uint%d %#x in %s (% x) got err: %v", bits, p, f, e.Out, err)
				}
				if gotU != p || d.Remaining() != 0 {
					t.Errorf("uint%d %#x in %s round tripped to %#x with %d bytes left (% x)", bits, p, f, gotU, d.Remaining(), e.Out)
				}

				v := int64(p<<shift) >> shift
				e = fragments.Encoder{}
				if err := e.Int(v, bits, f); err != nil {
					t.Fatalf("Int(%d, %d, %s) got err: %v", v, bits, f, err)
				}
				d = fragments.Decoder{In: e.Out}
				gotI, err := d.Int(bits, f, wt)
				if err != nil {
					t.Fatalf("decode int%d %d in %s (% x) got err: %v", bits, v, f, e.Out, err)
				}
				if gotI != v || d.Remaining() != 0 {
					t.Errorf("int%d %d in %s round tripped to %d with %d bytes left (% x)", bits, v, f, gotI, d.Remaining(), e.Out)
				}
			}
		}
	}
}

func TestFieldFraming(t *testing.T) {
	type field struct {
		Field int
		Type  fragments.WireType
		Value uint64
	}

	// collect records varint fields and descends into groups and
	// messages for field 2.
	var collect func(d *fragments.Decoder, out *[]field) fragments.FieldFunc
	collect = func(d *fragments.Decoder, out *[]field) fragments.FieldFunc {
		return func(n int, wt fragments.WireType) error {
			switch {
			case wt == fragments.Varint:
				v, err := d.Varint()
				*out = append(*out, field{n, wt, v})
				return err
			case n == 2 && wt == fragments.StartGroup:
				*out = append(*out, field{n, wt, 0})
				return d.Group(n, collect(d, out))
			case n == 2 && wt == fragments.LengthDelimited:
				*out = append(*out, field{n, wt, 0})
				return d.Message(collect(d, out))
			default:
				return d.Skip(n, wt)
			}
		}
	}

	tests := []struct {
		name    string
		in      []byte
		want    []field
		wantErr error
	}{
		{
			"flat",
			[]byte{0x08, 0x01, 0x18, 0x03},
			[]field{{1, fragments.Varint, 1}, {3, fragments.Varint, 3}},
			nil,
		},
		{
			"group",
			[]byte{
				0x13,       // start group 2
				0x08, 0x05, // field 1 = 5
				0x14,       // end group 2
				0x18, 0x03, // field 3 = 3
			},
			[]field{{2, fragments.StartGroup, 0}, {1, fragments.Varint, 5}, {3, fragments.Varint, 3}},
			nil,
		},
		{
			"message",
			[]byte{
				0x12, 0x02, // field 2, 2 bytes
				0x08, 0x05,
				0x18, 0x03,
			},
			[]field{{2, fragments.LengthDelimited, 0}, {1, fragments.Varint, 5}, {3, fragments.Varint, 3}},
			nil,
		},
		{
			"skips unknown",
			[]byte{
				0x0d, 0x01, 0x02, 0x03, 0x04, // field 1 fixed32
				0x11, 0, 0, 0, 0, 0, 0, 0, 0, // field 2 fixed64
				0x1a, 0x02, 0xaa, 0xbb, // field 3 bytes
				0x23, 0x08, 0x01, 0x24, // field 4 group
				0x28, 0x07, // field 5 varint
			},
			[]field{{5, fragments.Varint, 7}},
			nil,
		},
		{
			"skips nested groups",
			[]byte{
				0x1b,       // start group 3
				0x23,       // start group 4
				0x08, 0x01, // field 1
				0x24,       // end group 4
				0x1c,       // end group 3
				0x28, 0x07, // field 5 varint
			},
			[]field{{5, fragments.Varint, 7}},
			nil,
		},
		{
			"mismatched end group",
			[]byte{0x13, 0x08, 0x05, 0x1c},
			nil,
			fragments.EndGroupError{Want: 2, Got: 3},
		},
		{
			"stray end group",
			[]byte{0x08, 0x01, 0x0c},
			nil,
			fragments.EndGroupError{Want: 0, Got: 1},
		},
		{
			"unclosed group",
			[]byte{0x13, 0x08, 0x05},
			nil,
			fragments.ErrTruncated,
		},
		{
			"truncated message",
			[]byte{0x12, 0x05, 0x08, 0x01},
			nil,
			fragments.ErrTruncated,
		},
		{
			"message ends mid-field",
			[]byte{0x12, 0x01, 0x08, 0x01},
			nil,
			fragments.ErrTruncated,
		},
		{
			"truncated fixed64",
			[]byte{0x11, 0x01, 0x02},
			nil,
			fragments.ErrTruncated,
		},
		{
			"field zero",
			[]byte{0x00, 0x01},
			nil,
			fragments.ErrInvalidTag,
		},
		{
			"undefined wire type",
			[]byte{0x0e, 0x01},
			nil,
			fragments.ErrInvalidTag,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &fragments.Decoder{In: tc.in}
			var got []field
			err := d.Fields(collect(d, &got))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Fields() got err %v, want %v", err, tc.wantErr)
				}
				var want fragments.EndGroupError
				if errors.As(tc.wantErr, &want) {
					var gotErr fragments.EndGroupError
					if !errors.As(err, &gotErr) || gotErr != want {
						t.Fatalf("Fields() got err %#v, want %#v", err, want)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("Fields() got err: %v", err)
			}
			if diff := cmp.Diff(got, tc.want); diff != "" {
				t.Errorf("wrong fields (-got+want):\n%s", diff)
			}
			if d.Remaining() != 0 {
				t.Errorf("%d bytes left unread", d.Remaining())
			}
		})
	}
}

func TestDecoderDepth(t *testing.T) {
	in := []byte{0x0a, 0x04, 0x0a, 0x02, 0x0a, 0x00}
	var nest func(d *fragments.Decoder) fragments.FieldFunc
	nest = func(d *fragments.Decoder) fragments.FieldFunc {
		return func(n int, wt fragments.WireType) error {
			return d.Message(nest(d))
		}
	}

	d := &fragments.Decoder{In: in, MaxDepth: 3}
	if err := d.Fields(nest(d)); err != nil {
		t.Fatalf("decoding 3 deep with MaxDepth 3: %v", err)
	}
	d = &fragments.Decoder{In: in, MaxDepth: 2}
	if err := d.Fields(nest(d)); !errors.Is(err, fragments.ErrRecursionLimit) {
		t.Fatalf("decoding 3 deep with MaxDepth 2 got err %v, want ErrRecursionLimit", err)
	}
}

func TestPacked(t *testing.T) {
	in := []byte{
		0x22, 0x06,
		0x03,
		0x8e, 0x02,
		0x9e, 0xa7, 0x05,
	}
	d := &fragments.Decoder{In: in}
	var got []uint64
	err := d.Fields(func(n int, wt fragments.WireType) error {
		if n != 4 || wt != fragments.LengthDelimited {
			t.Fatalf("unexpected field %d %s", n, wt)
		}
		return d.Packed(func() error {
			v, err := d.Varint()
			got = append(got, v)
			return err
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, []uint64{3, 270, 86942}); diff != "" {
		t.Errorf("wrong packed values (-got+want):\n%s", diff)
	}
}
