package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danderson/pbwire/fragments"
)

type indenter struct {
	out        io.Writer
	prefix     string
	indentNext bool
	depth      int
}

func (i *indenter) s(msg string) {
	io.WriteString(i, msg+"\n")
}

func (i *indenter) f(msg string, args ...any) {
	fmt.Fprintf(i, msg+"\n", args...)
}

func (i *indenter) Write(bs []byte) (int, error) {
	ret := 0
	for len(bs) > 0 {
		if i.indentNext {
			i.indentNext = false
			_, err := io.WriteString(i.out, i.prefix)
			if err != nil {
				return ret, err
			}
		}

		wr := bs
		idx := bytes.IndexByte(bs, '\n')
		if idx >= 0 {
			i.indentNext = true
			wr, bs = bs[:idx+1], bs[idx+1:]
		} else {
			bs = nil
		}

		n, err := i.out.Write(wr)
		ret += n
		if err != nil {
			return ret, err
		}
	}
	return ret, nil
}

func (i *indenter) indent(delta int) {
	i.depth += delta
	i.prefix = strings.Repeat("  ", i.depth)
}

// dump writes a description of the raw fields of the message in bs to
// out. Length-delimited fields are shown as nested messages if they
// parse as one, otherwise as strings or bytes.
func dump(out io.Writer, bs []byte) error {
	i := &indenter{out: out, indentNext: true}
	d := &fragments.Decoder{In: bs}
	return d.Fields(func(field int, wt fragments.WireType) error {
		return dumpField(i, d, field, wt)
	})
}

func dumpField(out *indenter, d *fragments.Decoder, field int, wt fragments.WireType) error {
	switch wt {
	case fragments.Varint:
		v, err := d.Varint()
		if err != nil {
			return err
		}
		if v > math.MaxInt64 {
			out.f("%d: %d (%d)", field, v, int64(v))
		} else {
			out.f("%d: %d", field, v)
		}
	case fragments.Fixed32:
		v, err := d.Fixed32()
		if err != nil {
			return err
		}
		out.f("%d: 0x%08x (%g)", field, v, math.Float32frombits(v))
	case fragments.Fixed64:
		v, err := d.Fixed64()
		if err != nil {
			return err
		}
		out.f("%d: 0x%016x (%g)", field, v, math.Float64frombits(v))
	case fragments.LengthDelimited:
		bs, err := d.Bytes()
		if err != nil {
			return err
		}
		switch {
		case isMessage(bs):
			out.f("%d: {", field)
			out.indent(1)
			sub := &fragments.Decoder{In: bs}
			if err := sub.Fields(func(field int, wt fragments.WireType) error {
				return dumpField(out, sub, field, wt)
			}); err != nil {
				return err
			}
			out.indent(-1)
			out.s("}")
		case isText(bs):
			out.f("%d: %q", field, bs)
		default:
			out.f("%d: [% x]", field, bs)
		}
	case fragments.StartGroup:
		out.f("%d: group {", field)
		out.indent(1)
		if err := d.Group(field, func(f int, wt fragments.WireType) error {
			return dumpField(out, d, f, wt)
		}); err != nil {
			return err
		}
		out.indent(-1)
		out.s("}")
	default:
		return d.Skip(field, wt)
	}
	return nil
}

// isMessage reports whether bs parses as a sequence of fields.
func isMessage(bs []byte) bool {
	if len(bs) == 0 {
		return false
	}
	d := &fragments.Decoder{In: bs}
	return d.Fields(d.Skip) == nil
}

func isText(bs []byte) bool {
	if !utf8.Valid(bs) {
		return false
	}
	for _, r := range string(bs) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
