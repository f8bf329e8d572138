package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danderson/pbwire/pbtest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDump(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"scalars", "08 96 01 25 00 00 80 3f 29 00 00 00 00 00 00 f0 3f", `
1: 150
4: 0x3f800000 (1)
5: 0x3ff0000000000000 (1)
`},
		{"negative", "10 ff ff ff ff ff ff ff ff ff 01", `
2: 18446744073709551615 (-1)
`},
		{"text", `12 03 61 62 63 0a 00`, `
2: "abc"
1: ""
`},
		{"bytes", "0a 02 ff fe", `
1: [ff fe]
`},
		{"nested", "1a 06 08 01 12 02 08 02", `
3: {
  1: 1
  2: {
    1: 2
  }
}
`},
		{"group", "1b 08 01 1c 20 05", `
3: group {
  1: 1
}
4: 5
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := dump(&out, pbtest.Hex(t, tc.in)); err != nil {
				t.Fatalf("dump failed: %v", err)
			}
			want := strings.TrimPrefix(tc.want, "\n")
			if diff := cmp.Diff(out.String(), want); diff != "" {
				t.Errorf("wrong dump (-got+want):\n%s", diff)
			}
		})
	}
}

func TestDumpErrors(t *testing.T) {
	tests := []string{
		"08",
		"0a 05 01",
		"1b 08 01",
		"07",
	}
	for _, in := range tests {
		var out bytes.Buffer
		if err := dump(&out, pbtest.Hex(t, in)); err == nil {
			t.Errorf("dump(%s) succeeded, want error. Output:\n%s", in, out.String())
		}
	}
}

func TestDemo(t *testing.T) {
	m, err := demoModel()
	if err != nil {
		t.Fatalf("demoModel failed: %v", err)
	}
	in := demoValue()
	bs, err := m.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out bytes.Buffer
	if err := dump(&out, bs); err != nil {
		t.Fatalf("dump of demo value failed: %v", err)
	}

	var got AddressBook
	if err := m.Unmarshal(bs, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(&got, in, cmpopts.IgnoreUnexported(AddressBook{}, Person{})); diff != "" {
		t.Errorf("demo value did not survive a round trip (-got+want):\n%s", diff)
	}
}
