// Package pbtest provides helpers for tests of types serialized with
// pbwire.
package pbtest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/danderson/pbwire"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// Model returns a new model configured with opts, which logs to t.
func Model(t testing.TB, opts ...pbwire.Option) *pbwire.Model {
	t.Helper()
	lw := newLogWriter(t)
	t.Cleanup(lw.Flush)
	log := zerolog.New(zerolog.ConsoleWriter{Out: lw, NoColor: true}).Level(zerolog.DebugLevel)
	return pbwire.New(append([]pbwire.Option{pbwire.WithLogger(log)}, opts...)...)
}

// ParseHex returns the bytes described by s, a sequence of hex bytes
// separated by whitespace. Text from a '#' to the end of the line is
// ignored.
func ParseHex(s string) ([]byte, error) {
	var digits strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, f := range strings.Fields(line) {
			if len(f)%2 != 0 {
				return nil, fmt.Errorf("odd length hex group %q", f)
			}
			digits.WriteString(f)
		}
	}
	return hex.DecodeString(digits.String())
}

// Hex is like [ParseHex], but fails the test on invalid input.
func Hex(t testing.TB, s string) []byte {
	t.Helper()
	ret, err := ParseHex(s)
	if err != nil {
		t.Fatalf("invalid hex bytes %q: %v", s, err)
	}
	return ret
}

// Dump formats bs as ParseHex input, 16 bytes per line.
func Dump(bs []byte) string {
	var ret strings.Builder
	for len(bs) > 0 {
		n := min(len(bs), 16)
		fmt.Fprintf(&ret, "% x\n", bs[:n])
		bs = bs[n:]
	}
	return ret.String()
}

// RoundTrip marshals v with m, and checks that the encoding is want,
// unless want is nil. It then unmarshals the encoding into a new T,
// checks that it equals v according to cmp.Diff with opts, and
// returns it.
func RoundTrip[T any](t testing.TB, m *pbwire.Model, v T, want []byte, opts ...cmp.Option) T {
	t.Helper()
	bs, err := m.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal(%#v) failed: %v", v, err)
	}
	if want != nil {
		if diff := cmp.Diff(bs, want); diff != "" {
			t.Fatalf("Marshal(%#v) wrong encoding (-got+want):\n%s", v, diff)
		}
	}

	var got T
	if typ := reflect.TypeFor[T](); typ.Kind() == reflect.Pointer {
		got = reflect.New(typ.Elem()).Interface().(T)
		err = m.Unmarshal(bs, got)
	} else {
		err = m.Unmarshal(bs, &got)
	}
	if err != nil {
		t.Fatalf("Unmarshal(%s) failed: %v", Dump(bs), err)
	}
	if diff := cmp.Diff(got, v, opts...); diff != "" {
		t.Fatalf("Unmarshal(Marshal(%#v)) wrong value (-got+want):\n%s", v, diff)
	}
	return got
}

// Golden checks that got matches the hex bytes in the file at path.
// On mismatch, got is written next to path with a .got suffix.
func Golden(t testing.TB, path string, got []byte) {
	t.Helper()
	wantBs, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading golden file %q: %v", path, err)
		// Deliberately continue with an empty golden, so the
		// expected output still gets written.
	}
	want, err := ParseHex(string(wantBs))
	if err != nil {
		t.Fatalf("parsing golden file %q: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		gotPath := path + ".got"
		os.WriteFile(gotPath, []byte(Dump(got)), 0600)
		t.Errorf("bytes differ from %s (-got+want, got file written to %s):\n%s", path, gotPath, cmp.Diff(Dump(got), Dump(want)))
	}
}

// logWriter writes complete lines to a test log.
type logWriter struct {
	t testing.TB

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLogWriter(t testing.TB) *logWriter {
	return &logWriter{t: t}
}

func (l *logWriter) Write(bs []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(bs)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			return len(bs), nil
		}
		l.t.Log(strings.TrimSuffix(line, "\n"))
	}
}

// Flush logs any incomplete final line.
func (l *logWriter) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.t.Log(l.buf.String())
		l.buf.Reset()
	}
}
