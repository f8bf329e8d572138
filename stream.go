package pbwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danderson/pbwire/fragments"
)

// WriteDelimited writes the encoding of v to w, prefixed with its
// length as a varint. A stream of such messages can be read back with
// [Model.ReadDelimited].
func (m *Model) WriteDelimited(w io.Writer, v any) error {
	body, err := m.Marshal(v)
	if err != nil {
		return err
	}
	out := fragments.AppendVarint(make([]byte, 0, fragments.MaxVarintLen+len(body)), uint64(len(body)))
	out = append(out, body...)
	_, err = w.Write(out)
	return err
}

// ReadDelimited reads one length-prefixed message written by
// [Model.WriteDelimited] from r, and decodes it into the value pointed
// to by v.
//
// ReadDelimited reads exactly the bytes of one message. It returns
// [io.EOF] if r is at end of stream before the message starts, and
// [io.ErrUnexpectedEOF] if the stream ends partway through.
func (m *Model) ReadDelimited(r io.Reader, v any) error {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = byteReader{r}
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return err
	}
	if n > math.MaxInt32 {
		return fmt.Errorf("message length %d: %w", n, fragments.ErrOverflow)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return m.Unmarshal(buf, v)
}

// byteReader reads one byte at a time from an io.Reader, so that no
// bytes past the length prefix are consumed.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
