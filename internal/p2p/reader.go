package p2p

import (
	"errors"
	"io"
)

const minReadSize = 4 * 1024

// Reader turns a byte stream delivered in arbitrary chunks into messages.
type Reader struct {
	r   io.Reader
	buf []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, 0, minReadSize)}
}

// ReadMessage blocks until a full message is buffered. Keepalives are
// swallowed. A stream that ends in the middle of a frame yields
// io.ErrUnexpectedEOF.
func (r *Reader) ReadMessage() (Message, error) {
	for {
		res, err := Decode(r.buf)
		r.buf = r.buf[res.Consumed:]
		if err != nil {
			return Message{}, err
		}
		if res.Message != nil {
			return *res.Message, nil
		}
		if err := r.fill(res.Need); err != nil {
			return Message{}, err
		}
	}
}

// fill reserves room for at least need buffered bytes and performs one read.
func (r *Reader) fill(need int) error {
	if cap(r.buf) < need || len(r.buf) == cap(r.buf) {
		grown := make([]byte, len(r.buf), max(need, minReadSize))
		copy(grown, r.buf)
		r.buf = grown
	}

	n, err := r.r.Read(r.buf[len(r.buf):cap(r.buf)])
	r.buf = r.buf[:len(r.buf)+n]
	if n > 0 || err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && len(r.buf) > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}
