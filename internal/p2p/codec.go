package p2p

import (
	"encoding/binary"
	"io"
)

// MaxFrameLength bounds the length prefix accepted from and sent to a peer.
const MaxFrameLength = 1 << 16

// DecodeResult is the outcome of a single Decode call.
//
// Consumed is always the number of bytes to drop from the front of the
// buffer, including any keepalives that were absorbed. When Message is nil
// the buffer does not hold a complete frame yet, and Need is the number of
// bytes the remaining buffer must hold before decoding can make progress.
type DecodeResult struct {
	Message  *Message
	Consumed int
	Need     int
}

// Decode reads at most one message from the front of buf. It never retains
// buf: the returned payload is a copy.
func Decode(buf []byte) (DecodeResult, error) {
	consumed := 0
	for {
		rest := buf[consumed:]
		if len(rest) < 4 {
			return DecodeResult{Consumed: consumed, Need: 4}, nil
		}

		length := binary.BigEndian.Uint32(rest)
		if length == 0 {
			consumed += 4
			continue
		}
		if length > MaxFrameLength {
			return DecodeResult{Consumed: consumed}, protocolError(ErrFrameTooLarge, "length prefix %d exceeds %d", length, MaxFrameLength)
		}

		frameLen := 4 + int(length)
		if len(rest) < frameLen {
			return DecodeResult{Consumed: consumed, Need: frameLen}, nil
		}

		typ := MessageType(rest[4])
		if !typ.known() {
			return DecodeResult{Consumed: consumed}, protocolError(ErrUnknownMessage, "tag %d", rest[4])
		}

		var payload []byte
		if frameLen > 5 {
			payload = make([]byte, frameLen-5)
			copy(payload, rest[5:frameLen])
		}

		return DecodeResult{
			Message:  &Message{Type: typ, Payload: payload},
			Consumed: consumed + frameLen,
		}, nil
	}
}

// AppendEncode appends the framed form of m to dst. On error dst is returned
// unchanged.
func AppendEncode(dst []byte, m Message) ([]byte, error) {
	if !m.Type.known() {
		return dst, protocolError(ErrUnknownMessage, "tag %d", m.Type)
	}
	if len(m.Payload)+1 > MaxFrameLength {
		return dst, protocolError(ErrFrameTooLarge, "payload of %d bytes", len(m.Payload))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Payload)+1))
	dst = append(dst, byte(m.Type))
	return append(dst, m.Payload...), nil
}

func Encode(m Message) ([]byte, error) {
	return AppendEncode(nil, m)
}

// WriteMessage frames m and writes it to w in a single call.
func WriteMessage(w io.Writer, m Message) error {
	buf, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
