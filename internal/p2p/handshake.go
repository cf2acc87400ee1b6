package p2p

import (
	"bytes"
	"fmt"
	"io"

	"github.com/WendelHime/swarmget/internal/shared/models"
)

const (
	protocolID      = "BitTorrent protocol"
	HandshakeLength = 68
)

type Handshake struct {
	InfoHash models.Hash
	PeerID   models.PeerID
}

// handshake request to bytes
func (h Handshake) Bytes() []byte {
	buf := make([]byte, 0, HandshakeLength)
	buf = append(buf, byte(len(protocolID)))
	buf = append(buf, protocolID...)
	buf = append(buf, make([]byte, 8)...) // eight reserved bytes
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// decodeHandshake only looks at the info hash and peer id; the protocol
// string and reserved bytes of the remote are accepted as sent.
func decodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) != HandshakeLength {
		return Handshake{}, protocolError(ErrMalformedPayload, "handshake is %d bytes", len(buf))
	}

	var h Handshake
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}

// exchangeHandshake sends ours and reads exactly one handshake back, failing
// with ErrInfoHashMismatch when the remote serves another torrent.
func exchangeHandshake(rw io.ReadWriter, local Handshake) (Handshake, error) {
	if _, err := rw.Write(local.Bytes()); err != nil {
		return Handshake{}, networkError("write handshake", err)
	}

	resp := make([]byte, HandshakeLength)
	if _, err := io.ReadFull(rw, resp); err != nil {
		return Handshake{}, networkError("read handshake", err)
	}

	remote, err := decodeHandshake(resp)
	if err != nil {
		return Handshake{}, err
	}

	if !bytes.Equal(remote.InfoHash[:], local.InfoHash[:]) {
		return Handshake{}, fmt.Errorf("%w: %w: expected %s but got %s", ErrProtocol, ErrInfoHashMismatch, local.InfoHash, remote.InfoHash)
	}

	return remote, nil
}
