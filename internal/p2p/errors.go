package p2p

import (
	"errors"
	"fmt"
)

// ErrNetwork and ErrProtocol classify every error returned by this package.
// Callers match them with errors.Is; the more specific sentinels below are
// always wrapped together with ErrProtocol.
var (
	ErrNetwork  = errors.New("network error")
	ErrProtocol = errors.New("protocol error")
)

var (
	ErrInfoHashMismatch  = errors.New("info hash mismatch")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrUnknownMessage    = errors.New("unknown message type")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrPeerChoked        = errors.New("peer choked")
	ErrMalformedPayload  = errors.New("malformed payload")
)

func networkError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

func protocolError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrProtocol, kind, fmt.Sprintf(format, args...))
}
