package logic

import "errors"

var (
	// ErrHashMismatch and ErrBlockMismatch cost a session its current piece
	// but not its connection.
	ErrHashMismatch  = errors.New("piece hash mismatch")
	ErrBlockMismatch = errors.New("block does not match request")

	// ErrUnreliablePeer ends a session whose peer failed too many pieces in a
	// row.
	ErrUnreliablePeer = errors.New("peer failed too many pieces in a row")

	// ErrDuplicatePiece means two sessions delivered the same piece, which the
	// queue is supposed to make impossible. It aborts the download.
	ErrDuplicatePiece = errors.New("duplicate piece")
	ErrMissingPiece   = errors.New("missing piece")
	ErrStalled        = errors.New("download stalled")
	ErrNoPeers        = errors.New("no peers found")
	ErrPieceIndex     = errors.New("piece index out of range")
)
