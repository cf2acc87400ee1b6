package logic

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WendelHime/swarmget/internal/p2p"
	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/google/uuid"
)

// MaxConsecutiveFailures is how many pieces in a row a peer may fail
// verification before its session gives up the connection.
const MaxConsecutiveFailures = 5

// Session drives one peer connection: handshake, negotiation, then piece
// after piece from the shared queue until it runs dry.
type Session struct {
	addr      models.Addr
	meta      models.Metafile
	queue     *PieceQueue
	results   chan<- models.PieceResult
	connector p2p.Connector
	log       *slog.Logger
}

func NewSession(addr models.Addr, meta models.Metafile, queue *PieceQueue, results chan<- models.PieceResult, connector p2p.Connector, logger *slog.Logger) *Session {
	return &Session{
		addr:      addr,
		meta:      meta,
		queue:     queue,
		results:   results,
		connector: connector,
		log:       logger.With(slog.String("session", uuid.NewString()), slog.String("peer", addr.String())),
	}
}

// Run returns nil once the queue has nothing left to hand out or was closed.
// Any other return means the connection is unusable or the peer kept failing
// verification; a piece held at that point has been returned to the queue.
func (s *Session) Run() error {
	client, err := s.connector.Connect(s.addr, s.meta.InfoHash)
	if err != nil {
		return err
	}
	defer client.Close()
	s.log.Debug("handshake completed", slog.String("remote_peer_id", client.RemotePeerID().String()))

	if err := negotiate(client); err != nil {
		return err
	}

	failures := 0
	for {
		index, ok := s.queue.TakeNext()
		if !ok {
			return nil
		}

		data, err := s.downloadPiece(client, index)
		if err != nil {
			requeued := s.queue.ReturnFailed(index)
			s.log.Warn("failed to download piece", slog.Int("piece", index), slog.Bool("requeued", requeued), slog.Any("error", err))
			if !errors.Is(err, ErrBlockMismatch) && !errors.Is(err, ErrHashMismatch) {
				return err
			}
			failures++
			if failures >= MaxConsecutiveFailures {
				return fmt.Errorf("%w: %d failures, last: %w", ErrUnreliablePeer, failures, err)
			}
			continue
		}
		failures = 0

		s.queue.Done(index)
		s.log.Debug("piece verified", slog.Int("piece", index), slog.Int("size", len(data)))
		select {
		case s.results <- models.PieceResult{Index: index, Data: data}:
		case <-s.queue.Closed():
			return nil
		}
	}
}

// negotiate expects a Bitfield, declares interest and waits to be unchoked.
func negotiate(client p2p.P2PClient) error {
	msg, err := client.ReadMessage()
	if err != nil {
		return fmt.Errorf("await bitfield: %w", err)
	}
	if msg.Type != p2p.Bitfield {
		return fmt.Errorf("await bitfield: %w: %w: got %s", p2p.ErrProtocol, p2p.ErrUnexpectedMessage, msg.Type)
	}

	if err := client.WriteMessage(p2p.Message{Type: p2p.Interested}); err != nil {
		return err
	}

	msg, err = client.ReadMessage()
	if err != nil {
		return fmt.Errorf("await unchoke: %w", err)
	}
	switch {
	case msg.Type == p2p.Choke:
		return fmt.Errorf("await unchoke: %w: %w", p2p.ErrProtocol, p2p.ErrPeerChoked)
	case msg.Type != p2p.Unchoke:
		return fmt.Errorf("await unchoke: %w: %w: got %s", p2p.ErrProtocol, p2p.ErrUnexpectedMessage, msg.Type)
	case len(msg.Payload) != 0:
		return fmt.Errorf("await unchoke: %w: %w: unchoke carries %d bytes", p2p.ErrProtocol, p2p.ErrMalformedPayload, len(msg.Payload))
	}
	return nil
}

// downloadPiece requests the blocks of a piece one at a time and checks the
// assembled bytes against the piece hash.
func (s *Session) downloadPiece(client p2p.P2PClient, index int) ([]byte, error) {
	size := s.meta.PieceSize(index)
	data := make([]byte, 0, size)

	for _, req := range models.Blocks(index, size) {
		if err := client.WriteMessage(p2p.FormatRequest(req)); err != nil {
			return nil, err
		}

		block, err := awaitBlock(client)
		if err != nil {
			return nil, err
		}
		if block.Index != req.Index || block.Begin != req.Begin {
			return nil, fmt.Errorf("%w: requested %d@%d, got %d@%d", ErrBlockMismatch, req.Index, req.Begin, block.Index, block.Begin)
		}
		if len(block.Data) != req.Length {
			return nil, fmt.Errorf("%w: requested %d bytes, got %d", ErrBlockMismatch, req.Length, len(block.Data))
		}
		data = append(data, block.Data...)
	}

	hash := sha1.Sum(data)
	expected := s.meta.Info.PiecesHashes[index]
	if !bytes.Equal(hash[:], expected[:]) {
		return nil, fmt.Errorf("%w: piece %d", ErrHashMismatch, index)
	}
	return data, nil
}

// awaitBlock reads the answer to the outstanding request. Have messages may
// arrive at any time and are skipped.
func awaitBlock(client p2p.P2PClient) (models.Block, error) {
	for {
		msg, err := client.ReadMessage()
		if err != nil {
			return models.Block{}, err
		}

		switch msg.Type {
		case p2p.Piece:
			block, err := p2p.ParsePiece(msg.Payload)
			if err != nil {
				return models.Block{}, fmt.Errorf("%w: %w", ErrBlockMismatch, err)
			}
			return block, nil
		case p2p.Have:
			continue
		case p2p.Choke:
			return models.Block{}, fmt.Errorf("%w: %w", p2p.ErrProtocol, p2p.ErrPeerChoked)
		default:
			return models.Block{}, fmt.Errorf("await piece: %w: %w: got %s", p2p.ErrProtocol, p2p.ErrUnexpectedMessage, msg.Type)
		}
	}
}
