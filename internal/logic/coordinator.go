package logic

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/WendelHime/swarmget/internal/p2p"
	"github.com/WendelHime/swarmget/internal/shared/models"
)

// Coordinator runs one session per peer against a shared queue and collects
// their verified pieces.
type Coordinator struct {
	meta        models.Metafile
	connector   p2p.Connector
	log         *slog.Logger
	maxAttempts int
	onPiece     func(size int)
}

type CoordinatorOption func(*Coordinator)

// WithMaxAttempts abandons a piece after n failed attempts.
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithProgress is called with the size of every verified piece.
func WithProgress(fn func(size int)) CoordinatorOption {
	return func(c *Coordinator) { c.onPiece = fn }
}

func NewCoordinator(meta models.Metafile, connector p2p.Connector, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		meta:      meta,
		connector: connector,
		log:       logger,
		onPiece:   func(int) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download fetches every piece and returns the whole content.
func (c *Coordinator) Download(peers []models.Addr) ([]byte, error) {
	indices := make([]int, c.meta.NumPieces())
	for i := range indices {
		indices[i] = i
	}
	return c.DownloadPieces(peers, indices)
}

// DownloadPieces fetches the given pieces and returns them concatenated in
// ascending index order.
func (c *Coordinator) DownloadPieces(peers []models.Addr, indices []int) ([]byte, error) {
	wanted := make(map[int]struct{}, len(indices))
	for _, index := range indices {
		if index < 0 || index >= c.meta.NumPieces() {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrPieceIndex, index, c.meta.NumPieces())
		}
		wanted[index] = struct{}{}
	}
	if len(wanted) == 0 {
		return []byte{}, nil
	}
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}

	queue := NewPieceQueue(indices, c.maxAttempts)
	results := make(chan models.PieceResult, len(wanted))

	var wg sync.WaitGroup
	for _, addr := range peers {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := NewSession(addr, c.meta, queue, results, c.connector, c.log)
			if err := session.Run(); err != nil {
				c.log.Warn("session ended", slog.String("peer", addr.String()), slog.Any("error", err))
				return
			}
			c.log.Debug("session drained the queue", slog.String("peer", addr.String()))
		}()
	}
	sessionsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(sessionsDone)
	}()

	pieces, err := c.collect(wanted, results, sessionsDone, queue)
	if err != nil {
		queue.Close()
		return nil, err
	}
	return assemble(pieces, wanted)
}

// collect drains results until every wanted piece arrived. If every session
// exits first, it reports ErrStalled instead of waiting forever.
func (c *Coordinator) collect(wanted map[int]struct{}, results <-chan models.PieceResult, sessionsDone <-chan struct{}, queue *PieceQueue) (map[int][]byte, error) {
	pieces := make(map[int][]byte, len(wanted))
	receive := func(res models.PieceResult) error {
		if _, ok := wanted[res.Index]; !ok {
			return fmt.Errorf("%w: piece %d was never requested", ErrDuplicatePiece, res.Index)
		}
		if _, ok := pieces[res.Index]; ok {
			return fmt.Errorf("%w: piece %d", ErrDuplicatePiece, res.Index)
		}
		pieces[res.Index] = res.Data
		c.onPiece(len(res.Data))
		c.log.Info("piece downloaded", slog.Int("piece", res.Index), slog.Int("received", len(pieces)), slog.Int("wanted", len(wanted)))
		return nil
	}

	for len(pieces) < len(wanted) {
		select {
		case res := <-results:
			if err := receive(res); err != nil {
				return nil, err
			}
		case <-sessionsDone:
			for len(results) > 0 {
				if err := receive(<-results); err != nil {
					return nil, err
				}
			}
			if len(pieces) == len(wanted) {
				return pieces, nil
			}
			return nil, fmt.Errorf("%w: all sessions ended with pieces %v missing (abandoned %v)", ErrStalled, missing(wanted, pieces), queue.Abandoned())
		}
	}
	return pieces, nil
}

func missing(wanted map[int]struct{}, pieces map[int][]byte) []int {
	var out []int
	for index := range wanted {
		if _, ok := pieces[index]; !ok {
			out = append(out, index)
		}
	}
	slices.Sort(out)
	return out
}

func assemble(pieces map[int][]byte, wanted map[int]struct{}) ([]byte, error) {
	order := make([]int, 0, len(wanted))
	size := 0
	for index := range wanted {
		data, ok := pieces[index]
		if !ok {
			return nil, fmt.Errorf("%w: piece %d", ErrMissingPiece, index)
		}
		order = append(order, index)
		size += len(data)
	}
	slices.Sort(order)

	out := make([]byte, 0, size)
	for _, index := range order {
		out = append(out, pieces[index]...)
	}
	return out, nil
}
