package logic

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WendelHime/swarmget/internal/p2p"
	"github.com/WendelHime/swarmget/internal/seeder"
	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPeerID = models.PeerID{'-', 'T', 'S', '0', '0', '0', '1', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b'}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func content(size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(i*7 + i/251)
	}
	return out
}

// newTorrent has two pieces: a full one of two blocks and a short one.
func newTorrent(t *testing.T) seeder.Torrent {
	torrent, err := seeder.NewTorrent("sample.bin", content(2*models.BlockSize+7232), 2*models.BlockSize)
	require.NoError(t, err)
	return torrent
}

func startSeeder(t *testing.T, torrent seeder.Torrent, opts seeder.Options) *seeder.Seeder {
	s, err := seeder.Start(torrent, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func received(results chan models.PieceResult) map[int][]byte {
	out := make(map[int][]byte)
	for {
		select {
		case res := <-results:
			out[res.Index] = res.Data
		default:
			return out
		}
	}
}

func TestSessionRun(t *testing.T) {
	torrent := newTorrent(t)
	connector := p2p.NewConnector(testPeerID, time.Second)

	var tests = []struct {
		name        string
		opts        seeder.Options
		maxAttempts int
		assert      func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error)
	}{
		{
			name: "downloads every piece",
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				require.NoError(t, err)
				require.Len(t, pieces, 2)
				assert.Equal(t, torrent.Piece(0), pieces[0])
				assert.Equal(t, torrent.Piece(1), pieces[1])
				assert.Len(t, pieces[1], 7232)
			},
		},
		{
			name: "keepalives, split frames and have messages are tolerated",
			opts: seeder.Options{Chunked: true, Have: true},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				require.NoError(t, err)
				assert.Equal(t, torrent.Piece(0), pieces[0])
				assert.Equal(t, torrent.Piece(1), pieces[1])
			},
		},
		{
			name: "wrong begin offset requeues the piece",
			opts: seeder.Options{BadBegin: map[int]int{0: 1}},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				require.NoError(t, err)
				assert.Equal(t, torrent.Piece(0), pieces[0])
				assert.Equal(t, 2, s.Attempts(0))
				assert.Equal(t, 1, s.Attempts(1))
			},
		},
		{
			name: "short block requeues the piece",
			opts: seeder.Options{ShortBlock: map[int]int{1: 1}},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				require.NoError(t, err)
				assert.Equal(t, torrent.Piece(1), pieces[1])
				assert.Equal(t, 2, s.Attempts(1))
			},
		},
		{
			name: "hash mismatch requeues the piece",
			opts: seeder.Options{Corrupt: map[int]int{1: 2}},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				require.NoError(t, err)
				assert.Equal(t, torrent.Piece(1), pieces[1])
				assert.Equal(t, 3, s.Attempts(1))
			},
		},
		{
			name:        "piece abandoned after max attempts",
			opts:        seeder.Options{Corrupt: map[int]int{0: -1}},
			maxAttempts: 3,
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				require.NoError(t, err)
				require.Len(t, pieces, 1)
				assert.Equal(t, torrent.Piece(1), pieces[1])
				assert.Equal(t, 3, s.Attempts(0))
				assert.Equal(t, []int{0}, q.Abandoned())
			},
		},
		{
			name: "peer failing every piece gives up the connection",
			opts: seeder.Options{Corrupt: map[int]int{0: -1, 1: -1}},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				assert.ErrorIs(t, err, ErrUnreliablePeer)
				assert.ErrorIs(t, err, ErrHashMismatch)
				assert.Empty(t, pieces)
				assert.Equal(t, MaxConsecutiveFailures, s.Attempts(0)+s.Attempts(1))
				assert.Equal(t, 2, q.Len())
				assert.Empty(t, q.Abandoned())
			},
		},
		{
			name: "first message is not a bitfield",
			opts: seeder.Options{SkipBitfield: true},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				assert.ErrorIs(t, err, p2p.ErrProtocol)
				assert.ErrorIs(t, err, p2p.ErrUnexpectedMessage)
				assert.Empty(t, pieces)
				assert.Equal(t, 2, q.Len())
			},
		},
		{
			name: "choked instead of unchoked",
			opts: seeder.Options{Choke: true},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				assert.ErrorIs(t, err, p2p.ErrPeerChoked)
				assert.Equal(t, 2, q.Len())
			},
		},
		{
			name: "info hash mismatch",
			opts: seeder.Options{WrongInfoHash: true},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				assert.ErrorIs(t, err, p2p.ErrInfoHashMismatch)
				assert.Equal(t, 0, s.Attempts(0))
				assert.Equal(t, 2, q.Len())
			},
		},
		{
			name: "connection lost mid piece returns the piece",
			opts: seeder.Options{DropAfter: 1},
			assert: func(t *testing.T, s *seeder.Seeder, q *PieceQueue, pieces map[int][]byte, err error) {
				assert.ErrorIs(t, err, p2p.ErrNetwork)
				assert.Empty(t, pieces)
				assert.Equal(t, []int{1, 0}, drain(q))
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := startSeeder(t, torrent, tt.opts)
			q := NewPieceQueue([]int{0, 1}, tt.maxAttempts)
			results := make(chan models.PieceResult, 2)

			err := NewSession(s.Addr(), torrent.Meta, q, results, connector, discardLogger()).Run()
			tt.assert(t, s, q, received(results), err)
		})
	}
}

func TestSessionUnreachablePeer(t *testing.T) {
	torrent := newTorrent(t)
	s := startSeeder(t, torrent, seeder.Options{})
	addr := s.Addr()
	require.NoError(t, s.Close())

	q := NewPieceQueue([]int{0, 1}, 0)
	err := NewSession(addr, torrent.Meta, q, make(chan models.PieceResult, 2), p2p.NewConnector(testPeerID, time.Second), discardLogger()).Run()
	assert.ErrorIs(t, err, p2p.ErrNetwork)
	assert.Equal(t, 2, q.Len())
}

func TestSessionStopsDeliveringOnceQueueClosed(t *testing.T) {
	torrent := newTorrent(t)
	s := startSeeder(t, torrent, seeder.Options{})
	q := NewPieceQueue([]int{0, 1}, 0)
	// nobody receives, so the first verified piece cannot be delivered
	results := make(chan models.PieceResult)

	done := make(chan error, 1)
	go func() {
		done <- NewSession(s.Addr(), torrent.Meta, q, results, p2p.NewConnector(testPeerID, time.Second), discardLogger()).Run()
	}()

	require.Eventually(t, func() bool { return s.Attempts(0) == 1 }, 5*time.Second, 10*time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session blocked on delivery after the queue was closed")
	}
}
