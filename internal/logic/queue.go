package logic

import "sync"

// PieceQueue is the pool of piece indices still waiting for a session. Every
// index is either pending, taken by exactly one session, done or abandoned.
type PieceQueue struct {
	mu          sync.Mutex
	changed     *sync.Cond
	done        chan struct{}
	pending     []int
	taken       map[int]struct{}
	failures    map[int]int
	abandoned   []int
	maxAttempts int
	closed      bool
}

// NewPieceQueue seeds the queue with indices in the given order. A piece
// that fails maxAttempts times is abandoned instead of requeued; zero means
// pieces are retried forever.
func NewPieceQueue(indices []int, maxAttempts int) *PieceQueue {
	pending := make([]int, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, index := range indices {
		if _, ok := seen[index]; ok {
			continue
		}
		seen[index] = struct{}{}
		pending = append(pending, index)
	}

	q := &PieceQueue{
		done:        make(chan struct{}),
		pending:     pending,
		taken:       make(map[int]struct{}),
		failures:    make(map[int]int),
		maxAttempts: maxAttempts,
	}
	q.changed = sync.NewCond(&q.mu)
	return q
}

// TakeNext removes the earliest pending index. While nothing is pending but
// other sessions still hold pieces it waits, since any of them may come back.
// It reports false once nothing is pending or in flight, or the queue was
// closed.
func (q *PieceQueue) TakeNext() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && len(q.pending) == 0 && len(q.taken) > 0 {
		q.changed.Wait()
	}
	if q.closed || len(q.pending) == 0 {
		return 0, false
	}
	index := q.pending[0]
	q.pending = q.pending[1:]
	q.taken[index] = struct{}{}
	return index, true
}

// ReturnFailed hands a taken index back for another attempt by any session.
// It reports whether the index was requeued; it is not when the index was
// never taken, the queue is closed or its attempts are exhausted.
func (q *PieceQueue) ReturnFailed(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.taken[index]; !ok {
		return false
	}
	delete(q.taken, index)
	defer q.changed.Broadcast()

	q.failures[index]++
	if q.maxAttempts > 0 && q.failures[index] >= q.maxAttempts {
		q.abandoned = append(q.abandoned, index)
		return false
	}
	if q.closed {
		return false
	}
	q.pending = append(q.pending, index)
	return true
}

// Done marks a taken index as delivered.
func (q *PieceQueue) Done(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.taken, index)
	q.changed.Broadcast()
}

func (q *PieceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *PieceQueue) Abandoned() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.abandoned...)
}

// Close empties the queue for good so that sessions wind down.
func (q *PieceQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
	q.changed.Broadcast()
}

// Closed is closed by Close.
func (q *PieceQueue) Closed() <-chan struct{} {
	return q.done
}
