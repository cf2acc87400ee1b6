// Package seeder runs an in-process peer that serves a single torrent over
// the peer wire protocol, with knobs to misbehave in the ways real peers do.
package seeder

import (
	"io"
	"net"
	"sync"

	"github.com/WendelHime/swarmget/internal/p2p"
	"github.com/WendelHime/swarmget/internal/shared/models"
)

type Options struct {
	// WrongInfoHash answers handshakes with an info hash other than the one
	// the seeder serves.
	WrongInfoHash bool
	// SkipBitfield opens the session with an Unchoke instead of a Bitfield.
	SkipBitfield bool
	// Choke answers Interested with a Choke.
	Choke bool
	// BadBegin maps a piece index to the number of times its first block is
	// answered with a shifted begin offset.
	BadBegin map[int]int
	// ShortBlock maps a piece index to the number of times its first block is
	// answered one byte short.
	ShortBlock map[int]int
	// Corrupt maps a piece index to the number of times its data is served
	// with a flipped byte. A negative count corrupts it forever.
	Corrupt map[int]int
	// Chunked precedes every message with a keepalive and splits it across
	// several writes.
	Chunked bool
	// Have sends a Have message before every Piece message.
	Have bool
	// DropAfter closes a connection after that many blocks have been served.
	DropAfter int
}

type Seeder struct {
	torrent  Torrent
	opts     Options
	listener net.Listener
	peerID   models.PeerID

	mu       sync.Mutex
	attempts map[int]int
	faults   Options
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// Start listens on a random loopback port and serves until Close.
func Start(torrent Torrent, opts Options) (*Seeder, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Seeder{
		torrent:  torrent,
		opts:     opts,
		listener: l,
		attempts: make(map[int]int),
		faults: Options{
			BadBegin:   copyCounts(opts.BadBegin),
			ShortBlock: copyCounts(opts.ShortBlock),
			Corrupt:    copyCounts(opts.Corrupt),
		},
		conns: make(map[net.Conn]struct{}),
	}
	copy(s.peerID[:], "-SD0001-000000000000")

	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func copyCounts(src map[int]int) map[int]int {
	dst := make(map[int]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *Seeder) Addr() models.Addr {
	tcp := s.listener.Addr().(*net.TCPAddr)
	return models.Addr{IP: tcp.IP, Port: uint16(tcp.Port)}
}

func (s *Seeder) PeerID() models.PeerID {
	return s.peerID
}

// Attempts reports how many times the first block of a piece was requested.
func (s *Seeder) Attempts(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[index]
}

func (s *Seeder) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Seeder) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.serve(conn)
		}()
	}
}

func (s *Seeder) serve(conn net.Conn) {
	hs := make([]byte, p2p.HandshakeLength)
	if _, err := io.ReadFull(conn, hs); err != nil {
		return
	}

	reply := p2p.Handshake{InfoHash: s.torrent.Meta.InfoHash, PeerID: s.peerID}
	if s.opts.WrongInfoHash {
		reply.InfoHash[0] ^= 0xff
	}
	if _, err := conn.Write(reply.Bytes()); err != nil {
		return
	}

	w := &writer{conn: conn, chunked: s.opts.Chunked}
	if s.opts.SkipBitfield {
		w.send(p2p.Message{Type: p2p.Unchoke})
		return
	}
	if !w.send(p2p.Message{Type: p2p.Bitfield, Payload: s.bitfield()}) {
		return
	}

	r := p2p.NewReader(conn)
	served := 0
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			return
		}

		switch msg.Type {
		case p2p.Interested:
			if s.opts.Choke {
				w.send(p2p.Message{Type: p2p.Choke})
				return
			}
			if !w.send(p2p.Message{Type: p2p.Unchoke}) {
				return
			}
		case p2p.Request:
			req, err := p2p.ParseRequest(msg.Payload)
			if err != nil {
				return
			}
			if s.opts.Have && !w.send(p2p.FormatHave(req.Index)) {
				return
			}
			if !w.send(p2p.FormatPiece(s.block(req))) {
				return
			}
			served++
			if s.opts.DropAfter > 0 && served >= s.opts.DropAfter {
				return
			}
		}
	}
}

// block builds the answer to req. Faults are applied to the first block of
// a piece, once per attempt.
func (s *Seeder) block(req models.BlockRequest) models.Block {
	begin := req.Index*s.torrent.Meta.Info.PieceLength + req.Begin
	end := min(begin+req.Length, len(s.torrent.Content))
	data := append([]byte(nil), s.torrent.Content[begin:end]...)
	block := models.Block{Index: req.Index, Begin: req.Begin, Data: data}

	if req.Begin != 0 {
		return block
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[req.Index]++
	switch {
	case take(s.faults.BadBegin, req.Index):
		block.Begin += models.BlockSize
	case take(s.faults.ShortBlock, req.Index):
		block.Data = block.Data[:len(block.Data)-1]
	case take(s.faults.Corrupt, req.Index):
		block.Data[0] ^= 0xff
	}
	return block
}

// take reports whether a fault is pending for index and consumes one use of
// it. Negative counts never run out.
func take(faults map[int]int, index int) bool {
	n := faults[index]
	if n == 0 {
		return false
	}
	if n > 0 {
		faults[index] = n - 1
	}
	return true
}

func (s *Seeder) bitfield() []byte {
	n := s.torrent.Meta.NumPieces()
	bits := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		bits[i/8] |= 1 << (7 - uint(i%8))
	}
	return bits
}

type writer struct {
	conn    net.Conn
	chunked bool
}

func (w *writer) send(msg p2p.Message) bool {
	buf, err := p2p.Encode(msg)
	if err != nil {
		return false
	}
	if !w.chunked {
		_, err = w.conn.Write(buf)
		return err == nil
	}

	if _, err := w.conn.Write([]byte{0, 0, 0, 0}); err != nil {
		return false
	}
	for _, n := range []int{3, 5} {
		n = min(n, len(buf))
		if _, err := w.conn.Write(buf[:n]); err != nil {
			return false
		}
		buf = buf[n:]
	}
	_, err = w.conn.Write(buf)
	return err == nil
}
