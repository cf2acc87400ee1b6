package p2p

import (
	"errors"
	"net"
	"time"

	"github.com/WendelHime/swarmget/internal/shared/models"
)

// P2PClient is an established, handshaken connection to one peer.
type P2PClient interface {
	ReadMessage() (Message, error)
	WriteMessage(msg Message) error
	RemotePeerID() models.PeerID
	RemoteAddr() models.Addr
	Close() error
}

// Connector opens handshaken connections on behalf of one local peer id.
type Connector interface {
	Connect(address models.Addr, infoHash models.Hash) (P2PClient, error)
}

type connector struct {
	peerID  models.PeerID
	timeout time.Duration
}

// NewConnector returns a Connector dialing over TCP. The timeout bounds the
// dial and the handshake; once connected, reads block for as long as the
// peer stays silent. A zero timeout disables it.
func NewConnector(peerID models.PeerID, timeout time.Duration) Connector {
	return connector{peerID: peerID, timeout: timeout}
}

func (c connector) Connect(address models.Addr, infoHash models.Hash) (P2PClient, error) {
	conn, err := net.DialTimeout("tcp", address.String(), c.timeout)
	if err != nil {
		return nil, networkError("dial", err)
	}

	if c.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			conn.Close()
			return nil, networkError("set deadline", err)
		}
	}

	remote, err := exchangeHandshake(conn, Handshake{InfoHash: infoHash, PeerID: c.peerID})
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, networkError("clear deadline", err)
	}

	return &client{
		conn:   conn,
		reader: NewReader(conn),
		addr:   address,
		peerID: remote.PeerID,
	}, nil
}

type client struct {
	conn   net.Conn
	reader *Reader
	addr   models.Addr
	peerID models.PeerID
}

func (c *client) RemotePeerID() models.PeerID {
	return c.peerID
}

func (c *client) RemoteAddr() models.Addr {
	return c.addr
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *client) WriteMessage(msg Message) error {
	err := WriteMessage(c.conn, msg)
	if err != nil && !errors.Is(err, ErrProtocol) {
		return networkError("write "+msg.Type.String(), err)
	}
	return err
}

func (c *client) ReadMessage() (Message, error) {
	msg, err := c.reader.ReadMessage()
	if err != nil && !errors.Is(err, ErrProtocol) {
		return Message{}, networkError("read message", err)
	}
	return msg, err
}
