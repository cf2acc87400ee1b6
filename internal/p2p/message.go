package p2p

import (
	"encoding/binary"

	"github.com/WendelHime/swarmget/internal/shared/models"
)

type MessageType uint8

const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

func (t MessageType) known() bool {
	return t <= Cancel
}

// Message is one non-keepalive frame of the peer wire protocol.
type Message struct {
	Type    MessageType
	Payload []byte
}

func FormatRequest(req models.BlockRequest) Message {
	return Message{Type: Request, Payload: blockRequestPayload(req)}
}

func FormatCancel(req models.BlockRequest) Message {
	return Message{Type: Cancel, Payload: blockRequestPayload(req)}
}

func blockRequestPayload(req models.BlockRequest) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(req.Index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(req.Begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(req.Length))
	return payload
}

// ParseRequest decodes the payload of a Request or Cancel message.
func ParseRequest(payload []byte) (models.BlockRequest, error) {
	if len(payload) != 12 {
		return models.BlockRequest{}, protocolError(ErrMalformedPayload, "request payload is %d bytes", len(payload))
	}
	return models.BlockRequest{
		Index:  int(binary.BigEndian.Uint32(payload[0:4])),
		Begin:  int(binary.BigEndian.Uint32(payload[4:8])),
		Length: int(binary.BigEndian.Uint32(payload[8:12])),
	}, nil
}

func FormatPiece(block models.Block) Message {
	payload := make([]byte, 8+len(block.Data))
	binary.BigEndian.PutUint32(payload[0:4], uint32(block.Index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(block.Begin))
	copy(payload[8:], block.Data)
	return Message{Type: Piece, Payload: payload}
}

// ParsePiece decodes the payload of a Piece message. The returned block data
// aliases the payload.
func ParsePiece(payload []byte) (models.Block, error) {
	if len(payload) < 8 {
		return models.Block{}, protocolError(ErrMalformedPayload, "piece payload is %d bytes", len(payload))
	}
	return models.Block{
		Index: int(binary.BigEndian.Uint32(payload[0:4])),
		Begin: int(binary.BigEndian.Uint32(payload[4:8])),
		Data:  payload[8:],
	}, nil
}

func FormatHave(index int) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return Message{Type: Have, Payload: payload}
}

func ParseHave(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, protocolError(ErrMalformedPayload, "have payload is %d bytes", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}
