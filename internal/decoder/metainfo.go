package decoder

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/zeebo/bencode"
)

var (
	ErrMultiFileUnsupported = errors.New("multi-file torrents are not supported")
	ErrInvalidPieces        = errors.New("pieces length is not a multiple of 20")
	ErrInvalidPieceLength   = errors.New("piece length must be positive")
	ErrPieceCount           = errors.New("piece count does not cover length")
)

type MetafileDecoder interface {
	Decode(io.Reader) (models.Metafile, error)
}

type decoder struct{}

func NewDecoder() MetafileDecoder {
	return decoder{}
}

// serialization struct the represents the structure of a .torrent file
// it is not immediately usable, so it can be converted to a Metafile struct
type bencodeTorrent struct {
	// URL of tracker server to get peers from
	Announce string `bencode:"announce"`
	// Info is parsed as a RawMessage to ensure that the final info_hash is
	// correct even in the case of the info dictionary being an unexpected shape
	Info bencode.RawMessage `bencode:"info"`
}

func (decoder) Decode(torrent io.Reader) (models.Metafile, error) {
	var response models.Metafile
	var bt bencodeTorrent
	if err := bencode.NewDecoder(torrent).Decode(&bt); err != nil {
		return response, fmt.Errorf("failed to decode torrent: %w", err)
	}

	response.Announce = bt.Announce
	response.InfoHash = sha1.Sum(bt.Info)
	if err := bencode.DecodeBytes(bt.Info, &response.Info); err != nil {
		return response, fmt.Errorf("failed to decode torrent info: %w", err)
	}

	if len(response.Info.Files) > 0 || response.Info.Length <= 0 {
		return response, ErrMultiFileUnsupported
	}
	if response.Info.PieceLength <= 0 {
		return response, ErrInvalidPieceLength
	}

	hashes, err := splitPieceHashes(response.Info.Pieces)
	if err != nil {
		return response, err
	}
	response.Info.PiecesHashes = hashes

	expected := (response.Info.Length + response.Info.PieceLength - 1) / response.Info.PieceLength
	if len(hashes) != expected {
		return response, fmt.Errorf("%w: %d hashes for %d pieces", ErrPieceCount, len(hashes), expected)
	}

	return response, nil
}

func splitPieceHashes(pieces string) ([]models.Hash, error) {
	if len(pieces)%20 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPieces, len(pieces))
	}

	hashes := make([]models.Hash, len(pieces)/20)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}
