package seeder

import (
	"crypto/sha1"

	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/zeebo/bencode"
)

type torrentInfo struct {
	Length      int    `bencode:"length"`
	Name        string `bencode:"name"`
	PieceLength int    `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
}

type torrentFile struct {
	Announce string      `bencode:"announce"`
	Info     torrentInfo `bencode:"info"`
}

// Torrent describes content the way a .torrent file would, and can render
// itself as one.
type Torrent struct {
	Announce string
	Name     string
	Content  []byte
	Meta     models.Metafile
}

// NewTorrent splits content into pieces of pieceLength and computes every
// hash, including the info hash of the bencoded info dictionary.
func NewTorrent(name string, content []byte, pieceLength int) (Torrent, error) {
	info := torrentInfo{Length: len(content), Name: name, PieceLength: pieceLength}
	hashes := make([]models.Hash, 0, (len(content)+pieceLength-1)/pieceLength)
	pieces := make([]byte, 0, cap(hashes)*20)
	for begin := 0; begin < len(content); begin += pieceLength {
		h := sha1.Sum(content[begin:min(begin+pieceLength, len(content))])
		hashes = append(hashes, h)
		pieces = append(pieces, h[:]...)
	}
	info.Pieces = string(pieces)

	raw, err := bencode.EncodeBytes(info)
	if err != nil {
		return Torrent{}, err
	}

	return Torrent{
		Name:    name,
		Content: content,
		Meta: models.Metafile{
			InfoHash: sha1.Sum(raw),
			Info: models.Info{
				Name:         name,
				Length:       len(content),
				PieceLength:  pieceLength,
				Pieces:       info.Pieces,
				PiecesHashes: hashes,
			},
		},
	}, nil
}

// Bytes renders the .torrent file pointing at announce.
func (t Torrent) Bytes(announce string) ([]byte, error) {
	return bencode.EncodeBytes(torrentFile{
		Announce: announce,
		Info: torrentInfo{
			Length:      t.Meta.Info.Length,
			Name:        t.Meta.Info.Name,
			PieceLength: t.Meta.Info.PieceLength,
			Pieces:      t.Meta.Info.Pieces,
		},
	})
}

// Piece returns the bytes of the piece at index.
func (t Torrent) Piece(index int) []byte {
	begin := index * t.Meta.Info.PieceLength
	end := begin + t.Meta.PieceSize(index)
	return t.Content[begin:end:end]
}
