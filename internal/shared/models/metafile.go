package models

import "encoding/hex"

type Metafile struct {
	Announce string `bencode:"announce"`
	Info     Info   `bencode:"info"`
	InfoHash Hash   `bencode:"-"`
}

type Info struct {
	Name         string `bencode:"name"`
	Length       int    `bencode:"length"`
	PieceLength  int    `bencode:"piece length"`
	Pieces       string `bencode:"pieces"`
	PiecesHashes []Hash `bencode:"-"`
	Files        []File `bencode:"files,omitempty"`
}

type File struct {
	Length int      `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NumPieces is the number of pieces the torrent is split into, one per hash.
func (m Metafile) NumPieces() int {
	return len(m.Info.PiecesHashes)
}

// PieceSize returns the size in bytes of the piece at index. Every piece is
// PieceLength long except the last one, which holds the remainder of Length
// when it does not divide evenly.
func (m Metafile) PieceSize(index int) int {
	return PieceSize(m.Info.Length, m.Info.PieceLength, m.NumPieces(), index)
}

func PieceSize(totalLength, pieceLength, numPieces, index int) int {
	if index == numPieces-1 {
		if rem := totalLength % pieceLength; rem != 0 {
			return rem
		}
	}
	return pieceLength
}

type Hash [20]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// PeerID is the 20-byte identifier a client presents in its handshake.
type PeerID [20]byte

func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}
