package models

// BlockSize is the canonical request size; peers close connections asking
// for more.
const BlockSize = 16 * 1024

// BlockRequest identifies one block of a piece on the wire.
type BlockRequest struct {
	Index  int
	Begin  int
	Length int
}

// Block is the payload of a Piece message.
type Block struct {
	Index int
	Begin int
	Data  []byte
}

// PieceResult is a verified piece travelling from a session to the
// coordinator.
type PieceResult struct {
	Index int
	Data  []byte
}

// Blocks splits a piece into the ordered list of block requests needed to
// fetch it.
func Blocks(index, pieceSize int) []BlockRequest {
	count := (pieceSize + BlockSize - 1) / BlockSize
	blocks := make([]BlockRequest, count)
	for b := range blocks {
		length := BlockSize
		if b == count-1 && pieceSize%BlockSize != 0 {
			length = pieceSize % BlockSize
		}
		blocks[b] = BlockRequest{Index: index, Begin: b * BlockSize, Length: length}
	}
	return blocks
}
