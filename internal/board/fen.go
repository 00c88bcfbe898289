package board

import (
	nchess "github.com/corentings/chess/v2"
)

var kindToType = map[Kind]nchess.PieceType{
	Pawn:   nchess.Pawn,
	Rook:   nchess.Rook,
	Bishop: nchess.Bishop,
	Knight: nchess.Knight,
	Queen:  nchess.Queen,
	King:   nchess.King,
}

// Chess converts the grid into a chess library board. Column x maps to file
// a+x and row y to rank 1+y, Light to White.
func (b *Board) Chess() *nchess.Board {
	m := make(map[nchess.Square]nchess.Piece, len(b.live))
	for p := range b.live {
		clr := nchess.White
		if p.Colour == Dark {
			clr = nchess.Black
		}
		sq := nchess.NewSquare(nchess.File(p.X), nchess.Rank(p.Y))
		m[sq] = nchess.NewPiece(kindToType[p.Kind], clr)
	}
	return nchess.NewBoard(m)
}

// FEN returns the piece-placement field of the current position.
func (b *Board) FEN() string {
	return b.Chess().String()
}
