// Package board holds the 8x8 piece grid of one game. It relocates pieces
// without any rule checking: the two players are trusted to agree on legality.
package board

import (
	"errors"
	"fmt"
)

const Size = 8

var ErrInvalidCoordinates = errors.New("invalid coordinates")

type Kind int

const (
	Pawn Kind = iota
	Rook
	Bishop
	Knight
	Queen
	King
)

func (k Kind) String() string {
	switch k {
	case Pawn:
		return "pawn"
	case Rook:
		return "rook"
	case Bishop:
		return "bishop"
	case Knight:
		return "knight"
	case Queen:
		return "queen"
	case King:
		return "king"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Colour int

const (
	Light Colour = iota
	Dark
)

func (c Colour) Opponent() Colour {
	if c == Light {
		return Dark
	}
	return Light
}

// Piece records its own cell; the board keeps X/Y in step with the grid.
type Piece struct {
	Kind   Kind
	Colour Colour
	X, Y   int
}

type Move struct {
	FromX, FromY, ToX, ToY int
}

func (m Move) inRange() bool {
	for _, v := range [...]int{m.FromX, m.FromY, m.ToX, m.ToY} {
		if v < 0 || v >= Size {
			return false
		}
	}
	return true
}

// Notation renders m in coordinate notation, e.g. "e2e4".
func (m Move) Notation() string {
	if !m.inRange() {
		return fmt.Sprintf("(%d,%d)(%d,%d)", m.FromX, m.FromY, m.ToX, m.ToY)
	}
	return square(m.FromX, m.FromY) + square(m.ToX, m.ToY)
}

func square(x, y int) string {
	return string(rune('a'+x)) + string(rune('1'+y))
}

var backRank = [Size]Kind{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}

type Board struct {
	grid [Size][Size]*Piece
	live map[*Piece]struct{}
}

// New returns a board in the opening layout.
func New() *Board {
	b := &Board{}
	b.Initialize()
	return b
}

// Initialize places Light on rows 0-1 and Dark on rows 6-7, discarding
// whatever was on the board.
func (b *Board) Initialize() {
	b.grid = [Size][Size]*Piece{}
	b.live = make(map[*Piece]struct{}, 4*Size)
	for x := 0; x < Size; x++ {
		b.place(&Piece{Kind: backRank[x], Colour: Light, X: x, Y: 0})
		b.place(&Piece{Kind: Pawn, Colour: Light, X: x, Y: 1})
		b.place(&Piece{Kind: Pawn, Colour: Dark, X: x, Y: Size - 2})
		b.place(&Piece{Kind: backRank[x], Colour: Dark, X: x, Y: Size - 1})
	}
}

func (b *Board) place(p *Piece) {
	b.grid[p.X][p.Y] = p
	b.live[p] = struct{}{}
}

// ApplyMove moves whatever stands on the origin cell to the target cell,
// removing any piece already there. On error the board is unchanged.
func (b *Board) ApplyMove(m Move) error {
	if !m.inRange() {
		return fmt.Errorf("%w: %d,%d -> %d,%d", ErrInvalidCoordinates, m.FromX, m.FromY, m.ToX, m.ToY)
	}
	p := b.grid[m.FromX][m.FromY]
	if p == nil {
		return fmt.Errorf("%w: no piece at %s", ErrInvalidCoordinates, square(m.FromX, m.FromY))
	}
	if victim := b.grid[m.ToX][m.ToY]; victim != nil && victim != p {
		delete(b.live, victim)
	}
	b.grid[m.FromX][m.FromY] = nil
	p.X, p.Y = m.ToX, m.ToY
	b.grid[m.ToX][m.ToY] = p
	return nil
}

// Piece returns a copy of the piece at (x, y).
func (b *Board) Piece(x, y int) (Piece, bool) {
	if x < 0 || x >= Size || y < 0 || y >= Size || b.grid[x][y] == nil {
		return Piece{}, false
	}
	return *b.grid[x][y], true
}

// Pieces returns copies of every live piece in column-major grid order.
func (b *Board) Pieces() []Piece {
	out := make([]Piece, 0, len(b.live))
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if p := b.grid[x][y]; p != nil {
				out = append(out, *p)
			}
		}
	}
	return out
}

// Len is the size of the live set.
func (b *Board) Len() int { return len(b.live) }
