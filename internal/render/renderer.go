// Package render draws a board position as a PNG for the admin endpoint.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultSquareSize = 48
	boardSquares      = 8
)

var ErrNilBoard = errors.New("board is nil")

// Highlight marks the last move's origin and destination.
type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

type Options struct {
	Highlight *Highlight
}

type Renderer struct {
	squareSize int
}

func New(squareSize int) *Renderer {
	if squareSize < 16 {
		squareSize = DefaultSquareSize
	}
	return &Renderer{squareSize: squareSize}
}

// Size is the edge length of the rendered image in pixels.
func (r *Renderer) Size() int {
	return r.squareSize*boardSquares + r.margin()*2
}

func (r *Renderer) margin() int { return r.squareSize / 2 }

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	backgroundColor     = color.RGBA{28, 31, 46, 255}
	highlightColor      = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

func (r *Renderer) RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, ErrNilBoard
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	size := r.Size()
	origin := image.Point{X: r.margin(), Y: r.margin()}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawSquares(img, r.squareSize, origin)
	if h := opts.Highlight; h != nil {
		drawSquareOverlay(img, h.From, r.squareSize, origin, highlightColor)
		drawSquareOverlay(img, h.To, r.squareSize, origin, highlightColor)
	}
	if err := drawPieces(img, board, r.squareSize, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, r.squareSize, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image, squareSize int, origin image.Point) {
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			sq := nchess.NewSquare(file, rank)
			imagedraw.Draw(dst, squareRect(sq, squareSize, origin), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, squareSize int, origin image.Point) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		glyph, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, squareSize, origin), glyph, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawSquareOverlay(dst imagedraw.Image, sq nchess.Square, squareSize int, origin image.Point, clr color.Color) {
	imagedraw.Draw(dst, squareRect(sq, squareSize, origin), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

// drawCoordinates labels ranks on the left and files along the bottom.
func drawCoordinates(dst imagedraw.Image, squareSize int, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(coordinateTextColor),
		Face: face,
	}
	ascent := face.Metrics().Ascent.Ceil()
	boardEnd := origin.Y + boardSquares*squareSize

	for i := 0; i < boardSquares; i++ {
		rank := nchess.Rank(boardSquares - 1 - i)
		rankCenter := origin.Y + i*squareSize + squareSize/2
		drawCenteredText(drawer, rank.String(), origin.X/2, rankCenter+ascent/2)

		file := nchess.File(i)
		fileCenter := origin.X + i*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), fileCenter, boardEnd+(origin.Y+ascent)/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareRect(sq nchess.Square, squareSize int, origin image.Point) image.Rectangle {
	row := 7 - int(sq.Rank())
	col := int(sq.File())
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

// HighlightFromCoord parses coordinate notation such as "e2e4".
func HighlightFromCoord(move string) (*Highlight, bool) {
	if len(move) != 4 {
		return nil, false
	}
	from, ok := parseSquare(move[0], move[1])
	if !ok {
		return nil, false
	}
	to, ok := parseSquare(move[2], move[3])
	if !ok {
		return nil, false
	}
	return &Highlight{From: from, To: to}, true
}

func parseSquare(file, rank byte) (nchess.Square, bool) {
	if file < 'a' || file > 'h' || rank < '1' || rank > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(file-'a'), nchess.Rank(rank-'1')), true
}
