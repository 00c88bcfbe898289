package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Glyph bodies on a 45x45 canvas. FILL and LINE are substituted per colour.
var pieceGlyphs = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="14" r="5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<path d="M17 34 L19.5 21 L25.5 21 L28 34 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="12" y="34" width="21" height="5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>`,
	nchess.Rook: `<path d="M12 9 L16 9 L16 12 L20 12 L20 9 L25 9 L25 12 L29 12 L29 9 L33 9 L33 15 L12 15 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<path d="M15 15 L30 15 L29 33 L16 33 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="10" y="33" width="25" height="6" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>`,
	nchess.Knight: `<path d="M14 36 L14 30 C14 24 19 22 20 17 L14 19 L12 15 L20 8 L25 8 C31 10 33 17 32 24 L31 36 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<circle cx="21" cy="13" r="1.5" style="fill:LINE"/>
<rect x="11" y="35" width="23" height="4" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8" r="2.5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<path d="M22.5 10 C15 16 14 24 18 29 L27 29 C31 24 30 16 22.5 10 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<path d="M17 29 L28 29 L29 33 L16 33 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="11" y="34" width="23" height="5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>`,
	nchess.Queen: `<circle cx="9" cy="12" r="2.5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<circle cx="22.5" cy="8" r="2.5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<circle cx="36" cy="12" r="2.5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<path d="M9 14 L14 30 L31 30 L36 14 L29 24 L22.5 11 L16 24 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="12" y="30" width="21" height="4" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="10" y="34" width="25" height="5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>`,
	nchess.King: `<path d="M21 4 L24 4 L24 7 L27 7 L27 10 L24 10 L24 14 L21 14 L21 10 L18 10 L18 7 L21 7 Z" style="fill:FILL;stroke:LINE;stroke-width:1.2"/>
<path d="M22.5 14 C12 14 8 22 14 30 L31 30 C37 22 33 14 22.5 14 Z" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="12" y="30" width="21" height="4" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>
<rect x="10" y="34" width="25" height="5" style="fill:FILL;stroke:LINE;stroke-width:1.5"/>`,
}

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	body, ok := pieceGlyphs[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no glyph for piece %v", piece)
	}
	fill, line := "#ffffff", "#000000"
	if piece.Color() == nchess.Black {
		fill, line = "#000000", "#ffffff"
	}
	body = strings.NewReplacer("FILL", fill, "LINE", line).Replace(body)
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="45" height="45" viewBox="0 0 45 45">` + body + `</svg>`
	return sanitizeSVG([]byte(svg)), nil
}

// sanitizeSVG normalises style spacing oksvg's parser rejects.
func sanitizeSVG(svg []byte) []byte {
	fixed := bytes.ReplaceAll(svg, []byte("fill: #"), []byte("fill:#"))
	fixed = bytes.ReplaceAll(fixed, []byte("stroke: #"), []byte("stroke:#"))
	return fixed
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
