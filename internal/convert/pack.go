package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Geometry is the panel resolution in its native (landscape) orientation.
type Geometry struct {
	Width  int
	Height int

	// Rotate90 means the source image is portrait (Height wide, Width tall)
	// and is turned clockwise onto the panel.
	Rotate90 bool
}

// Stride is the number of bytes per plane row.
func (g Geometry) Stride() int { return (g.Width + 7) / 8 }

// PlaneSize is the number of bytes in one plane.
func (g Geometry) PlaneSize() int { return g.Stride() * g.Height }

// SourceSize is the minimum image size Pack accepts.
func (g Geometry) SourceSize() (w, h int) {
	if g.Rotate90 {
		return g.Height, g.Width
	}
	return g.Width, g.Height
}

// DecodePNG decodes a PNG screenshot into NRGBA.
func DecodePNG(data []byte) (*image.NRGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("convert: decode png: %w", err)
	}
	if n, ok := img.(*image.NRGBA); ok {
		return n, nil
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n, nil
}

// Pack converts an image into 1bpp black and red planes for a tri-color
// panel.
//
// An image larger than the source size is center-cropped. Pixels are
// classified as:
//
//   - transparent (alpha < 128) -> white
//   - dark -> black plane
//   - clearly red -> red plane
//   - anything else -> white
//
// Each plane is row-major, MSB first:
//
//	byteIndex = y*Stride + x>>3
//	mask      = 0x80 >> (x & 7)
//
// All bits start at 1 (white) and ink clears them. Drivers whose red RAM
// uses 1 for ink invert the red plane themselves.
func Pack(img *image.NRGBA, g Geometry) (black, red []byte, err error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, nil, fmt.Errorf("convert: invalid geometry %dx%d", g.Width, g.Height)
	}

	b := img.Bounds()
	sw, sh := g.SourceSize()
	if b.Dx() < sw || b.Dy() < sh {
		return nil, nil, fmt.Errorf("convert: expected at least %dx%d, got %dx%d", sw, sh, b.Dx(), b.Dy())
	}
	offX := (b.Dx() - sw) / 2
	offY := (b.Dy() - sh) / 2

	stride := g.Stride()
	black = bytes.Repeat([]byte{0xFF}, g.PlaneSize())
	red = bytes.Repeat([]byte{0xFF}, g.PlaneSize())

	for py := 0; py < g.Height; py++ {
		for px := 0; px < g.Width; px++ {
			sx, sy := px, py
			if g.Rotate90 {
				sx, sy = py, g.Width-1-px
			}
			// Index Pix directly to avoid At() per pixel.
			i := (offY+sy)*img.Stride + (offX+sx)*4
			a := img.Pix[i+3]
			if a < 128 {
				continue
			}

			ink := classifyPixel(color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: a})
			if ink == inkWhite {
				continue
			}

			byteIndex := py*stride + (px >> 3)
			mask := byte(0x80 >> (px & 7))

			switch ink {
			case inkBlack:
				black[byteIndex] &^= mask
			case inkRed:
				red[byteIndex] &^= mask
			}
		}
	}

	return black, red, nil
}

// inkColor indicates which plane a pixel should be drawn to.
type inkColor int

const (
	inkWhite inkColor = iota
	inkBlack
	inkRed
)

// classifyPixel picks black for dark pixels (luma below 64) and red for
// pixels where R > 128 and R exceeds max(G, B) by more than 32.
func classifyPixel(c color.NRGBA) inkColor {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	y := 0.299*r + 0.587*g + 0.114*b
	if y < 64 {
		return inkBlack
	}

	redness := r - max(g, b)
	if r > 128 && redness > 32 {
		return inkRed
	}

	return inkWhite
}
