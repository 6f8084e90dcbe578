// This package defines an interface for a simple bitmap structure that has a
// width, height, and can get bits from the bitmap by (x,y) coordinate.
// PixelBitmap stores each pixel in a byte, PackedBitmap holds rows packed
// MSB first the way Niimbot printers take them over the wire, and Lines turns
// a packed bitmap into the print line commands for a label.
package bitmap

import (
	"fmt"
)

type Bitmap interface {
	Width() int
	Height() int
	GetBit(x int, y int) byte
}

type PixelBitmap struct {
	pixels        [][]byte
	width, height int
}

func (b *PixelBitmap) Width() int {
	return b.width
}

func (b *PixelBitmap) Height() int {
	return b.height
}

func (b *PixelBitmap) GetBit(x int, y int) byte {
	return b.pixels[y][x]
}

func (b *PixelBitmap) String() string {
	return fmt.Sprintf("PixelBitmap(%d,%d)", b.width, b.height)
}

// FromPixels takes one byte per pixel, row by row, where 1 is printed black.
func FromPixels(data []byte, width int, height int) (*PixelBitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("Bitmap dimensions must be positive (got %vx%v)", width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("Bitmap pixels not consistent with provided width and height (got %v, expecting %v*%v=%v)",
			len(data),
			width,
			height,
			width*height,
		)
	}

	pixels := make([][]byte, height)
	for y := range height {
		pixels[y] = data[y*width : (y+1)*width]
	}

	return &PixelBitmap{
		pixels: pixels,
		width:  width,
		height: height,
	}, nil
}

// Blank is an all-white bitmap, e.g. to feed an empty label.
func Blank(width int, height int) *PixelBitmap {
	pixels := make([][]byte, height)
	for y := range height {
		pixels[y] = make([]byte, width)
	}
	return &PixelBitmap{pixels, width, height}
}
