// This file implements methods to pack bitmap pixel data into
// the bit structure accepted by Niimbot printers

package bitmap

import "fmt"

// a bitmap packed in memory, each row starting on a fresh byte with the
// leftmost pixel in the most significant bit
type PackedBitmap struct {
	data                  []byte
	width, height, stride int
}

const bitsPerWord = 8

func (b *PackedBitmap) Width() int {
	return b.width
}

func (b *PackedBitmap) Height() int {
	return b.height
}

func (b *PackedBitmap) Stride() int {
	return b.stride
}

func (b *PackedBitmap) Data() []byte {
	return b.data
}

// Gets a single bit from the bitmap at the (x, y) coordinate, returns either 0 or 1
func (b *PackedBitmap) GetBit(x int, y int) byte {
	index := (y * b.stride) + (x / bitsPerWord)
	return (b.data[index] >> (bitsPerWord - 1 - x%bitsPerWord)) & 1
}

// Row returns the packed bytes of row y, sharing memory with the bitmap.
func (b *PackedBitmap) Row(y int) []byte {
	return b.data[y*b.stride : (y+1)*b.stride]
}

func (b *PackedBitmap) String() string {
	return fmt.Sprintf("PackedBitmap(%d,%d)", b.width, b.height)
}

// Takes a horizontal band of the packed bitmap, with the specified height and
// starting at row start of the source bitmap
func (b *PackedBitmap) VerticalSlice(start int, height int) *PackedBitmap {
	return &PackedBitmap{
		data:   b.data[b.stride*start : b.stride*(start+height)],
		width:  b.width,
		height: height,
		stride: b.stride,
	}
}

// Maps data from the generic bitmap structure and packs it into the Niimbot
// bitmap structure. Pixels past the width in the last byte of a row are 0.
func PackBitmap(b Bitmap) *PackedBitmap {
	width, height, stride := b.Width(), b.Height(), (b.Width()+bitsPerWord-1)/bitsPerWord
	data := make([]byte, stride*height)

	for y := range height {
		row := data[y*stride : (y+1)*stride]
		for x := range width {
			if b.GetBit(x, y)&1 == 1 {
				row[x/bitsPerWord] |= 1 << (bitsPerWord - 1 - x%bitsPerWord)
			}
		}
	}

	return &PackedBitmap{data, width, height, stride}
}
