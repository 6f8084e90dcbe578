package bitmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"tomgalvin.uk/niimprint/internal/protocol"
)

// The row index of a print line is a single byte.
const MaxHeight = 256

var ErrTooTall = errors.New("bitmap too tall for a single label")

// Lines turns a packed bitmap into the print line commands for one label.
// Runs of identical rows share a single command with a larger thickness, and
// runs of blank rows become whitespace.
func Lines(b *PackedBitmap) ([]protocol.Line, error) {
	if b.Height() > MaxHeight {
		return nil, fmt.Errorf("%w: %d rows, at most %d fit", ErrTooTall, b.Height(), MaxHeight)
	}
	if b.Stride() > protocol.MaxLineData {
		return nil, fmt.Errorf("%w: rows are %d bytes wide", protocol.ErrLineTooLong, b.Stride())
	}

	var lines []protocol.Line
	for y := 0; y < b.Height(); {
		row := b.Row(y)
		run := 1
		for y+run < b.Height() && run < 0xFF && bytes.Equal(row, b.Row(y+run)) {
			run++
		}

		l := protocol.Line{Start: byte(y), Thickness: byte(run)}
		if !blank(row) {
			l.Data = bytes.Clone(row)
		}
		lines = append(lines, l)
		y += run
	}

	return lines, nil
}

func blank(row []byte) bool {
	for _, b := range row {
		if b != 0 {
			return false
		}
	}
	return true
}

// ImageLines renders any image for the printer, width dots across, and
// returns the print lines for it.
func ImageLines(i image.Image, width int) ([]protocol.Line, error) {
	b, err := FromPaletted(RenderForDevice(i, width))
	if err != nil {
		return nil, err
	}
	return Lines(PackBitmap(b))
}

// Pages cuts a bitmap into bands of at most height rows, one per label.
func Pages(b *PackedBitmap, height int) []*PackedBitmap {
	if height <= 0 || height > MaxHeight {
		height = MaxHeight
	}

	var pages []*PackedBitmap
	for start := 0; start < b.Height(); start += height {
		pages = append(pages, b.VerticalSlice(start, min(height, b.Height()-start)))
	}
	return pages
}

// ImagePages renders an image of any length as a series of labels, each at
// most height rows long.
func ImagePages(i image.Image, width int, height int) ([][]protocol.Line, error) {
	b, err := FromPaletted(RenderForDevice(i, width))
	if err != nil {
		return nil, err
	}

	var pages [][]protocol.Line
	for _, page := range Pages(PackBitmap(b), height) {
		lines, err := Lines(page)
		if err != nil {
			return nil, err
		}
		pages = append(pages, lines)
	}
	return pages, nil
}
