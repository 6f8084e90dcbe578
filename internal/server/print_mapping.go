package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"tomgalvin.uk/niimprint/internal/bitmap"
	"tomgalvin.uk/niimprint/internal/model"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/protocol"
)

func (s *Server) mapPrintRequest(j *model.PrintRequest) (printer.Request, error) {
	req := printer.Request{
		Width:     s.defaults.Width,
		Height:    s.defaults.Height,
		Density:   s.defaults.Density,
		LabelType: protocol.LabelType(s.defaults.LabelType),
	}

	fields := []struct {
		name  string
		value int
		dest  *byte
	}{
		{"width", j.Width, &req.Width},
		{"height", j.Height, &req.Height},
		{"density", j.Density, &req.Density},
		{"labelType", j.LabelType, (*byte)(&req.LabelType)},
	}
	for _, f := range fields {
		if f.value == 0 {
			continue
		}
		if f.value < 0 || f.value > 0xFF {
			return printer.Request{}, fmt.Errorf("%s must be between 1 and 255, got %d", f.name, f.value)
		}
		*f.dest = byte(f.value)
	}

	if j.Sources() != 1 {
		return printer.Request{}, errors.New("Exactly one of lines or image must be given")
	}

	var err error
	switch {
	case j.Lines != nil:
		req.Lines, err = mapLines(j.Lines)
	case j.Image != nil:
		req.Lines, err = imageLines(j.Image)
	}
	if err != nil {
		return printer.Request{}, err
	}

	return req, req.Validate()
}

func mapLines(src []model.Line) ([]protocol.Line, error) {
	lines := make([]protocol.Line, len(src))
	for i, l := range src {
		if l.Start < 0 || l.Start > 0xFF {
			return nil, fmt.Errorf("Line %d: start must be between 0 and 255, got %d", i, l.Start)
		}
		if l.Thickness < 1 || l.Thickness > 0xFF {
			return nil, fmt.Errorf("Line %d: thickness must be between 1 and 255, got %d", i, l.Thickness)
		}
		if len(l.Data) > protocol.MaxLineData {
			return nil, fmt.Errorf("Line %d: %w", i, protocol.ErrLineTooLong)
		}
		lines[i] = protocol.Line{Start: byte(l.Start), Thickness: byte(l.Thickness), Data: l.Data}
	}
	return lines, nil
}

func imageLines(data []byte) ([]protocol.Line, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("Couldn't decode image:\n%w", err)
	}
	return bitmap.ImageLines(img, bitmap.PrintheadWidth)
}
