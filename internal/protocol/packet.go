// This file implements the framing used by Niimbot printers. Every command
// written to the device, and every notification it sends back, is wrapped as:
//
//	55 55 | code | len | payload | xor | AA AA
//
// where xor is the XOR of the code, length and payload bytes.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrInvalidFrame    = errors.New("invalid frame")
	ErrShortFrame      = fmt.Errorf("%w: too short", ErrInvalidFrame)
	ErrBadMarker       = fmt.Errorf("%w: missing start or end marker", ErrInvalidFrame)
	ErrLengthMismatch  = fmt.Errorf("%w: length byte doesn't match payload", ErrInvalidFrame)
	ErrBadChecksum     = fmt.Errorf("%w: checksum mismatch", ErrInvalidFrame)
	ErrEmptyBody       = errors.New("frame body must hold at least a code and a length")
	ErrPayloadTooLarge = errors.New("payload longer than 255 bytes")
	ErrLineTooLong     = fmt.Errorf("%w: line data longer than %d bytes", ErrPayloadTooLarge, MaxLineData)
)

const (
	MaxPayload = 0xFF

	headerSize  = 4 // start marker, code, length
	trailerSize = 3 // checksum, end marker
	// MinFrameSize is the size of a frame with an empty payload.
	MinFrameSize = headerSize + trailerSize
)

var (
	startMarker = []byte{0x55, 0x55}
	endMarker   = []byte{0xAA, 0xAA}
)

// Frame is a complete, checksummed unit on the wire. The underlying bytes are
// never handed out, so a Frame can't be modified once built.
type Frame struct {
	b []byte
}

// Bytes returns a copy of the encoded frame.
func (f Frame) Bytes() []byte {
	return bytes.Clone(f.b)
}

func (f Frame) Code() Code {
	if len(f.b) < MinFrameSize {
		return 0
	}
	return Code(f.b[2])
}

// Payload returns a copy of the command specific bytes, without the code and
// length prefix.
func (f Frame) Payload() []byte {
	if len(f.b) < MinFrameSize {
		return nil
	}
	return bytes.Clone(f.b[headerSize : len(f.b)-trailerSize])
}

func (f Frame) Len() int {
	return len(f.b)
}

func (f Frame) IsZero() bool {
	return len(f.b) == 0
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame(%s, % x)", f.Code(), f.b)
}

// Checksum XORs every byte of b together, left to right.
func Checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// BuildFrame wraps a body which already starts with the command code and
// length byte in the start/end markers and appends the checksum.
func BuildFrame(body []byte) (Frame, error) {
	if len(body) < 2 {
		return Frame{}, ErrEmptyBody
	}
	if len(body) > MaxPayload+2 {
		return Frame{}, ErrPayloadTooLarge
	}

	b := make([]byte, 0, len(body)+len(startMarker)+1+len(endMarker))
	b = append(b, startMarker...)
	b = append(b, body...)
	b = append(b, Checksum(body))
	b = append(b, endMarker...)
	return Frame{b: b}, nil
}

// BuildCommand length-prefixes the payload with the command code and its size
// and frames it. Payloads which don't fit in the single length byte are
// rejected rather than truncated.
func BuildCommand(code Code, payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, fmt.Errorf("Couldn't build %s command:\n%w", code, ErrPayloadTooLarge)
	}

	body := make([]byte, 0, len(payload)+2)
	body = append(body, byte(code), byte(len(payload)))
	body = append(body, payload...)
	return BuildFrame(body)
}

// ParseFrame validates a single encoded frame, checking the markers, the
// declared length and the checksum.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) < MinFrameSize {
		return Frame{}, ErrShortFrame
	}
	if !bytes.HasPrefix(raw, startMarker) || !bytes.HasSuffix(raw, endMarker) {
		return Frame{}, ErrBadMarker
	}

	length := int(raw[3])
	if len(raw) != length+MinFrameSize {
		return Frame{}, ErrLengthMismatch
	}

	body := raw[2 : len(raw)-trailerSize]
	if Checksum(body) != raw[len(raw)-trailerSize] {
		return Frame{}, ErrBadChecksum
	}

	return Frame{b: bytes.Clone(raw)}, nil
}
