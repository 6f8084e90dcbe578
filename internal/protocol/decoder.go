package protocol

import (
	"bytes"
)

// Maximum amount of unframed data held while waiting for the rest of a frame.
const maxBuffered = 4 * (MaxPayload + MinFrameSize)

// Decoder splits the bytes received from a printer into frames. BLE
// notifications usually carry exactly one frame, but a serial link delivers
// an arbitrary stream, so data is buffered until a whole frame is available.
// Garbage before a start marker and frames failing validation are dropped.
type Decoder struct {
	buf     []byte
	Dropped int
}

// Feed appends data to the internal buffer and returns every complete frame
// which can be decoded from it.
func (d *Decoder) Feed(data []byte) []Frame {
	d.buf = append(d.buf, data...)

	var frames []Frame
	for {
		start := bytes.Index(d.buf, startMarker)
		if start < 0 {
			// keep a trailing 0x55 in case it's the first half of a marker
			keep := 0
			if n := len(d.buf); n > 0 && d.buf[n-1] == startMarker[0] {
				keep = 1
			}
			d.discard(len(d.buf) - keep)
			break
		}
		d.discard(start)

		if len(d.buf) < MinFrameSize {
			break
		}
		size := int(d.buf[3]) + MinFrameSize
		if len(d.buf) < size {
			// the marker may belong to garbage, e.g. a stray 0x55 right
			// before a real frame
			if next := d.nextFrame(); next > 0 {
				d.discard(next)
				continue
			}
			if len(d.buf) > maxBuffered {
				d.discard(len(startMarker))
				continue
			}
			break
		}

		f, err := ParseFrame(d.buf[:size])
		if err != nil {
			// only drop one byte, the second 0x55 may start a real frame
			d.discard(1)
			continue
		}
		frames = append(frames, f)
		d.buf = d.buf[size:]
	}

	return frames
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Reset() {
	d.buf = nil
}

// nextFrame returns the offset of the first complete, valid frame after the
// start of the buffer, or -1.
func (d *Decoder) nextFrame() int {
	for i := 1; i < len(d.buf); {
		p := bytes.Index(d.buf[i:], startMarker)
		if p < 0 {
			return -1
		}
		p += i
		rest := d.buf[p:]
		if len(rest) >= MinFrameSize {
			size := int(rest[3]) + MinFrameSize
			if len(rest) >= size {
				if _, err := ParseFrame(rest[:size]); err == nil {
					return p
				}
			}
		}
		i = p + 1
	}
	return -1
}

func (d *Decoder) discard(n int) {
	if n <= 0 {
		return
	}
	d.Dropped += n
	d.buf = d.buf[n:]
}
