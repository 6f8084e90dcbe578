package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		code    Code
		payload []byte
	}{
		{"calibrate", CalibrateLabelGap(), 0x8E, []byte{0x01}},
		{"heartbeat", Heartbeat(), 0xDC, []byte{0x04}},
		{"print status", GetPrintStatus(), 0xA3, []byte{0x01}},
		{"rfid", GetLabelRFID(), 0x1A, []byte{0x01}},
		{"label type", SetLabelType(LabelTypeGap), 0x23, []byte{0x01}},
		{"density", SetPrintDensity(3), 0x21, []byte{0x03}},
		{"start exchange", StartPrintDataExchange(), 0x01, []byte{0x00, 0x01}},
		{"dimensions", SetPrintDimensions(240, 128), 0x13, []byte{0x00, 240, 0x01, 128, 0x00, 0x01}},
		{"end exchange", EndPrintDataExchange(), 0xE3, []byte{0x01}},
		{"end print", EndPrint(), 0xF3, []byte{0x01}},
		{"whitespace", PrintWhitespace(Line{Start: 0, Thickness: 32}), 0x84, []byte{0x00, 0x00, 0x20}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.code, c.frame.Code())
			assert.Equal(t, c.payload, c.frame.Payload())
		})
	}
}

func TestPrintLine(t *testing.T) {
	l := Line{Start: 33, Thickness: 1, Data: []byte{0x00, 0xE0, 0x1F, 0xFF}}
	f, err := PrintLine(l)
	require.NoError(t, err)

	assert.Equal(t, PrintLineCode, f.Code())
	assert.Equal(t, []byte{0x00, 33, 0x80, 0x32, 0x00, 1, 0x00, 0xE0, 0x1F, 0xFF}, f.Payload())
}

func TestPrintLineRejectsLongRows(t *testing.T) {
	_, err := PrintLine(Line{Start: 0, Thickness: 1, Data: make([]byte, MaxLineData+1)})
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	f, err := PrintLine(Line{Start: 0, Thickness: 1, Data: make([]byte, MaxLineData)})
	require.NoError(t, err)
	assert.Equal(t, MaxPayload+MinFrameSize, f.Len())
}

func TestCommandPicksWhitespaceForBlankLines(t *testing.T) {
	f, err := Command(Line{Start: 4, Thickness: 2})
	require.NoError(t, err)
	assert.Equal(t, PrintWhitespaceCode, f.Code())

	f, err = Command(Line{Start: 4, Thickness: 2, Data: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, PrintLineCode, f.Code())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "EndPrint", EndPrintCode.String())
	assert.Equal(t, "Code(0x42)", Code(0x42).String())
}
