// This file implements the command vocabulary understood by Niimbot B1
// printers. Each builder returns a ready-to-send frame.
package protocol

import (
	"fmt"
)

type Code byte

const (
	CalibrateLabelGapCode      Code = 0x8E
	HeartbeatCode              Code = 0xDC
	GetPrintStatusCode         Code = 0xA3
	GetLabelRFIDCode           Code = 0x1A
	SetLabelTypeCode           Code = 0x23
	SetPrintDensityCode        Code = 0x21
	StartPrintDataExchangeCode Code = 0x01
	SetPrintDimensionsCode     Code = 0x13
	EndPrintDataExchangeCode   Code = 0xE3
	EndPrintCode               Code = 0xF3
	PrintLineCode              Code = 0x85
	PrintWhitespaceCode        Code = 0x84
)

var codeNames = map[Code]string{
	CalibrateLabelGapCode:      "CalibrateLabelGap",
	HeartbeatCode:              "Heartbeat",
	GetPrintStatusCode:         "GetPrintStatus",
	GetLabelRFIDCode:           "GetLabelRFID",
	SetLabelTypeCode:           "SetLabelType",
	SetPrintDensityCode:        "SetPrintDensity",
	StartPrintDataExchangeCode: "StartPrintDataExchange",
	SetPrintDimensionsCode:     "SetPrintDimensions",
	EndPrintDataExchangeCode:   "EndPrintDataExchange",
	EndPrintCode:               "EndPrint",
	PrintLineCode:              "PrintLine",
	PrintWhitespaceCode:        "PrintWhitespace",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(0x%02X)", byte(c))
}

// Type alias for the kind of label stock loaded in the printer
type LabelType byte

const (
	LabelTypeGap LabelType = 0x01
)

// Prefix written before the row bits of every print line command.
var printLineHeader = []byte{0x80, 0x32, 0x00}

// MaxLineData is the most row bytes a single print line command can carry.
const MaxLineData = MaxPayload - 6

// Line is one horizontal strip of a label: Thickness rows starting at row
// Start, all printed with the same bit-packed Data. A Line with no Data is
// whitespace and is sent without any pixel payload.
type Line struct {
	Start     byte
	Thickness byte
	Data      []byte
}

func (l Line) Blank() bool {
	return len(l.Data) == 0
}

func (l Line) String() string {
	if l.Blank() {
		return fmt.Sprintf("Whitespace(%d+%d)", l.Start, l.Thickness)
	}
	return fmt.Sprintf("Line(%d+%d, %d bytes)", l.Start, l.Thickness, len(l.Data))
}

// mustCommand is only used for the fixed-size commands below, whose payloads
// can never exceed the length byte.
func mustCommand(code Code, payload ...byte) Frame {
	f, err := BuildCommand(code, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Makes the printer measure the gap between labels on the loaded roll.
func CalibrateLabelGap() Frame {
	return mustCommand(CalibrateLabelGapCode, 0x01)
}

// Keeps the connection alive while no print is running.
func Heartbeat() Frame {
	return mustCommand(HeartbeatCode, 0x04)
}

// Queries the print progress of the device.
func GetPrintStatus() Frame {
	return mustCommand(GetPrintStatusCode, 0x01)
}

// Queries the RFID tag of the loaded label roll.
func GetLabelRFID() Frame {
	return mustCommand(GetLabelRFIDCode, 0x01)
}

func SetLabelType(t LabelType) Frame {
	return mustCommand(SetLabelTypeCode, byte(t))
}

// Sets how dark the printed image is.
func SetPrintDensity(density byte) Frame {
	return mustCommand(SetPrintDensityCode, density)
}

// Tells the printer a page of line data is about to be sent.
func StartPrintDataExchange() Frame {
	return mustCommand(StartPrintDataExchangeCode, 0x00, 0x01)
}

func SetPrintDimensions(width, height byte) Frame {
	return mustCommand(SetPrintDimensionsCode, 0x00, width, 0x01, height, 0x00, 0x01)
}

// Tells the printer all line data for the page has been sent.
func EndPrintDataExchange() Frame {
	return mustCommand(EndPrintDataExchangeCode, 0x01)
}

func EndPrint() Frame {
	return mustCommand(EndPrintCode, 0x01)
}

// Prints Thickness rows of the same bit-packed row data, starting at row Start.
func PrintLine(l Line) (Frame, error) {
	if len(l.Data) > MaxLineData {
		return Frame{}, fmt.Errorf("Couldn't build print line at row %d:\n%w", l.Start, ErrLineTooLong)
	}

	payload := make([]byte, 0, 6+len(l.Data))
	payload = append(payload, 0x00, l.Start)
	payload = append(payload, printLineHeader...)
	payload = append(payload, l.Thickness)
	payload = append(payload, l.Data...)
	return BuildCommand(PrintLineCode, payload)
}

// Skips Thickness blank rows starting at row Start.
func PrintWhitespace(l Line) Frame {
	return mustCommand(PrintWhitespaceCode, 0x00, l.Start, l.Thickness)
}

// Command returns the whitespace or print line command for the line.
func Command(l Line) (Frame, error) {
	if l.Blank() {
		return PrintWhitespace(l), nil
	}
	return PrintLine(l)
}
