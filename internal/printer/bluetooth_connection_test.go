package printer

var _ Connection = (*BluetoothConnection)(nil)
var _ Connection = (*SerialConnection)(nil)
