// This package is built with the assumption that the server will only be
// connected to a single printer at a time.
package printer

// DeviceWriter sends raw bytes to the printer. Write blocks until the link
// has accepted the data.
type DeviceWriter interface {
	Write(data []byte) error
}

// Connection is a link to a printer which can both send data and deliver the
// printer's notifications.
type Connection interface {
	DeviceWriter
	// Connect opens the link. onData is called with every chunk of data the
	// printer sends until the connection is closed.
	Connect(onData func(data []byte)) error
	Disconnect() error
}
