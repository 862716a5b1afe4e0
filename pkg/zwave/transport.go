package zwave

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Transport is the byte-level interface the Link Layer needs from a serial
// connection. A real port and a test double both satisfy it.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialTransport wraps a UART connection to a Z-Wave USB/module controller.
type SerialTransport struct {
	port serial.Port
	mu   sync.Mutex
}

// OpenSerialTransport opens the serial port at 115200 baud, 8N1 — the
// standard Z-Wave Serial API line settings.
func OpenSerialTransport(portPath string) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, &linkError{op: "open serial port " + portPath, err: err}
	}

	log.Info().Str("port", portPath).Msg("serial port opened")

	return &SerialTransport{port: port}, nil
}

// Write sends raw bytes to the serial port.
func (s *SerialTransport) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Write(data)
}

// Read reads raw bytes from the serial port.
func (s *SerialTransport) Read(buf []byte) (int, error) {
	return s.port.Read(buf)
}

// Close closes the serial port.
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// linkError wraps a transport-level failure so callers can recognize it
// without depending on the concrete serial library's error type.
type linkError struct {
	op  string
	err error
}

func (e *linkError) Error() string { return e.op + ": " + e.err.Error() }
func (e *linkError) Unwrap() error { return e.err }
