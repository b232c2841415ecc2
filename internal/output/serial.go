package output

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// SerialWriter drives a microcontroller PWM bridge over a serial line.
// Each level is sent as one ASCII line: "PWM <level>\n".
type SerialWriter struct {
	mu   sync.Mutex
	port io.WriteCloser
	path string
}

// OpenSerial opens the port at the given baud rate, 8N1.
func OpenSerial(path string, baudRate int) (*SerialWriter, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	log.Info().Str("port", path).Int("baud", baudRate).Msg("Serial port opened")
	return newSerialWriter(port, path), nil
}

func newSerialWriter(port io.WriteCloser, path string) *SerialWriter {
	return &SerialWriter{port: port, path: path}
}

// Frame encodes a level as a bridge command line.
func Frame(level int) []byte {
	b := make([]byte, 0, 9)
	b = append(b, "PWM "...)
	b = strconv.AppendInt(b, int64(Clamp(level)), 10)
	return append(b, '\n')
}

// Write sends level to the bridge.
func (s *SerialWriter) Write(level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.port.Write(Frame(level)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Close closes the port.
func (s *SerialWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
