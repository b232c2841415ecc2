// Package output writes brightness levels to the light.
package output

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/config"
)

// Level bounds of the PWM channel.
const (
	MinLevel = 0
	MaxLevel = 1023
)

// Writer is a brightness output.
type Writer interface {
	Write(level int) error
	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(cfg config.DeviceConfig) (Writer, error) {
	switch cfg.Backend {
	case "serial":
		return OpenSerial(cfg.SerialPort, cfg.BaudRate)
	case "keylight":
		return NewKeylight(cfg.KeylightAddr, cfg.KeylightTimeout.Duration())
	case "log", "":
		return &LogWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", cfg.Backend)
	}
}

// Clamp limits level to the PWM range.
func Clamp(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Tracked remembers the last level written through it.
type Tracked struct {
	Writer
	last atomic.Int64
}

// Track wraps w.
func Track(w Writer) *Tracked {
	return &Tracked{Writer: w}
}

// Write clamps and forwards level.
func (t *Tracked) Write(level int) error {
	level = Clamp(level)
	t.last.Store(int64(level))
	return t.Writer.Write(level)
}

// Last returns the last level written.
func (t *Tracked) Last() int {
	return int(t.last.Load())
}

// LogWriter only logs levels. Used when no hardware is attached.
type LogWriter struct{}

func (*LogWriter) Write(level int) error {
	log.Debug().Int("level", level).Msg("Brightness output")
	return nil
}

func (*LogWriter) Close() error { return nil }
