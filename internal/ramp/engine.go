// Package ramp implements the brightness ramp state machine.
package ramp

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/timers"
)

// Output level bounds.
const (
	MinLevel = 0
	MaxLevel = 1023
)

// ErrValidation is wrapped by every rejected argument.
var ErrValidation = errors.New("validation error")

// OverridePolicy decides what a manual brightness does to an in-flight ramp.
type OverridePolicy string

const (
	// OverrideCancel stops the ramp so the manual value sticks.
	OverrideCancel OverridePolicy = "cancel"
	// OverrideKeep leaves the ramp running; the next tick continues from the manual value.
	OverrideKeep OverridePolicy = "keep"
)

// Phase of the ramp.
type Phase int

const (
	Idle Phase = iota
	InProgress
	Completed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Output receives brightness levels.
type Output interface {
	Write(level int) error
}

// Notifier receives progress strings.
type Notifier interface {
	Notify(message string)
}

// Recorder receives audit events. May be nil.
type Recorder interface {
	Record(event string, data map[string]any)
}

// Timers is the subset of the timer table the engine uses.
type Timers interface {
	Replace(prev timers.Handle, e timers.Entry) timers.Handle
	Cancel(h timers.Handle) bool
}

// Clock returns the current local epoch.
type Clock interface {
	Now() int64
}

// Config holds the deferred ramp settings.
type Config struct {
	MaxBrightness   int
	DurationMinutes int
	MaxDuration     int // upper bound for DurationMinutes; 0 means unbounded
	Override        OverridePolicy
}

// Snapshot is a read-only view of the engine.
type Snapshot struct {
	Current         int
	MaxBrightness   int
	DurationMinutes int
	Phase           Phase
	StepSeconds     int
	Target          int // max brightness of the current or last ramp
}

// Engine owns the brightness state. It is driven by the control loop and is
// not safe for concurrent use.
type Engine struct {
	cfg Config

	current     int
	target      int
	phase       Phase
	stepSeconds int
	handle      timers.Handle

	output   Output
	notifier Notifier
	recorder Recorder
	timers   Timers
	clock    Clock
}

// NewEngine creates an idle engine.
func NewEngine(cfg Config, output Output, notifier Notifier, recorder Recorder, sched Timers, clock Clock) *Engine {
	if cfg.Override == "" {
		cfg.Override = OverrideCancel
	}
	return &Engine{
		cfg:      cfg,
		output:   output,
		notifier: notifier,
		recorder: recorder,
		timers:   sched,
		clock:    clock,
	}
}

// StepSeconds returns the tick cadence for a ramp: duration spread over max steps, at least 1s.
func StepSeconds(maxBrightness, durationMinutes int) int {
	if maxBrightness < 1 {
		return 1
	}
	step := durationMinutes * 60 / maxBrightness
	if step < 1 {
		return 1
	}
	return step
}

// Config returns the current settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start begins a ramp from 0 to maxBrightness over durationMinutes, replacing
// any ramp already running.
func (e *Engine) Start(maxBrightness, durationMinutes int) error {
	if maxBrightness < 1 || maxBrightness > MaxLevel {
		return fmt.Errorf("%w: max brightness %d outside [1, %d]", ErrValidation, maxBrightness, MaxLevel)
	}
	if durationMinutes < 1 {
		return fmt.Errorf("%w: duration %d must be positive", ErrValidation, durationMinutes)
	}

	e.notify("Brightness increase started")

	e.current = 0
	e.target = maxBrightness
	e.phase = InProgress
	e.stepSeconds = StepSeconds(maxBrightness, durationMinutes)
	e.write(0)

	step := int64(e.stepSeconds)
	e.handle = e.timers.Replace(e.handle, timers.Entry{
		Name:     "ramp",
		Kind:     timers.Periodic,
		Due:      e.clock.Now() + step,
		Interval: step,
		Fire:     func(int64) { e.Tick() },
	})

	log.Info().
		Int("max_brightness", maxBrightness).
		Int("duration_minutes", durationMinutes).
		Int("step_seconds", e.stepSeconds).
		Msg("Ramp started")

	e.notify(fmt.Sprintf("Brightness increase started, secondsPerStep: %d", e.stepSeconds))
	e.record("ramp_started", map[string]any{
		"max_brightness":   maxBrightness,
		"duration_minutes": durationMinutes,
		"step_seconds":     e.stepSeconds,
	})
	return nil
}

// Tick advances an in-flight ramp by one step. No-op in any other phase.
func (e *Engine) Tick() {
	if e.phase != InProgress {
		return
	}

	e.current++
	if e.current >= e.target {
		e.current = e.target
		e.write(e.current)
		e.finish()
		return
	}

	e.write(e.current)
	e.notify(fmt.Sprintf("Brightness increased to: %d", e.current))
}

func (e *Engine) finish() {
	e.timers.Cancel(e.handle)
	e.handle = 0
	e.phase = Completed

	log.Info().Int("brightness", e.current).Msg("Ramp finished")
	e.notify("Brightness increase finished")
	e.record("ramp_finished", map[string]any{"brightness": e.current})
}

// SetBrightness writes a manual level immediately.
func (e *Engine) SetBrightness(v int) error {
	if v < MinLevel || v > MaxLevel {
		return fmt.Errorf("%w: brightness %d outside [%d, %d]", ErrValidation, v, MinLevel, MaxLevel)
	}

	if e.phase == InProgress && e.cfg.Override == OverrideCancel {
		e.timers.Cancel(e.handle)
		e.handle = 0
		e.phase = Idle
		log.Info().Int("brightness", v).Msg("Ramp cancelled by manual brightness")
		e.record("ramp_cancelled", map[string]any{"brightness": v})
	}

	e.current = v
	e.write(v)
	return nil
}

// SetMaxBrightness changes the max used by the next ramp.
func (e *Engine) SetMaxBrightness(v int) error {
	if v < 1 || v > MaxLevel {
		return fmt.Errorf("%w: max brightness %d outside [1, %d]", ErrValidation, v, MaxLevel)
	}
	e.cfg.MaxBrightness = v
	return nil
}

// SetDuration changes the duration used by the next ramp and by alarm lead time.
func (e *Engine) SetDuration(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("%w: duration %d must be positive", ErrValidation, minutes)
	}
	if e.cfg.MaxDuration > 0 && minutes > e.cfg.MaxDuration {
		return fmt.Errorf("%w: duration %d outside [1, %d]", ErrValidation, minutes, e.cfg.MaxDuration)
	}
	e.cfg.DurationMinutes = minutes
	return nil
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Current:         e.current,
		MaxBrightness:   e.cfg.MaxBrightness,
		DurationMinutes: e.cfg.DurationMinutes,
		Phase:           e.phase,
		StepSeconds:     e.stepSeconds,
		Target:          e.target,
	}
}

func (e *Engine) write(level int) {
	if level < MinLevel {
		level = MinLevel
	} else if level > MaxLevel {
		level = MaxLevel
	}
	if err := e.output.Write(level); err != nil {
		log.Error().Err(err).Int("level", level).Msg("Failed to write brightness")
	}
}

func (e *Engine) notify(message string) {
	if e.notifier != nil {
		e.notifier.Notify(message)
	}
}

func (e *Engine) record(event string, data map[string]any) {
	if e.recorder != nil {
		e.recorder.Record(event, data)
	}
}
