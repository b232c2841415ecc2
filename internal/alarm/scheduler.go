// Package alarm schedules the single sunrise trigger.
//
// The trigger is placed lead minutes before the requested time so that the
// ramp completes at the time the user asked for.
package alarm

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/ramp"
	"github.com/dokzlo13/sunrised/internal/timers"
)

const secondsPerDay = 86400

// ErrInvalidTimeFormat is returned for an hour or minute outside the 24h clock.
var ErrInvalidTimeFormat = errors.New("invalid time format")

// Ramp is the engine started when the alarm fires.
type Ramp interface {
	Config() ramp.Config
	Start(maxBrightness, durationMinutes int) error
}

// Timers is the subset of the timer table the alarm uses.
type Timers interface {
	Replace(prev timers.Handle, e timers.Entry) timers.Handle
	Cancel(h timers.Handle) bool
	Due(h timers.Handle) (int64, bool)
}

// Clock returns the current local epoch.
type Clock interface {
	Now() int64
}

// Recorder receives audit events. May be nil.
type Recorder interface {
	Record(event string, data map[string]any)
}

// Result describes a freshly scheduled alarm.
type Result struct {
	TargetHour     int
	TargetMinute   int
	AdjustedHour   int
	AdjustedMinute int
	NextTrigger    int64
	SecondsUntil   int64
}

// Status describes the pending alarm, if any.
type Status struct {
	Active           bool
	Now              int64
	NextTrigger      int64
	SecondsRemaining int64
	TargetHour       int
	TargetMinute     int
}

// Adjust subtracts leadMinutes from a time of day, borrowing whole hours and
// wrapping across midnight as many times as needed.
func Adjust(targetHour, targetMinute, leadMinutes int) (hour, minute int) {
	hour = targetHour
	minute = targetMinute - leadMinutes

	if minute < 0 {
		borrow := -minute/60 + 1
		minute += 60 * borrow
		hour -= borrow
	}
	// an exact multiple of 60 borrows one hour too many
	if minute >= 60 {
		hour += minute / 60
		minute %= 60
	}
	for hour < 0 {
		hour += 24
	}
	hour %= 24
	return hour, minute
}

// NextOccurrence returns the first local epoch strictly after now whose time of day is hour:minute:00.
func NextOccurrence(now int64, hour, minute int) int64 {
	dayStart := now - mod(now, secondsPerDay)
	t := dayStart + int64(hour)*3600 + int64(minute)*60
	if t <= now {
		t += secondsPerDay
	}
	return t
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Scheduler owns the single pending sunrise trigger. It is driven by the
// control loop and is not safe for concurrent use.
type Scheduler struct {
	ramp     Ramp
	timers   Timers
	clock    Clock
	recorder Recorder

	handle       timers.Handle
	targetHour   int
	targetMinute int
}

// New creates a scheduler with no pending alarm.
func New(r Ramp, sched Timers, clock Clock, recorder Recorder) *Scheduler {
	return &Scheduler{
		ramp:     r,
		timers:   sched,
		clock:    clock,
		recorder: recorder,
	}
}

// Schedule installs the trigger for targetHour:targetMinute, leadMinutes early,
// replacing any pending one. Invalid times leave the state unchanged.
func (s *Scheduler) Schedule(targetHour, targetMinute, leadMinutes int) (Result, error) {
	if targetHour < 0 || targetHour > 23 || targetMinute < 0 || targetMinute > 59 {
		return Result{}, fmt.Errorf("%w: %d:%d", ErrInvalidTimeFormat, targetHour, targetMinute)
	}

	hour, minute := Adjust(targetHour, targetMinute, leadMinutes)
	now := s.clock.Now()
	next := NextOccurrence(now, hour, minute)

	s.handle = s.timers.Replace(s.handle, timers.Entry{
		Name: "alarm",
		Kind: timers.OneShot,
		Due:  next,
		Fire: s.fire,
	})
	s.targetHour = targetHour
	s.targetMinute = targetMinute

	log.Info().
		Int("target_hour", targetHour).
		Int("target_minute", targetMinute).
		Int("trigger_hour", hour).
		Int("trigger_minute", minute).
		Int64("next_trigger", next).
		Msg("Alarm scheduled")

	s.record("alarm_scheduled", map[string]any{
		"target":       fmt.Sprintf("%02d:%02d", targetHour, targetMinute),
		"trigger":      fmt.Sprintf("%02d:%02d", hour, minute),
		"next_trigger": next,
	})

	return Result{
		TargetHour:     targetHour,
		TargetMinute:   targetMinute,
		AdjustedHour:   hour,
		AdjustedMinute: minute,
		NextTrigger:    next,
		SecondsUntil:   next - now,
	}, nil
}

// Status reports the pending alarm.
func (s *Scheduler) Status() Status {
	now := s.clock.Now()
	st := Status{Now: now}

	due, ok := s.timers.Due(s.handle)
	if !ok {
		return st
	}

	st.Active = true
	st.NextTrigger = due
	st.SecondsRemaining = due - now
	st.TargetHour = s.targetHour
	st.TargetMinute = s.targetMinute
	return st
}

// Cancel drops the pending alarm. Reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	cancelled := s.timers.Cancel(s.handle)
	s.handle = 0
	if cancelled {
		log.Info().Msg("Alarm cancelled")
		s.record("alarm_cancelled", nil)
	}
	return cancelled
}

func (s *Scheduler) fire(now int64) {
	s.handle = 0
	cfg := s.ramp.Config()

	log.Info().
		Int64("now", now).
		Int("max_brightness", cfg.MaxBrightness).
		Int("duration_minutes", cfg.DurationMinutes).
		Msg("Alarm fired")

	s.record("alarm_fired", map[string]any{
		"max_brightness":   cfg.MaxBrightness,
		"duration_minutes": cfg.DurationMinutes,
	})

	if err := s.ramp.Start(cfg.MaxBrightness, cfg.DurationMinutes); err != nil {
		log.Error().Err(err).Msg("Failed to start ramp from alarm")
	}
}

func (s *Scheduler) record(event string, data map[string]any) {
	if s.recorder != nil {
		s.recorder.Record(event, data)
	}
}
