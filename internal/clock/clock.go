// Package clock provides the synchronized wall clock used by the scheduler.
//
// All readings are "local epochs": the raw synchronized UTC epoch shifted by the
// current daylight-saving offset, so that epoch mod 86400 is the local time of day.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClockSync is matched by the error Sync returns when the source never answered.
var ErrClockSync = errors.New("clock sync failed")

// SyncError reports an exhausted synchronization attempt.
type SyncError struct {
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("clock sync failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() []error { return []error{ErrClockSync, e.Err} }

// Source is an external time reference.
type Source interface {
	Query(ctx context.Context) (time.Time, error)
}

// Notifier receives human-readable status strings.
type Notifier interface {
	Notify(message string)
}

// Policy holds the DST rule outputs and sync retry settings.
type Policy struct {
	StdOffset    time.Duration
	DSTOffset    time.Duration
	SyncAttempts int
	SyncDelay    time.Duration
}

// Service wraps a synchronized wall clock.
type Service struct {
	source   Source
	policy   Policy
	notifier Notifier

	mu       sync.RWMutex
	anchor   time.Time // synchronized UTC reading
	anchorAt time.Time // host reading (with monotonic component) taken at the same moment
	offset   int       // seconds
	synced   bool

	// monotonic returns the host reading used to advance the anchor; replaceable in tests
	monotonic func() time.Time
}

// New creates a clock service. Until Sync succeeds, readings come straight from the host clock.
func New(source Source, policy Policy, notifier Notifier) *Service {
	if policy.SyncAttempts <= 0 {
		policy.SyncAttempts = 1
	}
	return &Service{
		source:    source,
		policy:    policy,
		notifier:  notifier,
		monotonic: time.Now,
	}
}

// Sync blocks until the source responds, retrying a bounded number of times with a fixed delay.
// Only called during startup.
func (s *Service) Sync(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= s.policy.SyncAttempts; attempt++ {
		t, err := s.source.Query(ctx)
		if err == nil {
			s.mu.Lock()
			s.anchor = t.UTC()
			s.anchorAt = s.monotonic()
			s.synced = true
			s.mu.Unlock()

			log.Info().
				Time("time", t.UTC()).
				Int("attempt", attempt).
				Msg("Clock synchronized")
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.policy.SyncAttempts).
			Msg("Failed to update time from time source")

		if attempt == s.policy.SyncAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return &SyncError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(s.policy.SyncDelay):
		}
	}

	return &SyncError{Attempts: s.policy.SyncAttempts, Err: lastErr}
}

// raw returns the current synchronized UTC time.
func (s *Service) raw() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.monotonic()
	if !s.synced {
		return now.UTC()
	}
	return s.anchor.Add(now.Sub(s.anchorAt))
}

// Offset returns the currently applied offset in seconds.
func (s *Service) Offset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Now returns the current local epoch in seconds (raw epoch plus offset).
func (s *Service) Now() int64 {
	return s.raw().Unix() + int64(s.Offset())
}

// Time returns the current instant in a fixed zone carrying the applied offset.
func (s *Service) Time() time.Time {
	offset := s.Offset()
	return s.raw().In(time.FixedZone(zoneName(offset), offset))
}

// Until returns how long until the given local epoch, with sub-second precision.
func (s *Service) Until(epoch int64) time.Duration {
	localNow := s.raw().Add(time.Duration(s.Offset()) * time.Second)
	return time.Unix(epoch, 0).Sub(localNow)
}

// Refresh recomputes the offset for the current raw time.
func (s *Service) Refresh() int {
	return s.ComputeOffset(s.raw().Unix())
}

// ComputeOffset evaluates the DST rule for the calendar date of a raw epoch,
// applies the resulting offset and announces the result.
func (s *Service) ComputeOffset(epoch int64) int {
	t := time.Unix(epoch, 0).UTC()
	active := IsDST(int(t.Month()), t.Day(), int(t.Weekday()))

	offset := s.policy.StdOffset
	message := "DST is not active"
	if active {
		offset = s.policy.DSTOffset
		message = "DST is active"
	}

	seconds := int(offset / time.Second)

	s.mu.Lock()
	changed := s.offset != seconds
	s.offset = seconds
	s.mu.Unlock()

	log.Info().
		Bool("dst", active).
		Int("offset_seconds", seconds).
		Bool("changed", changed).
		Msg("Time offset computed")

	if s.notifier != nil {
		s.notifier.Notify(message)
	}
	return seconds
}

// IsDST approximates daylight saving: active April through September, inactive
// November through February, switching on the last Sunday of March and October.
// weekday is 0 for Sunday.
func IsDST(month, day, weekday int) bool {
	if month < 3 || month > 10 {
		return false
	}
	if month > 3 && month < 10 {
		return true
	}

	previousSunday := day - weekday
	if month == 3 {
		return previousSunday >= 24
	}
	return previousSunday < 24
}

func zoneName(offset int) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, offset/3600, (offset%3600)/60)
}
