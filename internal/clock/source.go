package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// NTPSource queries an NTP server.
type NTPSource struct {
	server  string
	timeout time.Duration
}

// NewNTPSource creates a source for the given server (e.g. "pool.ntp.org").
func NewNTPSource(server string, timeout time.Duration) *NTPSource {
	return &NTPSource{server: server, timeout: timeout}
}

// Query returns the host time corrected by the server's clock offset.
func (s *NTPSource) Query(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	resp, err := ntp.QueryWithOptions(s.server, ntp.QueryOptions{Timeout: s.timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", s.server, err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("ntp response from %s: %w", s.server, err)
	}

	return time.Now().Add(resp.ClockOffset), nil
}

// SystemSource trusts the host clock (already disciplined by the OS).
type SystemSource struct{}

// Query returns the host time.
func (SystemSource) Query(context.Context) (time.Time, error) {
	return time.Now(), nil
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (time.Time, error)

// Query calls f.
func (f SourceFunc) Query(ctx context.Context) (time.Time, error) {
	return f(ctx)
}
