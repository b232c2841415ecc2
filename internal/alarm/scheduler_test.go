package alarm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/sunrised/internal/ramp"
	"github.com/dokzlo13/sunrised/internal/timers"
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() int64 { return c.now }

type fakeRamp struct {
	cfg    ramp.Config
	starts [][2]int
}

func (r *fakeRamp) Config() ramp.Config { return r.cfg }

func (r *fakeRamp) Start(maxBrightness, durationMinutes int) error {
	r.starts = append(r.starts, [2]int{maxBrightness, durationMinutes})
	return nil
}

// day 19000 at 05:00 local
const baseEpoch = int64(19000*86400 + 5*3600)

func newScheduler() (*Scheduler, *fakeRamp, *timers.Table, *fakeClock) {
	r := &fakeRamp{cfg: ramp.Config{MaxBrightness: 255, DurationMinutes: 45}}
	tbl := timers.New()
	clk := &fakeClock{now: baseEpoch}
	return New(r, tbl, clk, nil), r, tbl, clk
}

func TestAdjust(t *testing.T) {
	tests := []struct {
		name                 string
		hour, minute, lead   int
		wantHour, wantMinute int
	}{
		{"simple borrow", 7, 0, 45, 6, 15},
		{"wrap midnight", 0, 10, 45, 23, 25},
		{"no borrow", 7, 50, 45, 7, 5},
		{"zero lead", 12, 30, 0, 12, 30},
		{"exact hour", 7, 0, 60, 6, 0},
		{"exact two hours", 7, 30, 120, 5, 30},
		{"multi hour borrow", 7, 0, 150, 4, 30},
		{"full day", 7, 0, 1440, 7, 0},
		{"more than a day", 1, 0, 1500, 0, 0},
		{"midnight exact", 0, 0, 60, 23, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m := Adjust(tt.hour, tt.minute, tt.lead)
			if h != tt.wantHour || m != tt.wantMinute {
				t.Errorf("Adjust(%d, %d, %d) = %d:%d, want %d:%d",
					tt.hour, tt.minute, tt.lead, h, m, tt.wantHour, tt.wantMinute)
			}
			if h < 0 || h > 23 || m < 0 || m > 59 {
				t.Errorf("Adjust(%d, %d, %d) = %d:%d out of range", tt.hour, tt.minute, tt.lead, h, m)
			}
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	day := int64(19000 * 86400)

	require.Equal(t, day+6*3600+15*60, NextOccurrence(day+5*3600, 6, 15))
	// strictly after now: the same instant rolls to tomorrow
	require.Equal(t, day+86400+6*3600, NextOccurrence(day+6*3600, 6, 0))
	require.Equal(t, day+86400+4*3600, NextOccurrence(day+5*3600, 4, 0))
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	s, _, tbl, _ := newScheduler()
	res, err := s.Schedule(7, 0, 45)
	require.NoError(t, err)

	require.Equal(t, 6, res.AdjustedHour)
	require.Equal(t, 15, res.AdjustedMinute)
	require.Equal(t, baseEpoch+75*60, res.NextTrigger)
	require.Equal(t, int64(75*60), res.SecondsUntil)
	require.Equal(t, 1, tbl.Len())

	st := s.Status()
	require.True(t, st.Active)
	require.Equal(t, res.NextTrigger, st.NextTrigger)
	require.Equal(t, int64(75*60), st.SecondsRemaining)
	require.Equal(t, 7, st.TargetHour)
}

func TestSchedule_InvalidLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	s, _, tbl, _ := newScheduler()
	first, err := s.Schedule(7, 0, 45)
	require.NoError(t, err)

	for _, tc := range [][2]int{{25, 0}, {5, 61}, {-1, 0}, {0, -1}, {24, 0}} {
		_, err := s.Schedule(tc[0], tc[1], 45)
		require.ErrorIs(t, err, ErrInvalidTimeFormat)
	}

	require.Equal(t, 1, tbl.Len())
	require.Equal(t, first.NextTrigger, s.Status().NextTrigger)
}

func TestSchedule_Idempotent(t *testing.T) {
	t.Parallel()

	s, r, tbl, clk := newScheduler()
	a, err := s.Schedule(7, 0, 45)
	require.NoError(t, err)
	b, err := s.Schedule(7, 0, 45)
	require.NoError(t, err)

	require.Equal(t, a.NextTrigger, b.NextTrigger)
	require.Equal(t, 1, tbl.Len())

	clk.now = a.NextTrigger
	require.Equal(t, 1, tbl.Advance(clk.now))
	require.Len(t, r.starts, 1)
}

func TestFire_StartsRampWithCurrentConfig(t *testing.T) {
	t.Parallel()

	s, r, tbl, clk := newScheduler()
	res, err := s.Schedule(7, 0, 45)
	require.NoError(t, err)

	// changed after scheduling; read at fire time
	r.cfg.MaxBrightness = 800
	r.cfg.DurationMinutes = 30

	clk.now = res.NextTrigger - 1
	require.Equal(t, 0, tbl.Advance(clk.now))

	clk.now = res.NextTrigger
	tbl.Advance(clk.now)
	require.Equal(t, [][2]int{{800, 30}}, r.starts)
	require.False(t, s.Status().Active)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	s, _, tbl, _ := newScheduler()
	require.False(t, s.Cancel())

	_, err := s.Schedule(6, 30, 45)
	require.NoError(t, err)
	require.True(t, s.Cancel())
	require.False(t, s.Cancel())
	require.Equal(t, 0, tbl.Len())

	st := s.Status()
	require.False(t, st.Active)
	require.Equal(t, baseEpoch, st.Now)
}
