package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/sunrised/internal/alarm"
	"github.com/dokzlo13/sunrised/internal/clock"
	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/controller"
	"github.com/dokzlo13/sunrised/internal/output"
	"github.com/dokzlo13/sunrised/internal/ramp"
	"github.com/dokzlo13/sunrised/internal/timers"
)

func newDevice(t *testing.T) *Device {
	t.Helper()

	clk := clock.New(clock.SystemSource{}, clock.Policy{}, nil)
	tbl := timers.New()
	engine := ramp.NewEngine(ramp.Config{MaxBrightness: 255, DurationMinutes: 45, MaxDuration: 1440}, &output.LogWriter{}, nil, nil, tbl, clk)
	alarms := alarm.New(engine, tbl, clk, nil)
	router := command.NewRouter(engine, alarms, nil, nil)
	loop := controller.New(tbl, clk, router, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = loop.Run(ctx) }()

	return New("MorningLEDs", loop, engine, alarms)
}

func TestState(t *testing.T) {
	t.Parallel()

	d := newDevice(t)
	ctx := context.Background()

	st, err := d.State(ctx)
	require.NoError(t, err)
	require.Equal(t, "MorningLEDs", st.Name)
	require.Equal(t, 255, st.MaxBrightness)
	require.Equal(t, 45, st.DurationMinutes)
	require.Equal(t, "idle", st.Phase)
	require.False(t, st.Alarm.Active)

	_, err = d.Submit(ctx, "test", "/setbrightness 300")
	require.NoError(t, err)
	_, err = d.Submit(ctx, "test", "/settime 7:30")
	require.NoError(t, err)

	st, err = d.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 300, st.Brightness)
	require.True(t, st.Alarm.Active)
	require.Equal(t, "07:30", st.Alarm.Target)
	require.Positive(t, st.Alarm.SecondsRemaining)
}
