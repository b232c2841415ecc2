// Package device is the facade every channel talks to: it submits command text
// to the control loop and reads consistent snapshots of the device state.
package device

import (
	"context"
	"fmt"

	"github.com/dokzlo13/sunrised/internal/alarm"
	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/ramp"
)

// AlarmState is the JSON view of the pending alarm.
type AlarmState struct {
	Active           bool   `json:"active"`
	Now              int64  `json:"now"`
	NextTrigger      int64  `json:"next_trigger,omitempty"`
	SecondsRemaining int64  `json:"seconds_remaining,omitempty"`
	Target           string `json:"target,omitempty"`
}

// State is a consistent snapshot taken on the control loop.
type State struct {
	Name            string     `json:"name"`
	Brightness      int        `json:"brightness"`
	MaxBrightness   int        `json:"max_brightness"`
	DurationMinutes int        `json:"duration_minutes"`
	Phase           string     `json:"phase"`
	StepSeconds     int        `json:"step_seconds,omitempty"`
	Alarm           AlarmState `json:"alarm"`
}

// Loop is the control loop surface.
type Loop interface {
	Submit(ctx context.Context, source, raw string) (command.Reply, error)
	Do(ctx context.Context, fn func()) error
}

// Device binds the control loop to the state it owns.
type Device struct {
	name   string
	loop   Loop
	engine *ramp.Engine
	alarm  *alarm.Scheduler
}

// New creates a device facade.
func New(name string, loop Loop, engine *ramp.Engine, alarms *alarm.Scheduler) *Device {
	return &Device{name: name, loop: loop, engine: engine, alarm: alarms}
}

// Name returns the configured device name.
func (d *Device) Name() string {
	return d.name
}

// Submit runs raw command text on the control loop.
func (d *Device) Submit(ctx context.Context, source, raw string) (command.Reply, error) {
	return d.loop.Submit(ctx, source, raw)
}

// State returns a snapshot of the ramp and alarm.
func (d *Device) State(ctx context.Context) (State, error) {
	var st State
	err := d.loop.Do(ctx, func() {
		snap := d.engine.Snapshot()
		as := d.alarm.Status()

		st = State{
			Name:            d.name,
			Brightness:      snap.Current,
			MaxBrightness:   snap.MaxBrightness,
			DurationMinutes: snap.DurationMinutes,
			Phase:           snap.Phase.String(),
			Alarm: AlarmState{
				Active: as.Active,
				Now:    as.Now,
			},
		}
		if snap.Phase == ramp.InProgress {
			st.StepSeconds = snap.StepSeconds
		}
		if as.Active {
			st.Alarm.NextTrigger = as.NextTrigger
			st.Alarm.SecondsRemaining = as.SecondsRemaining
			st.Alarm.Target = fmt.Sprintf("%02d:%02d", as.TargetHour, as.TargetMinute)
		}
	})
	return st, err
}
