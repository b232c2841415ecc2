package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/alarm"
	"github.com/dokzlo13/sunrised/internal/ramp"
)

// User-facing messages.
const (
	MsgInvalidTime       = "Invalid time format. Please use HH:MM format."
	MsgMissingTime       = "Please specify a time. Example: /settime 14:30"
	MsgInvalidBrightness = "Invalid brightness value. Please use a value between 0 and 1023"
	MsgInvalidMax        = "Invalid brightness value. Please use a value between 1 and 1023"
	MsgInvalidDuration   = "Invalid duration value. Please use a positive number of minutes"
	MsgRebooting         = "Rebooting..."
	MsgAlarmCancelled    = "Alarm cancelled"
	MsgAlarmEnabled      = "Alarm is enabled"
	MsgAlarmDisabled     = "Alarm is disabled"
)

// Engine is the ramp surface commands act on.
type Engine interface {
	Config() ramp.Config
	SetBrightness(v int) error
	SetMaxBrightness(v int) error
	SetDuration(minutes int) error
}

// Alarm is the alarm surface commands act on.
type Alarm interface {
	Schedule(targetHour, targetMinute, leadMinutes int) (alarm.Result, error)
	Status() alarm.Status
	Cancel() bool
}

// Rebooter restarts the process.
type Rebooter interface {
	Reboot(reason string)
}

// Notifier publishes replies.
type Notifier interface {
	Notify(message string)
}

// Reply is the outcome of a dispatched command.
type Reply struct {
	Kind  Kind
	Lines []string
	Err   error // validation or parse failure; Lines carry the user message
}

// Silent reports whether nothing should be sent back.
func (r Reply) Silent() bool {
	return len(r.Lines) == 0
}

// Text joins the lines into one message.
func (r Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Router maps commands onto the ramp engine and the alarm scheduler.
// Dispatch must run on the control loop.
type Router struct {
	engine   Engine
	alarm    Alarm
	rebooter Rebooter
	notifier Notifier
}

// NewRouter creates a router. notifier may be nil.
func NewRouter(engine Engine, alarms Alarm, rebooter Rebooter, notifier Notifier) *Router {
	return &Router{
		engine:   engine,
		alarm:    alarms,
		rebooter: rebooter,
		notifier: notifier,
	}
}

// Handle parses and dispatches raw text.
func (r *Router) Handle(raw string) Reply {
	return r.Dispatch(Parse(raw))
}

// Dispatch executes cmd and publishes the reply. Unrecognized commands are silent.
func (r *Router) Dispatch(cmd Command) Reply {
	if cmd.Kind == KindUnrecognized {
		log.Debug().Str("raw", cmd.Raw).Msg("Ignoring unrecognized command")
		return Reply{Kind: KindUnrecognized}
	}

	reply := r.execute(cmd)

	log.Info().
		Str("command", cmd.Kind.String()).
		Err(reply.Err).
		Str("reply", reply.Text()).
		Msg("Command dispatched")

	if r.notifier != nil && !reply.Silent() {
		r.notifier.Notify(reply.Text())
	}

	// restart only after the reply has been queued
	if cmd.Kind == KindReboot && r.rebooter != nil {
		r.rebooter.Reboot("command")
	}
	return reply
}

func (r *Router) execute(cmd Command) Reply {
	switch cmd.Kind {
	case KindSetTime:
		return r.setTime(cmd)
	case KindStatus:
		return r.status()
	case KindSetDuration:
		if cmd.Err != nil {
			return fail(cmd, cmd.Err, MsgInvalidDuration)
		}
		if err := r.engine.SetDuration(cmd.Value); err != nil {
			return fail(cmd, err, MsgInvalidDuration)
		}
		return ok(cmd, fmt.Sprintf("Brightness duration set to %d minutes", cmd.Value))
	case KindSetBrightness:
		if cmd.Err != nil {
			return fail(cmd, cmd.Err, MsgInvalidBrightness)
		}
		if err := r.engine.SetBrightness(cmd.Value); err != nil {
			return fail(cmd, err, MsgInvalidBrightness)
		}
		return ok(cmd, fmt.Sprintf("Brightness set to %d", cmd.Value))
	case KindSetMaxBrightness:
		if cmd.Err != nil {
			return fail(cmd, cmd.Err, MsgInvalidMax)
		}
		if err := r.engine.SetMaxBrightness(cmd.Value); err != nil {
			return fail(cmd, err, MsgInvalidMax)
		}
		return ok(cmd, fmt.Sprintf("Max brightness set to %d", cmd.Value))
	case KindCancelAlarm:
		if r.alarm.Cancel() {
			return ok(cmd, MsgAlarmCancelled)
		}
		return ok(cmd, MsgAlarmDisabled)
	case KindReboot:
		return ok(cmd, MsgRebooting)
	default:
		return Reply{Kind: cmd.Kind}
	}
}

func (r *Router) setTime(cmd Command) Reply {
	var pe *ParseError
	if errors.As(cmd.Err, &pe) && pe.Missing {
		return fail(cmd, cmd.Err, MsgMissingTime)
	}
	if cmd.Err != nil {
		return fail(cmd, cmd.Err, MsgInvalidTime)
	}

	res, err := r.alarm.Schedule(cmd.Hour, cmd.Minute, r.engine.Config().DurationMinutes)
	if err != nil {
		return fail(cmd, err, MsgInvalidTime)
	}

	return ok(cmd,
		fmt.Sprintf("Time set to %d:%d", res.AdjustedHour, res.AdjustedMinute),
		fmt.Sprintf("Minutes until alarm: %d", res.SecondsUntil/60),
	)
}

func (r *Router) status() Reply {
	st := r.alarm.Status()
	if !st.Active {
		return ok(Command{Kind: KindStatus},
			MsgAlarmDisabled,
			fmt.Sprintf("now: %d", st.Now),
			"next alarm: disabled",
		)
	}
	return ok(Command{Kind: KindStatus},
		MsgAlarmEnabled,
		fmt.Sprintf("now: %d", st.Now),
		fmt.Sprintf("next alarm: %d", st.NextTrigger),
		fmt.Sprintf("minutes until alarm: %d", st.SecondsRemaining/60),
	)
}

func ok(cmd Command, lines ...string) Reply {
	return Reply{Kind: cmd.Kind, Lines: lines}
}

func fail(cmd Command, err error, message string) Reply {
	return Reply{Kind: cmd.Kind, Lines: []string{message}, Err: err}
}

// IsUserError reports whether err came from bad input rather than a fault.
func IsUserError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) ||
		errors.Is(err, ramp.ErrValidation) ||
		errors.Is(err, alarm.ErrInvalidTimeFormat)
}
