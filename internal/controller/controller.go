// Package controller runs the control loop that owns the device state.
//
// Inbound commands from every channel and timer callbacks are serialized on a
// single goroutine, so the ramp engine, alarm scheduler and timer table need
// no locking.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/timers"
)

// DefaultIdle is how long the loop sleeps with no timers installed.
const DefaultIdle = time.Hour

// ErrStopped is returned when the loop is no longer running.
var ErrStopped = errors.New("controller stopped")

// Clock converts timer due times into wait durations.
type Clock interface {
	Now() int64
	Until(epoch int64) time.Duration
}

// Handler dispatches raw command text.
type Handler interface {
	Handle(raw string) command.Reply
}

// Recorder receives audit events. May be nil.
type Recorder interface {
	Record(event string, data map[string]any)
}

type request struct {
	id     string
	source string
	raw    string
	fn     func()
	reply  chan command.Reply
}

// Controller serializes access to the timer table and the command handler.
type Controller struct {
	table    *timers.Table
	clock    Clock
	handler  Handler
	recorder Recorder
	idle     time.Duration

	requests chan request
	stopped  chan struct{}
}

// New creates a controller. Run must be called to start servicing requests.
func New(table *timers.Table, clock Clock, handler Handler, recorder Recorder) *Controller {
	return &Controller{
		table:    table,
		clock:    clock,
		handler:  handler,
		recorder: recorder,
		idle:     DefaultIdle,
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
}

// Run services requests and timers until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	log.Info().Msg("Controller started")

	for {
		sleep := c.idle
		if next, ok := c.table.Next(); ok {
			sleep = c.clock.Until(next)
			if sleep < 0 {
				sleep = 0
			}
		}

		timer := time.NewTimer(sleep)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Controller stopping")
			return nil

		case req := <-c.requests:
			timer.Stop()
			c.serve(req)

		case <-timer.C:
			if n := c.table.Advance(c.clock.Now()); n > 0 {
				log.Debug().Int("fired", n).Msg("Timers serviced")
			}
		}
	}
}

func (c *Controller) serve(req request) {
	if req.fn != nil {
		req.fn()
		close(req.reply)
		return
	}

	reply := c.handler.Handle(req.raw)
	if reply.Kind != command.KindUnrecognized && c.recorder != nil {
		data := map[string]any{
			"request_id": req.id,
			"source":     req.source,
			"command":    req.raw,
			"reply":      reply.Text(),
		}
		if reply.Err != nil {
			data["error"] = reply.Err.Error()
		}
		c.recorder.Record("command", data)
	}
	req.reply <- reply
}

// Submit hands raw command text to the loop and waits for the reply.
func (c *Controller) Submit(ctx context.Context, source, raw string) (command.Reply, error) {
	req := request{
		id:     uuid.New().String(),
		source: source,
		raw:    raw,
		reply:  make(chan command.Reply, 1),
	}

	log.Debug().
		Str("request_id", req.id).
		Str("source", source).
		Str("command", raw).
		Msg("Command submitted")

	if err := c.send(ctx, req); err != nil {
		return command.Reply{}, err
	}

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return command.Reply{}, ctx.Err()
	case <-c.stopped:
		// the request may have been served right before the loop exited
		select {
		case reply := <-req.reply:
			return reply, nil
		default:
			return command.Reply{}, ErrStopped
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
func (c *Controller) Do(ctx context.Context, fn func()) error {
	req := request{fn: fn, reply: make(chan command.Reply)}
	if err := c.send(ctx, req); err != nil {
		return err
	}

	select {
	case <-req.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		select {
		case <-req.reply:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (c *Controller) send(ctx context.Context, req request) error {
	select {
	case c.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}
