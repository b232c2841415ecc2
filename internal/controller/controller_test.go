package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/sunrised/internal/clock"
	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/timers"
)

type echoHandler struct {
	mu  sync.Mutex
	got []string
}

func (h *echoHandler) Handle(raw string) command.Reply {
	h.mu.Lock()
	h.got = append(h.got, raw)
	h.mu.Unlock()

	cmd := command.Parse(raw)
	if cmd.Kind == command.KindUnrecognized {
		return command.Reply{Kind: cmd.Kind}
	}
	return command.Reply{Kind: cmd.Kind, Lines: []string{"ok " + raw}}
}

type memRecorder struct {
	mu     sync.Mutex
	events []map[string]any
}

func (r *memRecorder) Record(event string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data["event"] = event
	r.events = append(r.events, data)
}

func (r *memRecorder) all() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.events...)
}

func start(t *testing.T, c *Controller) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel
}

func hostClock() *clock.Service {
	return clock.New(clock.SystemSource{}, clock.Policy{}, nil)
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	h := &echoHandler{}
	rec := &memRecorder{}
	c := New(timers.New(), hostClock(), h, rec)
	start(t, c)

	reply, err := c.Submit(context.Background(), "web", "/status")
	require.NoError(t, err)
	require.Equal(t, "ok /status", reply.Text())

	reply, err = c.Submit(context.Background(), "mqtt", "garbage")
	require.NoError(t, err)
	require.True(t, reply.Silent())

	events := rec.all()
	require.Len(t, events, 1)
	require.Equal(t, "command", events[0]["event"])
	require.Equal(t, "web", events[0]["source"])
	require.NotEmpty(t, events[0]["request_id"])
}

func TestDo_RunsOnLoop(t *testing.T) {
	t.Parallel()

	tbl := timers.New()
	c := New(tbl, hostClock(), &echoHandler{}, nil)
	start(t, c)

	var n int
	require.NoError(t, c.Do(context.Background(), func() { n = tbl.Len() + 1 }))
	require.Equal(t, 1, n)
}

// TestRun_FiresTimers checks the loop wakes for a due entry without any request.
func TestRun_FiresTimers(t *testing.T) {
	t.Parallel()

	tbl := timers.New()
	clk := hostClock()
	c := New(tbl, clk, &echoHandler{}, nil)

	fired := make(chan int64, 1)
	tbl.Add(timers.Entry{Kind: timers.OneShot, Due: clk.Now() + 1, Fire: func(now int64) { fired <- now }})
	start(t, c)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}
}

// TestRun_RecomputesAfterRequest installs a timer through Do while the loop idles.
func TestRun_RecomputesAfterRequest(t *testing.T) {
	t.Parallel()

	tbl := timers.New()
	clk := hostClock()
	c := New(tbl, clk, &echoHandler{}, nil)
	start(t, c)

	fired := make(chan struct{})
	require.NoError(t, c.Do(context.Background(), func() {
		tbl.Add(timers.Entry{Kind: timers.OneShot, Due: clk.Now(), Fire: func(int64) { close(fired) }})
	}))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer installed by a request did not fire")
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	t.Parallel()

	c := New(timers.New(), hostClock(), &echoHandler{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := c.Submit(context.Background(), "web", "/status")
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, c.Do(context.Background(), func() {}), ErrStopped)
}

func TestSubmit_ContextCancelled(t *testing.T) {
	t.Parallel()

	// never started
	c := New(timers.New(), hostClock(), &echoHandler{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Submit(ctx, "web", "/status")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
