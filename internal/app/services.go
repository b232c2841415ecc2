package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/alarm"
	"github.com/dokzlo13/sunrised/internal/clock"
	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/config"
	"github.com/dokzlo13/sunrised/internal/controller"
	"github.com/dokzlo13/sunrised/internal/db"
	"github.com/dokzlo13/sunrised/internal/device"
	"github.com/dokzlo13/sunrised/internal/ledger"
	"github.com/dokzlo13/sunrised/internal/notify"
	"github.com/dokzlo13/sunrised/internal/output"
	"github.com/dokzlo13/sunrised/internal/ramp"
	"github.com/dokzlo13/sunrised/internal/timers"
	"github.com/dokzlo13/sunrised/internal/version"
)

// recorder is the audit surface shared by the core packages.
type recorder interface {
	Record(event string, data map[string]any)
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Clock  *clock.Service
	Sink   *notify.Sink
	Output *output.Tracked

	// Control loop and the state it owns
	Table      *timers.Table
	Engine     *ramp.Engine
	Alarm      *alarm.Scheduler
	Router     *command.Router
	Controller *controller.Controller
	Device     *device.Device

	Channels *ChannelService

	ready atomic.Bool
	bg    sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
// Nothing is started and nothing blocks on the network.
func NewServices(cfg *config.Config, rebooter command.Rebooter) (*Services, error) {
	return newServices(cfg, rebooter, newTimeSource(cfg.Time))
}

func newServices(cfg *config.Config, rebooter command.Rebooter, source clock.Source) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database and ledger
	var rec recorder
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB, cfg.Ledger.QueueSize)
		rec = s.Ledger
	} else {
		log.Info().Msg("Event ledger is disabled")
	}

	s.Sink = notify.NewSink(cfg.Notify.QueueSize, cfg.Notify.Timeout.Duration())
	s.Sink.Register(notify.LogChannel{})
	replies := s.Sink.To(cfg.Notify.Replies...)

	s.Clock = clock.New(source, clock.Policy{
		StdOffset:    cfg.Time.StdOffset.Duration(),
		DSTOffset:    cfg.Time.DSTOffset.Duration(),
		SyncAttempts: cfg.Time.SyncAttempts,
		SyncDelay:    cfg.Time.SyncDelay.Duration(),
	}, s.Sink.To(cfg.Notify.Status...))

	writer, err := output.Open(cfg.Device)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open output: %w", err)
	}
	s.Output = output.Track(writer)

	s.Table = timers.New()
	s.Engine = ramp.NewEngine(ramp.Config{
		MaxBrightness:   cfg.Ramp.MaxBrightness,
		DurationMinutes: cfg.Ramp.DurationMinutes,
		MaxDuration:     cfg.Ramp.MaxDuration,
		Override:        ramp.OverridePolicy(cfg.Ramp.Override),
	}, s.Output, s.Sink.To(cfg.Notify.Progress...), rec, s.Table, s.Clock)
	s.Alarm = alarm.New(s.Engine, s.Table, s.Clock, rec)
	s.Router = command.NewRouter(s.Engine, s.Alarm, rebooter, replies)
	s.Controller = controller.New(s.Table, s.Clock, s.Router, rec)
	s.Device = device.New(cfg.Device.Name, s.Controller, s.Engine, s.Alarm)

	s.Channels = NewChannelService(cfg, s.Device, s.Sink, s.Ledger, s.Ready)

	return s, nil
}

func newTimeSource(cfg config.TimeConfig) clock.Source {
	if cfg.NTPServer == "" {
		log.Info().Msg("No NTP server configured, trusting the host clock")
		return clock.SystemSource{}
	}
	return clock.NewNTPSource(cfg.NTPServer, cfg.NTPTimeout.Duration())
}

// Start synchronizes the clock, starts the control loop and every enabled channel.
// A clock that cannot be synchronized is fatal.
// The onFatalError callback is called when a service fails after startup.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.Clock.Sync(ctx); err != nil {
		return err
	}
	s.Clock.Refresh()

	if s.Ledger != nil {
		s.Ledger.Start()
		if err := s.Ledger.Append(ledger.EventStartup, map[string]any{
			"device":  s.cfg.Device.Name,
			"version": version.Version,
			"backend": s.cfg.Device.Backend,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to record startup")
		}

		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.cfg.Ledger.Retention())
		}()
	}

	// The table is not shared yet, so the refresh entry goes in before the loop starts.
	if refresh := s.cfg.Time.DSTRefresh.Duration(); refresh > 0 {
		interval := int64(refresh / time.Second)
		s.Table.Add(timers.Entry{
			Name:     "dst-refresh",
			Kind:     timers.Periodic,
			Due:      s.Clock.Now() + interval,
			Interval: interval,
			Fire:     func(int64) { s.Clock.Refresh() },
		})
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.Controller.Run(ctx); err != nil {
			onFatalError(fmt.Errorf("controller: %w", err))
		}
	}()

	s.Channels.Start(onFatalError)

	s.ready.Store(true)
	s.Sink.Broadcast(s.cfg.Device.Name + " started")

	log.Info().
		Str("device", s.cfg.Device.Name).
		Str("backend", s.cfg.Device.Backend).
		Int64("now", s.Clock.Now()).
		Int("offset", s.Clock.Offset()).
		Strs("channels", s.Sink.Channels()).
		Msg("Services started")
	return nil
}

// Ready reports whether startup has completed.
func (s *Services) Ready() error {
	if !s.ready.Load() {
		return errors.New("starting")
	}
	return nil
}

// Stop drains notifications while the channels are still connected, then
// stops the channels and releases resources. The control loop must already
// be stopping (its context cancelled).
func (s *Services) Stop(timeout time.Duration) error {
	s.ready.Store(false)

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("Background services did not stop in time")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	s.Sink.Close(drainCtx)
	cancel()

	s.Channels.Stop(timeout)

	log.Info().Int("level", s.Output.Last()).Msg("Output released")
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Ledger != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Ledger.Close(closeCtx)
		cancel()
	}
	if s.Output != nil {
		if err := s.Output.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close output")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
