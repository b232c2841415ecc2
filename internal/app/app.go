package app

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/config"
)

// RestartExitCode is the process exit status that asks the supervisor for a restart.
const RestartExitCode = 75

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
	restart  atomic.Bool
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	services, err := NewServices(cfg, a)
	if err != nil {
		return nil, err
	}
	a.services = services

	return a, nil
}

// Services exposes the service container.
func (a *App) Services() *Services {
	return a.services
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// Fatal error handler - cancels the app context to trigger shutdown
	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel()
		return err
	}

	log.Info().Str("device", a.cfg.Device.Name).Msg("sunrised started")
	return nil
}

// Reboot records the restart intent and triggers shutdown. It is called on
// the control loop, after the reply has been queued.
func (a *App) Reboot(reason string) {
	log.Warn().Str("reason", reason).Msg("Restart requested")
	a.restart.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
}

// RestartRequested reports whether shutdown was caused by a restart request.
func (a *App) RestartRequested() bool {
	return a.restart.Load()
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop(a.cfg.ShutdownTimeout.Duration())
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
