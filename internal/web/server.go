// Package web serves the local dashboard and maps its HTTP endpoints onto commands.
package web

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/device"
	"github.com/dokzlo13/sunrised/internal/ledger"
)

// Source tags commands submitted over HTTP.
const Source = "web"

//go:embed index.html
var indexHTML []byte

// Device is the state the endpoints act on.
type Device interface {
	Submit(ctx context.Context, source, raw string) (command.Reply, error)
	State(ctx context.Context) (device.State, error)
}

// History lists recent audit entries.
type History interface {
	GetRecent(limit int) ([]*ledger.Entry, error)
}

// Server is the HTTP server for the dashboard, the command endpoints and any mounted handlers.
type Server struct {
	addr       string
	engine     *gin.Engine
	device     Device
	history    History
	ready      func() error
	httpServer *http.Server
}

// NewServer creates the server. history and ready may be nil.
func NewServer(addr string, dev Device, history History, ready func() error) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	setupMiddleware(engine)

	s := &Server{
		addr:    addr,
		engine:  engine,
		device:  dev,
		history: history,
		ready:   ready,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleIndex)

	s.engine.GET("/currentBrightness", s.handleSlider(command.KeywordSetBrightness))
	s.engine.GET("/maxBrightness", s.handleSlider(command.KeywordSetMaxBrightness))
	s.engine.GET("/sunriseDuration", s.handleSlider(command.KeywordSetDuration))
	s.engine.GET("/setSunrise", s.handleSetSunrise)
	s.engine.GET("/reboot", s.handleReboot)
	s.engine.GET("/getInitialValues", s.handleInitialValues)

	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/history", s.handleHistory)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
}

// Mount serves h for every method on path.
func (s *Server) Mount(path string, h http.Handler) {
	s.engine.Any(path, gin.WrapH(h))
	log.Debug().Str("path", path).Msg("Handler mounted")
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting web server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Web server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
