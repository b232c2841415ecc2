package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/assistant"
	"github.com/dokzlo13/sunrised/internal/broker"
	"github.com/dokzlo13/sunrised/internal/chat"
	"github.com/dokzlo13/sunrised/internal/config"
	"github.com/dokzlo13/sunrised/internal/device"
	"github.com/dokzlo13/sunrised/internal/ledger"
	"github.com/dokzlo13/sunrised/internal/notify"
	"github.com/dokzlo13/sunrised/internal/web"
)

// ChannelService owns the inbound/outbound channels. They run on their own
// context so that queued notifications can still be delivered after the
// control loop has stopped.
type ChannelService struct {
	cfg *config.Config

	Web       *web.Server
	Broker    *broker.Broker
	Bot       *chat.Bot
	Assistant *assistant.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannelService builds every enabled channel and registers the outbound
// ones with the sink. history may be nil.
func NewChannelService(
	cfg *config.Config,
	dev *device.Device,
	sink *notify.Sink,
	history *ledger.Ledger,
	ready func() error,
) *ChannelService {
	s := &ChannelService{cfg: cfg}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.Web.Enabled {
		var h web.History
		if history != nil {
			h = history
		}
		s.Web = web.NewServer(cfg.Web.Addr(), dev, h, ready)
	}

	if cfg.Assistant.Enabled {
		s.Assistant = assistant.NewServer(cfg.Device.Name, dev)
		if s.Web != nil {
			s.Web.Mount(cfg.Assistant.Path, s.Assistant.Handler())
		} else {
			log.Warn().Msg("Assistant endpoint needs the web server, which is disabled")
		}
	}

	if cfg.MQTT.Enabled {
		s.Broker = broker.New(cfg.MQTT, dev)
		sink.Register(s.Broker)
	}

	if cfg.Telegram.Enabled {
		s.Bot = chat.New(cfg.Telegram, dev)
		sink.Register(s.Bot)
	}

	return s
}

// Start launches every channel. A web server that cannot listen is fatal; the
// other channels only log their failures.
func (s *ChannelService) Start(onFatalError func(error)) {
	if s.Web != nil {
		s.run("web", func(ctx context.Context) error {
			if err := s.Web.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(fmt.Errorf("web server: %w", err))
			}
			return nil
		})
	}
	if s.Broker != nil {
		s.run("mqtt", s.Broker.Run)
	}
	if s.Bot != nil {
		s.run("telegram", s.Bot.Run)
	}
}

func (s *ChannelService) run(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil {
			log.Error().Err(err).Str("channel", name).Msg("Channel stopped")
		}
	}()
}

// Stop cancels the channels and waits for them to return.
func (s *ChannelService) Stop(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Channels stopped")
	case <-time.After(timeout):
		log.Warn().Msg("Channels did not stop in time")
	}
}
