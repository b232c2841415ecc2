// Package chat implements the Telegram bot channel. Text from the configured
// chat is submitted as commands and notifications are sent back to it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/config"
)

// Source tags commands received from the chat.
const Source = "telegram"

// ErrNotConnected is returned by Send when the bot is not authorized before the deadline.
var ErrNotConnected = errors.New("telegram bot not connected")

// Submitter hands command text to the control loop.
type Submitter interface {
	Submit(ctx context.Context, source, raw string) (command.Reply, error)
}

// sender is the part of tgbotapi.BotAPI used to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is the Telegram channel.
type Bot struct {
	cfg       config.TelegramConfig
	submitter Submitter
	limiter   *rate.Limiter

	mu    sync.RWMutex
	api   sender
	ready chan struct{} // closed once api is set
}

// New creates the channel. Run authorizes the bot and starts polling.
func New(cfg config.TelegramConfig, submitter Submitter) *Bot {
	return &Bot{
		cfg:       cfg,
		submitter: submitter,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		ready:     make(chan struct{}),
	}
}

// Name implements notify.Channel.
func (b *Bot) Name() string { return Source }

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	api, err := tgbotapi.NewBotAPI(b.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram authorize: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Int64("chat_id", b.cfg.ChatID).Msg("Telegram bot authorized")

	b.setAPI(api)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.cfg.PollTimeout.Duration() / time.Second)
	updates := api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			log.Info().Msg("Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate submits text messages from the configured chat and drops the rest.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID != b.cfg.ChatID {
		log.Warn().Int64("chat_id", msg.Chat.ID).Msg("Ignoring message from unknown chat")
		return
	}
	if msg.Text == "" {
		return
	}

	log.Debug().Str("text", msg.Text).Msg("Telegram message received")

	submitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := b.submitter.Submit(submitCtx, Source, msg.Text); err != nil {
		log.Warn().Err(err).Str("text", msg.Text).Msg("Failed to submit Telegram command")
	}
}

func (b *Bot) setAPI(api sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.api = api
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
}

// Send delivers message to the configured chat, paced by the rate limiter.
// Messages sent before the bot is authorized wait for it until ctx is done.
func (b *Bot) Send(ctx context.Context, message string) error {
	select {
	case <-b.ready:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
	}

	b.mu.RLock()
	api := b.api
	b.mu.RUnlock()

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	if _, err := api.Send(tgbotapi.NewMessage(b.cfg.ChatID, message)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
