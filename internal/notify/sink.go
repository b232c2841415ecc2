// Package notify fans status strings out to the outbound channels.
//
// Every registered channel gets its own bounded queue and worker goroutine,
// so a failing, slow or panicking channel never delays the others or the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default configuration
const (
	DefaultQueueSize = 64
	DefaultTimeout   = 10 * time.Second
)

// Channel delivers messages to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) error
}

type worker struct {
	ch    Channel
	queue chan string
}

// Sink routes messages to registered channels.
type Sink struct {
	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool

	queueSize int
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewSink creates a sink with the given per-channel queue size and per-message send timeout.
func NewSink(queueSize int, timeout time.Duration) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sink{
		workers:   make(map[string]*worker),
		queueSize: queueSize,
		timeout:   timeout,
	}
}

// Register adds a channel and starts its worker. A channel registered under
// an existing name is ignored.
func (s *Sink) Register(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, exists := s.workers[ch.Name()]; exists {
		log.Warn().Str("channel", ch.Name()).Msg("Notification channel already registered")
		return
	}

	w := &worker{ch: ch, queue: make(chan string, s.queueSize)}
	s.workers[ch.Name()] = w

	s.wg.Add(1)
	go s.run(w)

	log.Debug().Str("channel", ch.Name()).Int("queue_size", s.queueSize).Msg("Notification channel registered")
}

// Channels returns the registered channel names.
func (s *Sink) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	return names
}

func (s *Sink) run(w *worker) {
	defer s.wg.Done()

	for msg := range w.queue {
		s.deliver(w.ch, msg)
	}
}

func (s *Sink) deliver(ch Channel, msg string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("channel", ch.Name()).
				Msg("Notification channel panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := ch.Send(ctx, msg); err != nil {
		log.Warn().
			Err(err).
			Str("channel", ch.Name()).
			Msg("Failed to deliver notification")
	}
}

// Broadcast enqueues message for the named channels, or for every channel when
// none are named. Never blocks: a full queue drops the message for that channel.
func (s *Sink) Broadcast(message string, channels ...string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		log.Warn().Msg("Notification sink closed, dropping message")
		return
	}

	if len(channels) == 0 {
		for _, w := range s.workers {
			s.enqueue(w, message)
		}
		return
	}

	for _, name := range channels {
		w, ok := s.workers[name]
		if !ok {
			continue
		}
		s.enqueue(w, message)
	}
}

func (s *Sink) enqueue(w *worker, message string) {
	select {
	case w.queue <- message:
	default:
		log.Warn().
			Str("channel", w.ch.Name()).
			Msg("Notification queue full, dropping message")
	}
}

// To returns a Notifier bound to the given channels (every channel when none).
func (s *Sink) To(channels ...string) *Route {
	return &Route{sink: s, channels: channels}
}

// Close stops accepting messages and waits for queued ones to drain until ctx expires.
func (s *Sink) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, w := range s.workers {
		close(w.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Notification workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Notification shutdown timed out, some messages may be lost")
	}
}

// Route publishes to a fixed set of channels.
type Route struct {
	sink     *Sink
	channels []string
}

// Notify broadcasts message on the route's channels.
func (r *Route) Notify(message string) {
	r.sink.Broadcast(message, r.channels...)
}

// LogChannel writes every message to the log.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(_ context.Context, message string) error {
	log.Info().Str("message", message).Msg("Notification")
	return nil
}
