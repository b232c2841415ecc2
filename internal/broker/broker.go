// Package broker connects the device to an MQTT broker: payloads on the
// command topic are submitted as commands and notifications are published
// on the status topic.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/config"
)

// Source tags commands received from the broker.
const Source = "mqtt"

// ErrNotConnected is returned by Send when the client stays offline until the deadline.
var ErrNotConnected = errors.New("mqtt client not connected")

// Submitter hands command text to the control loop.
type Submitter interface {
	Submit(ctx context.Context, source, raw string) (command.Reply, error)
}

// client is the part of mqtt.Client the channel uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Broker is the MQTT channel.
type Broker struct {
	cfg       config.MQTTConfig
	submitter Submitter
	client    client
	raw       mqtt.Client

	mu sync.Mutex
	up chan struct{} // closed while connected
}

// New creates the channel. Run connects it.
func New(cfg config.MQTTConfig, submitter Submitter) *Broker {
	b := &Broker{cfg: cfg, submitter: submitter, up: make(chan struct{})}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout.Duration()).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.markDown()
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT reconnecting")
		})

	b.raw = mqtt.NewClient(opts)
	b.client = b.raw
	return b
}

// Name implements notify.Channel.
func (b *Broker) Name() string { return Source }

// Run connects and keeps the subscription alive until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	log.Info().
		Str("broker", b.cfg.Broker).
		Str("command_topic", b.cfg.CommandTopic).
		Str("status_topic", b.cfg.StatusTopic).
		Msg("Connecting to MQTT broker")

	token := b.raw.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout.Duration()) {
		log.Warn().Str("broker", b.cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
	}

	<-ctx.Done()

	b.raw.Disconnect(250)
	log.Info().Msg("MQTT client disconnected")
	return nil
}

// onConnect (re)subscribes after every successful connection.
func (b *Broker) onConnect(c mqtt.Client) {
	log.Info().Str("broker", b.cfg.Broker).Msg("MQTT connected")
	b.markUp()

	token := c.Subscribe(b.cfg.CommandTopic, byte(b.cfg.QoS), func(_ mqtt.Client, m mqtt.Message) {
		b.handleMessage(m.Topic(), m.Payload())
	})
	go func() {
		if !token.WaitTimeout(b.cfg.ConnectTimeout.Duration()) {
			log.Warn().Str("topic", b.cfg.CommandTopic).Msg("MQTT subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", b.cfg.CommandTopic).Msg("MQTT subscribe failed")
			return
		}
		log.Info().Str("topic", b.cfg.CommandTopic).Msg("MQTT subscribed")
	}()
}

// handleMessage submits the payload verbatim as a command. Replies reach the
// broker through the notification sink.
func (b *Broker) handleMessage(topic string, payload []byte) {
	raw := string(payload)
	log.Debug().Str("topic", topic).Str("payload", raw).Msg("MQTT message received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.submitter.Submit(ctx, Source, raw); err != nil {
		log.Warn().Err(err).Str("payload", raw).Msg("Failed to submit MQTT command")
	}
}

func (b *Broker) markUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.up:
	default:
		close(b.up)
	}
}

func (b *Broker) markDown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.up:
		b.up = make(chan struct{})
	default:
	}
}

// waitConnected blocks until the client is connected or ctx is done.
func (b *Broker) waitConnected(ctx context.Context) error {
	b.mu.Lock()
	up := b.up
	b.mu.Unlock()

	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
	}
}

// Send publishes message on the status topic, waiting for the connection
// while the client is still connecting.
func (b *Broker) Send(ctx context.Context, message string) error {
	if !b.client.IsConnectionOpen() {
		if err := b.waitConnected(ctx); err != nil {
			return err
		}
	}

	token := b.client.Publish(b.cfg.StatusTopic, byte(b.cfg.QoS), false, message)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
