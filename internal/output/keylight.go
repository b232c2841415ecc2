package output

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mdlayher/keylight"
	"github.com/rs/zerolog/log"
)

// Key Light limits.
const (
	keylightMinBrightness = 3
	keylightMaxBrightness = 100
	keylightWarmKelvin    = 2900
)

// KeylightWriter drives an Elgato Key Light over its HTTP API.
//
// Writes only record the latest level; a background worker pushes it to the
// light, so a slow or unreachable light never blocks the caller and
// intermediate levels are coalesced.
type KeylightWriter struct {
	client  *keylight.Client
	timeout time.Duration

	mu      sync.Mutex
	pending int
	dirty   bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewKeylight creates a writer for the light at addr (e.g. "http://192.168.1.20:9123").
func NewKeylight(addr string, timeout time.Duration) (*KeylightWriter, error) {
	client, err := keylight.NewClient(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("keylight client %s: %w", addr, err)
	}

	k := &KeylightWriter{
		client:  client,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	k.wg.Add(1)
	go k.run()

	log.Info().Str("addr", addr).Msg("Key Light output ready")
	return k, nil
}

// KeylightState maps a PWM level onto the light's power and brightness.
// Level 0 turns the light off; anything else is scaled into [3, 100].
func KeylightState(level int) (on bool, brightness int) {
	level = Clamp(level)
	if level == 0 {
		return false, keylightMinBrightness
	}

	brightness = int(math.Round(float64(level) * keylightMaxBrightness / MaxLevel))
	if brightness < keylightMinBrightness {
		brightness = keylightMinBrightness
	}
	if brightness > keylightMaxBrightness {
		brightness = keylightMaxBrightness
	}
	return true, brightness
}

// Write queues level for the light.
func (k *KeylightWriter) Write(level int) error {
	k.mu.Lock()
	k.pending = level
	k.dirty = true
	k.mu.Unlock()

	select {
	case k.wake <- struct{}{}:
	default:
	}
	return nil
}

func (k *KeylightWriter) run() {
	defer k.wg.Done()

	for {
		select {
		case <-k.done:
			return
		case <-k.wake:
		}

		k.mu.Lock()
		level, dirty := k.pending, k.dirty
		k.dirty = false
		k.mu.Unlock()

		if dirty {
			k.push(level)
		}
	}
}

func (k *KeylightWriter) push(level int) {
	on, brightness := KeylightState(level)

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	lights := []*keylight.Light{{
		On:          on,
		Brightness:  brightness,
		Temperature: keylightWarmKelvin,
	}}

	if err := k.client.SetLights(ctx, lights); err != nil {
		log.Warn().Err(err).Int("level", level).Msg("Failed to update Key Light")
		return
	}
	log.Debug().Int("level", level).Bool("on", on).Int("brightness", brightness).Msg("Key Light updated")
}

// Close stops the worker.
func (k *KeylightWriter) Close() error {
	close(k.done)
	k.wg.Wait()
	return nil
}
