// Package ledger provides an append-only audit history of commands, alarms and ramps.
// The history is for inspection only; it is never replayed into device state.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommand        EventType = "command"
	EventAlarmScheduled EventType = "alarm_scheduled"
	EventAlarmCancelled EventType = "alarm_cancelled"
	EventAlarmFired     EventType = "alarm_fired"
	EventRampStarted    EventType = "ramp_started"
	EventRampFinished   EventType = "ramp_finished"
	EventRampCancelled  EventType = "ramp_cancelled"
	EventStartup        EventType = "startup"
)

// DefaultQueueSize bounds the pending append queue.
const DefaultQueueSize = 256

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type pending struct {
	eventType EventType
	at        time.Time
	payload   map[string]any
}

// Ledger provides append-only event logging.
//
// Record never blocks: entries go through a bounded queue drained by one
// writer goroutine, started with Start.
type Ledger struct {
	db    *sql.DB
	queue chan pending

	closing   chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB, queueSize int) *Ledger {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Ledger{
		db:      db,
		queue:   make(chan pending, queueSize),
		closing: make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (l *Ledger) Start() {
	l.wg.Add(1)
	go l.writer()
}

func (l *Ledger) writer() {
	defer l.wg.Done()

	for p := range l.queue {
		if err := l.insert(p); err != nil {
			log.Error().Err(err).Str("event_type", string(p.eventType)).Msg("Failed to append ledger entry")
		}
	}
}

// Record queues an event. Drops it with a warning if the queue is full or the ledger is closed.
func (l *Ledger) Record(event string, data map[string]any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	select {
	case <-l.closing:
		return
	default:
	}

	select {
	case l.queue <- pending{eventType: EventType(event), at: time.Now(), payload: data}:
	default:
		log.Warn().Str("event_type", event).Msg("Ledger queue full, dropping entry")
	}
}

// Append writes an event synchronously.
func (l *Ledger) Append(eventType EventType, payload map[string]any) error {
	return l.insert(pending{eventType: eventType, at: time.Now(), payload: payload})
}

func (l *Ledger) insert(p pending) error {
	var (
		payloadJSON []byte
		source      string
		requestID   string
		err         error
	)

	if p.payload != nil {
		source, _ = p.payload["source"].(string)
		requestID, _ = p.payload["request_id"].(string)

		payloadJSON, err = json.Marshal(p.payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, request_id) VALUES (?, ?, ?, ?, ?)`,
		string(p.eventType), p.at.UTC().Unix(), string(payloadJSON), source, requestID,
	)
	return err
}

// Close stops accepting events and waits for queued ones to be written until ctx expires.
func (l *Ledger) Close(ctx context.Context) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		close(l.closing)
		close(l.queue)
		l.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Ledger writer stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Ledger shutdown timed out, some entries may be lost")
	}
}

// GetRecent returns the newest entries first
func (l *Ledger) GetRecent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, request_id
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, request_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup deletes expired entries every interval until ctx is cancelled.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to clean up ledger")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, requestID sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &requestID)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if source.Valid {
			entry.Source = source.String
		}
		if requestID.Valid {
			entry.RequestID = requestID.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
