package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/sunrised/internal/db"
)

func openLedger(t *testing.T) (*Ledger, *db.DB) {
	t.Helper()

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return New(database.DB, 16), database
}

func TestAppendAndGetRecent(t *testing.T) {
	t.Parallel()

	l, _ := openLedger(t)
	require.NoError(t, l.Append(EventAlarmScheduled, map[string]any{"target": "07:00"}))
	require.NoError(t, l.Append(EventCommand, map[string]any{
		"source":     "web",
		"request_id": "abc",
		"command":    "/status",
	}))

	entries, err := l.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, EventCommand, entries[0].EventType)
	require.Equal(t, "web", entries[0].Source)
	require.Equal(t, "abc", entries[0].RequestID)
	require.Equal(t, "/status", entries[0].Payload["command"])
	require.Equal(t, EventAlarmScheduled, entries[1].EventType)

	byType, err := l.GetByType(EventAlarmScheduled, 10)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "07:00", byType[0].Payload["target"])
}

func TestRecordIsAsync(t *testing.T) {
	t.Parallel()

	l, _ := openLedger(t)
	l.Start()

	l.Record("ramp_started", map[string]any{"max_brightness": 255})
	l.Record("ramp_finished", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.Close(ctx)

	entries, err := l.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// dropped after close
	l.Record("late", nil)
	entries, err = l.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestDeleteOlderThan(t *testing.T) {
	t.Parallel()

	l, database := openLedger(t)
	old := time.Now().Add(-48 * time.Hour).Unix()
	_, err := database.Exec(`INSERT INTO event_ledger (event_type, timestamp) VALUES (?, ?)`, "command", old)
	require.NoError(t, err)
	require.NoError(t, l.Append(EventStartup, nil))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	entries, err := l.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, EventStartup, entries[0].EventType)
}
