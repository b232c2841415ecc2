// Package timers provides the timer table serviced by the control loop.
//
// Entries are keyed by an opaque Handle and fire against local epoch readings
// (see package clock). The table is not safe for concurrent use: it is owned
// by the controller goroutine, and callbacks run on that goroutine.
package timers

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// Handle identifies an installed entry. The zero Handle never refers to an entry.
type Handle uint64

// Kind tags an entry as firing once or repeatedly.
type Kind int

const (
	OneShot Kind = iota
	Periodic
)

func (k Kind) String() string {
	switch k {
	case OneShot:
		return "oneshot"
	case Periodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// Entry describes a scheduled callback.
type Entry struct {
	Name     string
	Kind     Kind
	Due      int64 // local epoch seconds
	Interval int64 // seconds, Periodic only
	Fire     func(now int64)
}

// Table maps handles to entries.
type Table struct {
	entries map[Handle]*Entry
	nextID  Handle
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make(map[Handle]*Entry)}
}

// Add installs an entry and returns its handle.
func (t *Table) Add(e Entry) Handle {
	if e.Kind == Periodic && e.Interval < 1 {
		e.Interval = 1
	}

	t.nextID++
	h := t.nextID
	t.entries[h] = &e

	log.Debug().
		Uint64("handle", uint64(h)).
		Str("name", e.Name).
		Str("kind", e.Kind.String()).
		Int64("due", e.Due).
		Msg("Timer installed")
	return h
}

// Replace cancels prev (if live) and installs e in a single step.
func (t *Table) Replace(prev Handle, e Entry) Handle {
	t.Cancel(prev)
	return t.Add(e)
}

// Cancel removes an entry. Cancelling an unknown or zero handle is a no-op.
func (t *Table) Cancel(h Handle) bool {
	if _, ok := t.entries[h]; !ok {
		return false
	}
	delete(t.entries, h)
	log.Debug().Uint64("handle", uint64(h)).Msg("Timer cancelled")
	return true
}

// Active reports whether h refers to a live entry.
func (t *Table) Active(h Handle) bool {
	_, ok := t.entries[h]
	return ok
}

// Due returns the next due time of h.
func (t *Table) Due(h Handle) (int64, bool) {
	e, ok := t.entries[h]
	if !ok {
		return 0, false
	}
	return e.Due, true
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Next returns the earliest due time across all entries.
func (t *Table) Next() (int64, bool) {
	var (
		earliest int64
		found    bool
	)
	for _, e := range t.entries {
		if !found || e.Due < earliest {
			earliest = e.Due
			found = true
		}
	}
	return earliest, found
}

// Advance fires every entry due at or before now, earliest first.
// A one-shot entry is removed before its callback runs. A periodic entry is
// re-armed one interval later (or one interval after now when it fell behind)
// before its callback runs, so the callback may cancel or replace it.
// Returns the number of callbacks fired.
func (t *Table) Advance(now int64) int {
	fired := 0
	for {
		h, ok := t.earliestDue(now)
		if !ok {
			return fired
		}

		e := t.entries[h]
		due := e.Due

		switch e.Kind {
		case OneShot:
			delete(t.entries, h)
		case Periodic:
			e.Due = due + e.Interval
			if e.Due <= now {
				e.Due = now + e.Interval
			}
		}

		log.Debug().
			Uint64("handle", uint64(h)).
			Str("name", e.Name).
			Int64("due", due).
			Int64("now", now).
			Msg("Timer fired")

		if e.Fire != nil {
			e.Fire(now)
		}
		fired++
	}
}

// earliestDue picks the due entry with the lowest due time, ties broken by handle order.
func (t *Table) earliestDue(now int64) (Handle, bool) {
	var due []Handle
	for h, e := range t.entries {
		if e.Due <= now {
			due = append(due, h)
		}
	}
	if len(due) == 0 {
		return 0, false
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := t.entries[due[i]], t.entries[due[j]]
		if a.Due != b.Due {
			return a.Due < b.Due
		}
		return due[i] < due[j]
	})
	return due[0], true
}
