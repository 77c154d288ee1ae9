// Package ledger tracks currently-active issues so repeat notifications are
// suppressed and resolutions fire exactly once. The ledger is owned by a
// single process and mutated single-threaded between an explicit Load at
// cycle start and Save at cycle end.
package ledger

import (
	"context"
	"sort"
	"time"

	anomaly "solarwatch/internal/anomaly/domain"
)

const (
	// DefaultSuppressionWindow is the minimum interval between repeat
	// notifications for an unchanged issue.
	DefaultSuppressionWindow = 15 * time.Minute
	// DefaultRetention ages out entries that never resolve, e.g. when a
	// device stops reporting entirely.
	DefaultRetention = 15 * time.Minute
)

// Entry is one active-issue record.
type Entry struct {
	Key        anomaly.IssueKey `json:"key"`
	NotifiedAt time.Time        `json:"notified_at"`
	Details    string           `json:"details"`
	Message    string           `json:"message"`
}

// Store persists ledger state across poll cycles.
type Store interface {
	Load(ctx context.Context) (map[anomaly.IssueKey]Entry, error)
	Save(ctx context.Context, entries map[anomaly.IssueKey]Entry) error
}

// Ledger is the in-memory deduplication state for one poll cycle.
type Ledger struct {
	entries     map[anomaly.IssueKey]Entry
	suppression time.Duration
	retention   time.Duration
}

// Option configures the ledger.
type Option func(*Ledger)

// WithSuppressionWindow overrides the suppression window.
func WithSuppressionWindow(window time.Duration) Option {
	return func(l *Ledger) {
		if window > 0 {
			l.suppression = window
		}
	}
}

// WithRetention overrides the retention window used by Sweep.
func WithRetention(retention time.Duration) Option {
	return func(l *Ledger) {
		if retention > 0 {
			l.retention = retention
		}
	}
}

// New constructs an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries:     make(map[anomaly.IssueKey]Entry),
		suppression: DefaultSuppressionWindow,
		retention:   DefaultRetention,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFrom replaces the ledger contents with the store's state. On error
// the current in-memory state is kept so evaluation never blocks on
// persistence.
func (l *Ledger) LoadFrom(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	entries, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[anomaly.IssueKey]Entry)
	}
	l.entries = entries
	return nil
}

// SaveTo persists the ledger contents.
func (l *Ledger) SaveTo(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	return store.Save(ctx, l.entries)
}

// ShouldNotify reports whether an alert for the key may be sent now. A
// repeat is suppressed only when a prior entry sits strictly within the
// suppression window AND its details fingerprint is identical; changed
// details re-notify with updated specifics. A true return must be followed
// by Record.
func (l *Ledger) ShouldNotify(key anomaly.IssueKey, details string, now time.Time) bool {
	entry, ok := l.entries[key]
	if !ok {
		return true
	}
	if now.Sub(entry.NotifiedAt) < l.suppression && entry.Details == details {
		return false
	}
	return true
}

// Record upserts the entry for a key.
func (l *Ledger) Record(key anomaly.IssueKey, details, message string, now time.Time) {
	l.entries[key] = Entry{
		Key:        key,
		NotifiedAt: now,
		Details:    details,
		Message:    message,
	}
}

// Resolve removes and returns the entry for a key. The second return is
// false when no alert was ever recorded, in which case the caller stays
// silent.
func (l *Ledger) Resolve(key anomaly.IssueKey) (Entry, bool) {
	entry, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	delete(l.entries, key)
	return entry, true
}

// Sweep drops entries strictly older than the retention window regardless
// of resolution state and returns how many were removed. Entries recorded
// at now survive, so Sweep is safe to run at the end of the same cycle.
func (l *Ledger) Sweep(now time.Time) int {
	removed := 0
	for key, entry := range l.entries {
		if now.Sub(entry.NotifiedAt) <= l.retention {
			continue
		}
		delete(l.entries, key)
		removed++
	}
	return removed
}

// Get returns the entry for a key without removing it.
func (l *Ledger) Get(key anomaly.IssueKey) (Entry, bool) {
	entry, ok := l.entries[key]
	return entry, ok
}

// Len returns the number of active entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Entries returns all active entries in deterministic key order.
func (l *Ledger) Entries() []Entry {
	entries := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries
}
