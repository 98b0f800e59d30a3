package tracking

import (
	"context"
	"time"
)

// Repository defines the durable-store contract (Domain Layer).
// The durable store is the source of truth for all tracking data.
type Repository interface {
	// Session lifecycle. UpsertSession is a single atomic
	// insert-or-update by id; concurrent calls with the same id must
	// never produce two rows.
	UpsertSession(ctx context.Context, sessionID string, client ClientInfo, totalPrice *int64) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// FinalizeSession applies the terminal transition guarded on the
	// current status being ACTIVE. Returns false when the session was
	// already finalized.
	FinalizeSession(ctx context.Context, sessionID string, status SessionStatus, endedAt time.Time, snapshot *ConfigurationSnapshot) (bool, error)

	// StaleActiveSessions lists ACTIVE sessions idle since before cutoff
	StaleActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// Append-only event log
	InsertSelectionEvent(ctx context.Context, event *SelectionEvent) error
	InsertInteractionEvent(ctx context.Context, event *InteractionEvent) error
	GetSelectionEvents(ctx context.Context, sessionID string) ([]SelectionEvent, error)
	GetInteractionEvents(ctx context.Context, sessionID string) ([]InteractionEvent, error)

	// Checkout conversions
	CreateInquiry(ctx context.Context, inquiry *Inquiry) error
}

// CacheStore defines the ephemeral snapshot cache contract (Redis).
// Every write refreshes the snapshot TTL; entries expire on their own
// and their absence is never a correctness fault.
type CacheStore interface {
	SetSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)

	// UpdateSelection mutates one category of the snapshot and bumps
	// the running total and last-activity time
	UpdateSelection(ctx context.Context, sessionID, category, selection string, totalPrice *int64) error

	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// StoreTimeouts bounds individual store operations so a stalled store
// never blocks the request path indefinitely
type StoreTimeouts struct {
	Cache time.Duration
	DB    time.Duration
}

const (
	defaultCacheTimeout = 500 * time.Millisecond
	defaultDBTimeout    = 5 * time.Second
)

func (t StoreTimeouts) withDefaults() StoreTimeouts {
	if t.Cache <= 0 {
		t.Cache = defaultCacheTimeout
	}
	if t.DB <= 0 {
		t.DB = defaultDBTimeout
	}
	return t
}
