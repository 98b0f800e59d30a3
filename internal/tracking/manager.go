package tracking

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Manager owns session lifecycle and the read/write contract across both
// stores (Application Layer). Storage faults on user-facing paths degrade
// to the still-available store instead of propagating.
type Manager struct {
	cache      CacheStore
	repository Repository
	timeouts   StoreTimeouts
}

// NewManager creates a new session manager
func NewManager(cache CacheStore, repository Repository, timeouts StoreTimeouts) *Manager {
	return &Manager{
		cache:      cache,
		repository: repository,
		timeouts:   timeouts.withDefaults(),
	}
}

// CreateOrTouch mints an id when none is supplied and upserts the session
// row atomically: created ACTIVE if absent, otherwise only last-activity is
// refreshed. A fresh cache snapshot is written best-effort. The returned id
// is valid even when a store was unavailable.
func (m *Manager) CreateOrTouch(ctx context.Context, sessionID string, client ClientInfo) (string, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	dbCtx, cancel := context.WithTimeout(ctx, m.timeouts.DB)
	defer cancel()

	if err := m.repository.UpsertSession(dbCtx, sessionID, client, nil); err != nil {
		log.Printf("[WARN] Failed to upsert session %s in database: %v", sessionID, err)
	}

	m.refreshSnapshot(ctx, sessionID, client)

	return sessionID, nil
}

// Get returns the session, cache-first. On a cache miss it falls back to
// the durable store without repopulating the cache; repopulation is not
// worth a write on the read path.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	cacheCtx, cancel := context.WithTimeout(ctx, m.timeouts.Cache)
	snapshot, err := m.cache.GetSnapshot(cacheCtx, sessionID)
	cancel()

	if err == nil {
		return sessionFromSnapshot(snapshot), nil
	}
	if err != ErrSnapshotNotFound {
		// Cache timeout or fault counts as a miss
		log.Printf("[WARN] Cache read failed for session %s: %v", sessionID, err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, m.timeouts.DB)
	defer cancel()

	return m.repository.GetSession(dbCtx, sessionID)
}

// List returns sessions from the durable store, newest first
func (m *Manager) List(ctx context.Context, limit, offset int) ([]*Session, error) {
	dbCtx, cancel := context.WithTimeout(ctx, m.timeouts.DB)
	defer cancel()

	return m.repository.ListSessions(dbCtx, limit, offset)
}

// Delete removes a session and, via cascade, all of its events
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	cacheCtx, cancel := context.WithTimeout(ctx, m.timeouts.Cache)
	if err := m.cache.DeleteSnapshot(cacheCtx, sessionID); err != nil {
		log.Printf("[WARN] Failed to evict snapshot for session %s: %v", sessionID, err)
	}
	cancel()

	dbCtx, cancel := context.WithTimeout(ctx, m.timeouts.DB)
	defer cancel()

	return m.repository.DeleteSession(dbCtx, sessionID)
}

// SaveInquiry records a checkout conversion for a session
func (m *Manager) SaveInquiry(ctx context.Context, inquiry *Inquiry) error {
	if inquiry.Email == "" {
		return &ValidationError{Field: "email"}
	}

	dbCtx, cancel := context.WithTimeout(ctx, m.timeouts.DB)
	defer cancel()

	return m.repository.CreateInquiry(dbCtx, inquiry)
}

// refreshSnapshot rewrites the cache entry, preserving selections already
// accumulated there. Failures are logged and swallowed.
func (m *Manager) refreshSnapshot(ctx context.Context, sessionID string, client ClientInfo) {
	cacheCtx, cancel := context.WithTimeout(ctx, m.timeouts.Cache)
	defer cancel()

	snapshot, err := m.cache.GetSnapshot(cacheCtx, sessionID)
	if err != nil {
		if err != ErrSnapshotNotFound {
			log.Printf("[WARN] Cache read failed for session %s: %v", sessionID, err)
			return
		}
		snapshot = &Snapshot{
			SessionID:  sessionID,
			Status:     SessionStatusActive,
			StartedAt:  time.Now(),
			Selections: make(map[string]string),
			Client:     client,
		}
	}
	snapshot.LastActivity = time.Now()

	if err := m.cache.SetSnapshot(cacheCtx, snapshot); err != nil {
		log.Printf("[WARN] Failed to write snapshot for session %s: %v", sessionID, err)
	}
}

func sessionFromSnapshot(snapshot *Snapshot) *Session {
	session := &Session{
		ID:           snapshot.SessionID,
		Status:       snapshot.Status,
		StartedAt:    snapshot.StartedAt,
		LastActivity: snapshot.LastActivity,
		Client:       snapshot.Client,
	}
	if snapshot.TotalPrice != 0 {
		price := snapshot.TotalPrice
		session.TotalPrice = &price
	}
	return session
}
