package tracking

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Finalizer closes a session exactly once: COMPLETED when the supplied
// snapshot is complete, ABANDONED otherwise. The cache entry is evicted
// unconditionally so a stale TTL'd snapshot can never mask the terminal
// state.
type Finalizer struct {
	cache      CacheStore
	repository Repository
	timeouts   StoreTimeouts
}

// NewFinalizer creates a finalizer
func NewFinalizer(cache CacheStore, repository Repository, timeouts StoreTimeouts) *Finalizer {
	return &Finalizer{
		cache:      cache,
		repository: repository,
		timeouts:   timeouts.withDefaults(),
	}
}

// Finalize applies the terminal transition. complete decides COMPLETED vs
// ABANDONED; a nil predicate or nil snapshot means ABANDONED. Finalizing an
// already-finalized session is a no-op returning the existing status.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string, snapshot *ConfigurationSnapshot, complete CompletenessFn) (SessionStatus, error) {
	if sessionID == "" {
		return "", &ValidationError{Field: "sessionId"}
	}

	// Evict first, regardless of how the durable write goes
	cacheCtx, cancel := context.WithTimeout(ctx, f.timeouts.Cache)
	if err := f.cache.DeleteSnapshot(cacheCtx, sessionID); err != nil {
		log.Printf("[WARN] Failed to evict snapshot for session %s: %v", sessionID, err)
	}
	cancel()

	status := SessionStatusAbandoned
	if snapshot != nil && complete != nil && complete(snapshot) {
		status = SessionStatusCompleted
	}

	dbCtx, cancel := context.WithTimeout(ctx, f.timeouts.DB)
	defer cancel()

	// Capture-over-reject: a finalize for a session the durable store has
	// never seen still produces a row
	if err := f.repository.UpsertSession(dbCtx, sessionID, ClientInfo{}, nil); err != nil {
		return "", fmt.Errorf("failed to ensure session %s: %w", sessionID, err)
	}

	applied, err := f.repository.FinalizeSession(dbCtx, sessionID, status, time.Now(), snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to finalize session %s: %w", sessionID, err)
	}

	if !applied {
		// Already terminal; report the stored status instead of corrupting it
		session, err := f.repository.GetSession(dbCtx, sessionID)
		if err != nil {
			return "", fmt.Errorf("failed to load finalized session %s: %w", sessionID, err)
		}
		log.Printf("[SESSION] Finalize on already-finalized session %s (status: %s)", sessionID, session.Status)
		return session.Status, nil
	}

	log.Printf("[SESSION] Finalized session %s: %s", sessionID, status)
	return status, nil
}
