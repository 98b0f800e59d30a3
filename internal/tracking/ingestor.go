package tracking

import (
	"context"
	"errors"
	"log"
	"time"
)

// Ingestor accepts selection and interaction events and writes them to both
// stores under the fail-safe policy: the configurator UI must never be
// blocked or shown an error because of a tracking-layer fault. Validation
// errors propagate; storage anomalies are logged and swallowed.
type Ingestor struct {
	cache      CacheStore
	repository Repository
	publisher  Publisher
	timeouts   StoreTimeouts
}

// NewIngestor creates an event ingestor. publisher may be nil.
func NewIngestor(cache CacheStore, repository Repository, publisher Publisher, timeouts StoreTimeouts) *Ingestor {
	return &Ingestor{
		cache:      cache,
		repository: repository,
		publisher:  publisher,
		timeouts:   timeouts.withDefaults(),
	}
}

// RecordSelection records a configuration choice. An unknown session id is
// created on demand rather than rejected; data capture wins over strict
// referential ordering at the API boundary. The underlying storage still
// enforces the foreign key, which is why the upsert happens first.
func (i *Ingestor) RecordSelection(ctx context.Context, req *TrackSelectionRequest) (*TrackResult, error) {
	if req.SessionID == "" {
		return nil, &ValidationError{Field: "sessionId"}
	}
	if req.Category == "" {
		return nil, &ValidationError{Field: "category"}
	}
	if req.Selection == "" {
		return nil, &ValidationError{Field: "selection"}
	}

	result := &TrackResult{SessionID: req.SessionID}
	now := time.Now()

	// Durable path: create-or-touch the session row, then append the event
	dbCtx, cancel := context.WithTimeout(ctx, i.timeouts.DB)
	touched := true
	if err := i.repository.UpsertSession(dbCtx, req.SessionID, ClientInfo{}, req.TotalPrice); err != nil {
		touched = false
		log.Printf("[WARN] Session touch failed for %s, selection event will be dropped: %v", req.SessionID, err)
	}
	if touched {
		event := &SelectionEvent{
			SessionID:         req.SessionID,
			Category:          req.Category,
			Selection:         req.Selection,
			PreviousSelection: req.PreviousSelection,
			PriceChange:       req.PriceChange,
			TotalPrice:        req.TotalPrice,
			Timestamp:         now,
		}
		if err := i.repository.InsertSelectionEvent(dbCtx, event); err != nil {
			log.Printf("[WARN] Failed to insert selection event for %s: %v", req.SessionID, err)
		} else {
			result.EventStored = true
		}
	}
	cancel()

	// Cache path: best-effort snapshot mutation. A missing snapshot is not
	// a fault; it expired or was evicted by finalize, and recreating it
	// could report a finalized session as ACTIVE.
	cacheCtx, cancel := context.WithTimeout(ctx, i.timeouts.Cache)
	switch err := i.cache.UpdateSelection(cacheCtx, req.SessionID, req.Category, req.Selection, req.TotalPrice); {
	case err == nil, errors.Is(err, ErrSnapshotNotFound):
		result.CacheUpdated = true
	default:
		log.Printf("[WARN] Failed to update snapshot for %s: %v", req.SessionID, err)
	}
	cancel()

	if result.Degraded() {
		log.Printf("[TRACK] Degraded selection write for %s: event_stored=%t cache_updated=%t",
			req.SessionID, result.EventStored, result.CacheUpdated)
	}

	i.publish(TrackedEvent{
		SessionID:  req.SessionID,
		Kind:       "selection",
		Category:   req.Category,
		Selection:  req.Selection,
		TotalPrice: req.TotalPrice,
		Timestamp:  now,
	})

	return result, nil
}

// RecordInteraction records a low-level UI interaction. Same validation and
// implicit-session-creation policy as RecordSelection; no cache mutation.
func (i *Ingestor) RecordInteraction(ctx context.Context, req *TrackInteractionRequest) (*TrackResult, error) {
	if req.SessionID == "" {
		return nil, &ValidationError{Field: "sessionId"}
	}
	if req.Interaction.EventType == "" {
		return nil, &ValidationError{Field: "interaction.eventType"}
	}

	result := &TrackResult{SessionID: req.SessionID, CacheUpdated: true}
	now := time.Now()

	dbCtx, cancel := context.WithTimeout(ctx, i.timeouts.DB)
	defer cancel()

	if err := i.repository.UpsertSession(dbCtx, req.SessionID, ClientInfo{}, nil); err != nil {
		log.Printf("[WARN] Session touch failed for %s, interaction event will be dropped: %v", req.SessionID, err)
		return result, nil
	}

	event := &InteractionEvent{
		SessionID:         req.SessionID,
		EventType:         req.Interaction.EventType,
		Category:          req.Interaction.Category,
		ElementID:         req.Interaction.ElementID,
		Selection:         req.Interaction.Selection,
		PreviousSelection: req.Interaction.PreviousSelection,
		TimeSpentMs:       req.Interaction.TimeSpentMs,
		DeviceType:        req.Interaction.DeviceType,
		Timestamp:         now,
	}
	if err := i.repository.InsertInteractionEvent(dbCtx, event); err != nil {
		log.Printf("[WARN] Failed to insert interaction event for %s: %v", req.SessionID, err)
	} else {
		result.EventStored = true
	}

	i.publish(TrackedEvent{
		SessionID: req.SessionID,
		Kind:      "interaction",
		Category:  req.Interaction.Category,
		Selection: req.Interaction.Selection,
		Timestamp: now,
	})

	return result, nil
}

func (i *Ingestor) publish(event TrackedEvent) {
	if i.publisher != nil {
		i.publisher.Publish(event)
	}
}
