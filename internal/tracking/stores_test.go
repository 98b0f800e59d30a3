package tracking

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeRepository is an in-memory Repository for tests. Failure toggles let
// tests exercise the fail-safe paths.
type fakeRepository struct {
	mu sync.Mutex

	sessions          map[string]*Session
	selectionEvents   []SelectionEvent
	interactionEvents []InteractionEvent
	inquiries         []Inquiry

	failUpsert   bool
	failInsert   bool
	failFinalize bool

	nextEventID int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		sessions: make(map[string]*Session),
	}
}

var errStoreDown = errors.New("store unavailable")

func (r *fakeRepository) UpsertSession(ctx context.Context, sessionID string, client ClientInfo, totalPrice *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failUpsert {
		return errStoreDown
	}

	now := time.Now()
	if existing, ok := r.sessions[sessionID]; ok {
		existing.LastActivity = now
		if totalPrice != nil {
			price := *totalPrice
			existing.TotalPrice = &price
		}
		return nil
	}

	session := &Session{
		ID:           sessionID,
		Status:       SessionStatusActive,
		StartedAt:    now,
		LastActivity: now,
		Client:       client,
	}
	if totalPrice != nil {
		price := *totalPrice
		session.TotalPrice = &price
	}
	r.sessions[sessionID] = session
	return nil
}

func (r *fakeRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *fakeRepository) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sessions []*Session
	for _, session := range r.sessions {
		clone := *session
		sessions = append(sessions, &clone)
	}
	return sessions, nil
}

func (r *fakeRepository) DeleteSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, sessionID)

	keptSelections := r.selectionEvents[:0]
	for _, event := range r.selectionEvents {
		if event.SessionID != sessionID {
			keptSelections = append(keptSelections, event)
		}
	}
	r.selectionEvents = keptSelections

	keptInteractions := r.interactionEvents[:0]
	for _, event := range r.interactionEvents {
		if event.SessionID != sessionID {
			keptInteractions = append(keptInteractions, event)
		}
	}
	r.interactionEvents = keptInteractions
	return nil
}

func (r *fakeRepository) FinalizeSession(ctx context.Context, sessionID string, status SessionStatus, endedAt time.Time, snapshot *ConfigurationSnapshot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failFinalize {
		return false, errStoreDown
	}

	session, ok := r.sessions[sessionID]
	if !ok || session.Status != SessionStatusActive {
		return false, nil
	}

	session.Status = status
	session.EndedAt = &endedAt
	session.LastActivity = endedAt
	if snapshot != nil {
		session.Configuration = snapshot
		price := snapshot.TotalPrice
		session.TotalPrice = &price
	}
	return true, nil
}

func (r *fakeRepository) StaleActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, session := range r.sessions {
		if session.Status == SessionStatusActive && session.LastActivity.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (r *fakeRepository) InsertSelectionEvent(ctx context.Context, event *SelectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failInsert {
		return errStoreDown
	}
	if _, ok := r.sessions[event.SessionID]; !ok {
		return errors.New("foreign key violation")
	}

	r.nextEventID++
	stored := *event
	stored.ID = r.nextEventID
	r.selectionEvents = append(r.selectionEvents, stored)
	return nil
}

func (r *fakeRepository) InsertInteractionEvent(ctx context.Context, event *InteractionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failInsert {
		return errStoreDown
	}
	if _, ok := r.sessions[event.SessionID]; !ok {
		return errors.New("foreign key violation")
	}

	r.nextEventID++
	stored := *event
	stored.ID = r.nextEventID
	r.interactionEvents = append(r.interactionEvents, stored)
	return nil
}

func (r *fakeRepository) GetSelectionEvents(ctx context.Context, sessionID string) ([]SelectionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []SelectionEvent
	for _, event := range r.selectionEvents {
		if event.SessionID == sessionID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (r *fakeRepository) GetInteractionEvents(ctx context.Context, sessionID string) ([]InteractionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []InteractionEvent
	for _, event := range r.interactionEvents {
		if event.SessionID == sessionID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (r *fakeRepository) CreateInquiry(ctx context.Context, inquiry *Inquiry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventID++
	inquiry.ID = r.nextEventID
	inquiry.Status = "NEW"
	inquiry.CreatedAt = time.Now()
	r.inquiries = append(r.inquiries, *inquiry)
	return nil
}

func (r *fakeRepository) selectionCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, event := range r.selectionEvents {
		if event.SessionID == sessionID {
			count++
		}
	}
	return count
}

// fakeCache is an in-memory CacheStore with a single failure toggle
type fakeCache struct {
	mu sync.Mutex

	snapshots map[string]*Snapshot
	failAll   bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		snapshots: make(map[string]*Snapshot),
	}
}

func (c *fakeCache) SetSnapshot(ctx context.Context, snapshot *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAll {
		return errStoreDown
	}
	clone := *snapshot
	c.snapshots[snapshot.SessionID] = &clone
	return nil
}

func (c *fakeCache) GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAll {
		return nil, errStoreDown
	}
	snapshot, ok := c.snapshots[sessionID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	clone := *snapshot
	return &clone, nil
}

func (c *fakeCache) UpdateSelection(ctx context.Context, sessionID, category, selection string, totalPrice *int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAll {
		return errStoreDown
	}

	snapshot, ok := c.snapshots[sessionID]
	if !ok {
		return ErrSnapshotNotFound
	}
	if snapshot.Selections == nil {
		snapshot.Selections = make(map[string]string)
	}
	snapshot.Selections[category] = selection
	if totalPrice != nil {
		snapshot.TotalPrice = *totalPrice
	}
	snapshot.LastActivity = time.Now()
	return nil
}

func (c *fakeCache) DeleteSnapshot(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAll {
		return errStoreDown
	}
	delete(c.snapshots, sessionID)
	return nil
}

func (c *fakeCache) has(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.snapshots[sessionID]
	return ok
}
