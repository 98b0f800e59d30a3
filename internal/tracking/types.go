package tracking

import (
	"time"
)

// SessionStatus represents the lifecycle state of a configurator session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

// Terminal reports whether the status allows no further transitions
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// ClientInfo holds request metadata captured when a session is created
type ClientInfo struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// Session represents one configurator visit
type Session struct {
	ID            string                 `json:"id"`
	Status        SessionStatus          `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	LastActivity  time.Time              `json:"last_activity"`
	EndedAt       *time.Time             `json:"ended_at,omitempty"`
	TotalPrice    *int64                 `json:"total_price,omitempty"`
	Configuration *ConfigurationSnapshot `json:"configuration,omitempty"`
	Client        ClientInfo             `json:"client,omitempty"`
}

// SelectionValue is one chosen option inside a configuration snapshot
type SelectionValue struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
	Price int64  `json:"price,omitempty"`
}

// ConfigurationSnapshot is the serialized configuration persisted at finalize time
type ConfigurationSnapshot struct {
	Selections map[string]SelectionValue `json:"selections"`
	TotalPrice int64                     `json:"total_price"`
}

// CompletenessFn decides whether a snapshot represents a complete configuration.
// The mandatory-category rule is a product decision owned by the caller,
// not by the tracking core.
type CompletenessFn func(snapshot *ConfigurationSnapshot) bool

// RequireCategories returns a CompletenessFn that demands a non-empty
// selection for every listed category
func RequireCategories(categories ...string) CompletenessFn {
	return func(snapshot *ConfigurationSnapshot) bool {
		if snapshot == nil || snapshot.Selections == nil {
			return false
		}
		for _, category := range categories {
			selection, ok := snapshot.Selections[category]
			if !ok || selection.Value == "" {
				return false
			}
		}
		return true
	}
}

// MandatoryCategories are the configuration steps the product currently
// requires before a configuration counts as complete
var MandatoryCategories = []string{"nest", "gebaeudehuelle", "innenverkleidung", "fussboden"}

// SelectionEvent is an append-only record of a configuration choice
type SelectionEvent struct {
	ID                int64     `json:"id"`
	SessionID         string    `json:"session_id"`
	Category          string    `json:"category"`
	Selection         string    `json:"selection"`
	PreviousSelection *string   `json:"previous_selection,omitempty"`
	PriceChange       *int64    `json:"price_change,omitempty"`
	TotalPrice        *int64    `json:"total_price,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// InteractionEvent is an append-only record of a low-level UI interaction
type InteractionEvent struct {
	ID                int64     `json:"id"`
	SessionID         string    `json:"session_id"`
	EventType         string    `json:"event_type"`
	Category          string    `json:"category,omitempty"`
	ElementID         string    `json:"element_id,omitempty"`
	Selection         string    `json:"selection,omitempty"`
	PreviousSelection string    `json:"previous_selection,omitempty"`
	TimeSpentMs       int64     `json:"time_spent_ms,omitempty"`
	DeviceType        string    `json:"device_type,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Inquiry is a checkout conversion linked to a session
type Inquiry struct {
	ID                int64                  `json:"id"`
	SessionID         string                 `json:"session_id,omitempty"`
	Email             string                 `json:"email"`
	Name              string                 `json:"name,omitempty"`
	Phone             string                 `json:"phone,omitempty"`
	Message           string                 `json:"message,omitempty"`
	Configuration     *ConfigurationSnapshot `json:"configuration,omitempty"`
	TotalPrice        *int64                 `json:"total_price,omitempty"`
	Status            string                 `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
}

// Snapshot is the denormalized per-session view kept in the cache.
// The durable store is the source of truth; this exists for low-latency
// reads and may be absent without correctness loss.
type Snapshot struct {
	SessionID    string            `json:"session_id"`
	Status       SessionStatus     `json:"status"`
	StartedAt    time.Time         `json:"started_at"`
	LastActivity time.Time         `json:"last_activity"`
	Selections   map[string]string `json:"selections"`
	TotalPrice   int64             `json:"total_price"`
	Client       ClientInfo        `json:"client,omitempty"`
}

// TrackResult reports how far a tracking write got. A degraded result is
// still a success from the caller's point of view.
type TrackResult struct {
	SessionID    string `json:"session_id"`
	EventStored  bool   `json:"event_stored"`
	CacheUpdated bool   `json:"cache_updated"`
}

// Degraded reports whether any write was dropped along the way
func (r *TrackResult) Degraded() bool {
	return !r.EventStored || !r.CacheUpdated
}

// TrackedEvent is the compact record pushed to live subscribers
type TrackedEvent struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"` // "selection" or "interaction"
	Category   string    `json:"category,omitempty"`
	Selection  string    `json:"selection,omitempty"`
	TotalPrice *int64    `json:"total_price,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher fans tracked events out to live subscribers
type Publisher interface {
	Publish(event TrackedEvent)
}

// CreateSessionRequest represents a session creation call
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// TrackSelectionRequest represents a selection tracking call
type TrackSelectionRequest struct {
	SessionID         string  `json:"sessionId"`
	Category          string  `json:"category"`
	Selection         string  `json:"selection"`
	PreviousSelection *string `json:"previousSelection,omitempty"`
	PriceChange       *int64  `json:"priceChange,omitempty"`
	TotalPrice        *int64  `json:"totalPrice,omitempty"`
}

// TrackInteractionRequest represents an interaction tracking call
type TrackInteractionRequest struct {
	SessionID   string      `json:"sessionId"`
	Interaction Interaction `json:"interaction"`
}

// Interaction is the client-supplied payload of an interaction event
type Interaction struct {
	EventType         string `json:"eventType"`
	Category          string `json:"category,omitempty"`
	ElementID         string `json:"elementId,omitempty"`
	Selection         string `json:"selection,omitempty"`
	PreviousSelection string `json:"previousSelection,omitempty"`
	TimeSpentMs       int64  `json:"timeSpentMs,omitempty"`
	DeviceType        string `json:"deviceType,omitempty"`
}

// FinalizeRequest represents a finalize-session call
type FinalizeRequest struct {
	SessionID     string                 `json:"sessionId"`
	Configuration *ConfigurationSnapshot `json:"configurationSnapshot"`
}
