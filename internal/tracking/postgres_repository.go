package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRepository implements Repository for PostgreSQL (Infrastructure Layer)
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository on an existing connection pool
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// NewPostgresRepositoryFromDSN creates a repository from a connection string
func NewPostgresRepositoryFromDSN(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// DB exposes the underlying pool for migrations, health checks and the
// read-only analyzer
func (r *PostgresRepository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// ===== Session lifecycle =====

func (r *PostgresRepository) UpsertSession(ctx context.Context, sessionID string, client ClientInfo, totalPrice *int64) error {
	query := `
		INSERT INTO sessions (id, status, started_at, last_activity, total_price, ip_address, user_agent, referrer)
		VALUES ($1, 'ACTIVE', now(), now(), $2, COALESCE(NULLIF($3, ''), 'unknown'), COALESCE(NULLIF($4, ''), 'unknown'), NULLIF($5, ''))
		ON CONFLICT (id) DO UPDATE SET
			last_activity = now(),
			total_price = COALESCE(EXCLUDED.total_price, sessions.total_price)
	`

	_, err := r.db.ExecContext(ctx, query,
		sessionID,
		nullInt64(totalPrice),
		client.IPAddress,
		client.UserAgent,
		client.Referrer,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT id, status, started_at, last_activity, ended_at, total_price, configuration_data, ip_address, user_agent, referrer
		FROM sessions
		WHERE id = $1
	`

	var session Session
	var configJSON []byte
	var totalPrice sql.NullInt64
	var referrer sql.NullString

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.Status,
		&session.StartedAt,
		&session.LastActivity,
		&session.EndedAt,
		&totalPrice,
		&configJSON,
		&session.Client.IPAddress,
		&session.Client.UserAgent,
		&referrer,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if totalPrice.Valid {
		session.TotalPrice = &totalPrice.Int64
	}
	if referrer.Valid {
		session.Client.Referrer = referrer.String
	}
	if len(configJSON) > 0 {
		var snapshot ConfigurationSnapshot
		if err := json.Unmarshal(configJSON, &snapshot); err == nil {
			session.Configuration = &snapshot
		}
	}

	return &session, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT id, status, started_at, last_activity, ended_at, total_price, configuration_data, ip_address, user_agent, referrer
		FROM sessions
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session

	for rows.Next() {
		var session Session
		var configJSON []byte
		var totalPrice sql.NullInt64
		var referrer sql.NullString

		err := rows.Scan(
			&session.ID,
			&session.Status,
			&session.StartedAt,
			&session.LastActivity,
			&session.EndedAt,
			&totalPrice,
			&configJSON,
			&session.Client.IPAddress,
			&session.Client.UserAgent,
			&referrer,
		)

		if err != nil {
			continue // Skip corrupted rows
		}

		if totalPrice.Valid {
			session.TotalPrice = &totalPrice.Int64
		}
		if referrer.Valid {
			session.Client.Referrer = referrer.String
		}
		if len(configJSON) > 0 {
			var snapshot ConfigurationSnapshot
			if err := json.Unmarshal(configJSON, &snapshot); err == nil {
				session.Configuration = &snapshot
			}
		}

		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, sessionID string) error {
	// Event rows go with the session via ON DELETE CASCADE
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (r *PostgresRepository) FinalizeSession(ctx context.Context, sessionID string, status SessionStatus, endedAt time.Time, snapshot *ConfigurationSnapshot) (bool, error) {
	var configJSON []byte
	var totalPrice sql.NullInt64
	if snapshot != nil {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return false, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		configJSON = data
		totalPrice = sql.NullInt64{Int64: snapshot.TotalPrice, Valid: true}
	}

	// Guarded on ACTIVE so terminal states are never overwritten
	query := `
		UPDATE sessions
		SET status = $2,
			ended_at = $3,
			total_price = COALESCE($4, total_price),
			configuration_data = COALESCE($5, configuration_data),
			last_activity = now()
		WHERE id = $1 AND status = 'ACTIVE'
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, status, endedAt, totalPrice, configJSON)
	if err != nil {
		return false, fmt.Errorf("failed to finalize session: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

func (r *PostgresRepository) StaleActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM sessions
		WHERE status = 'ACTIVE' AND last_activity < $1
		ORDER BY last_activity ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ===== Event log =====

func (r *PostgresRepository) InsertSelectionEvent(ctx context.Context, event *SelectionEvent) error {
	query := `
		INSERT INTO selection_events (session_id, category, selection, previous_selection, price_change, total_price, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.SessionID,
		event.Category,
		event.Selection,
		nullString(event.PreviousSelection),
		nullInt64(event.PriceChange),
		nullInt64(event.TotalPrice),
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert selection event: %w", err)
	}

	return nil
}

func (r *PostgresRepository) InsertInteractionEvent(ctx context.Context, event *InteractionEvent) error {
	query := `
		INSERT INTO interaction_events (session_id, event_type, category, element_id, selection, previous_selection, time_spent_ms, device_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.SessionID,
		event.EventType,
		event.Category,
		event.ElementID,
		event.Selection,
		event.PreviousSelection,
		event.TimeSpentMs,
		event.DeviceType,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert interaction event: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetSelectionEvents(ctx context.Context, sessionID string) ([]SelectionEvent, error) {
	query := `
		SELECT id, session_id, category, selection, previous_selection, price_change, total_price, timestamp
		FROM selection_events
		WHERE session_id = $1
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get selection events: %w", err)
	}
	defer rows.Close()

	var events []SelectionEvent

	for rows.Next() {
		var event SelectionEvent
		var previous sql.NullString
		var priceChange, totalPrice sql.NullInt64

		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Category,
			&event.Selection,
			&previous,
			&priceChange,
			&totalPrice,
			&event.Timestamp,
		)

		if err != nil {
			continue
		}

		if previous.Valid {
			event.PreviousSelection = &previous.String
		}
		if priceChange.Valid {
			event.PriceChange = &priceChange.Int64
		}
		if totalPrice.Valid {
			event.TotalPrice = &totalPrice.Int64
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *PostgresRepository) GetInteractionEvents(ctx context.Context, sessionID string) ([]InteractionEvent, error) {
	query := `
		SELECT id, session_id, event_type, category, element_id, selection, previous_selection, time_spent_ms, device_type, timestamp
		FROM interaction_events
		WHERE session_id = $1
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction events: %w", err)
	}
	defer rows.Close()

	var events []InteractionEvent

	for rows.Next() {
		var event InteractionEvent

		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.EventType,
			&event.Category,
			&event.ElementID,
			&event.Selection,
			&event.PreviousSelection,
			&event.TimeSpentMs,
			&event.DeviceType,
			&event.Timestamp,
		)

		if err != nil {
			continue
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// ===== Inquiries =====

func (r *PostgresRepository) CreateInquiry(ctx context.Context, inquiry *Inquiry) error {
	var configJSON []byte
	if inquiry.Configuration != nil {
		data, err := json.Marshal(inquiry.Configuration)
		if err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		configJSON = data
	}

	query := `
		INSERT INTO inquiries (session_id, email, name, phone, message, configuration_data, total_price, status, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, 'NEW', now())
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		inquiry.SessionID,
		inquiry.Email,
		inquiry.Name,
		inquiry.Phone,
		inquiry.Message,
		configJSON,
		nullInt64(inquiry.TotalPrice),
	).Scan(&inquiry.ID, &inquiry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create inquiry: %w", err)
	}

	inquiry.Status = "NEW"
	return nil
}

// ===== Helpers =====

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
