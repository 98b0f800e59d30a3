package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/nest-haus/konfigurator-tracking/internal/tracking"
)

// psq is the PostgreSQL statement builder with dollar placeholders
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Analyzer computes funnels and drop-off statistics from the durable event
// log. All operations are read-only and run outside the write path; an
// empty session-id set is expected input and yields empty aggregates.
type Analyzer struct {
	db *sql.DB
}

// NewAnalyzer creates an analyzer on the durable store
func NewAnalyzer(db *sql.DB) *Analyzer {
	return &Analyzer{db: db}
}

// SessionIDs resolves a time window to the ids of sessions started in it
func (a *Analyzer) SessionIDs(ctx context.Context, from, to time.Time) ([]string, error) {
	query, args, err := psq.Select("id").
		From("sessions").
		Where(sq.GtOrEq{"started_at": from}).
		Where(sq.Lt{"started_at": to}).
		OrderBy("started_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build session window query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session window: %w", err)
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

// DropoffByStep counts, per category, how many sessions reached that step
// (have at least one selection event for it)
func (a *Analyzer) DropoffByStep(ctx context.Context, sessionIDs []string) (map[string]int, error) {
	reach := make(map[string]int)
	if len(sessionIDs) == 0 {
		return reach, nil
	}

	query, args, err := psq.Select("category", "COUNT(DISTINCT session_id) AS sessions").
		From("selection_events").
		Where(sq.Eq{"session_id": sessionIDs}).
		GroupBy("category").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build dropoff query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dropoff by step: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			continue
		}
		reach[category] = count
	}

	return reach, rows.Err()
}

// ExitPoints tallies the category of each session's chronologically last
// selection. Sorted descending by count; ties broken by category name so
// the output is deterministic.
func (a *Analyzer) ExitPoints(ctx context.Context, sessionIDs []string) ([]ExitPoint, error) {
	if len(sessionIDs) == 0 {
		return []ExitPoint{}, nil
	}

	lastPerSession := psq.Select("session_id", "category").
		Options("DISTINCT ON (session_id)").
		From("selection_events").
		Where(sq.Eq{"session_id": sessionIDs}).
		OrderBy("session_id", "timestamp DESC", "id DESC")

	query, args, err := psq.Select("category", "COUNT(*) AS exits").
		FromSelect(lastPerSession, "last_events").
		GroupBy("category").
		OrderBy("exits DESC", "category ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build exit points query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exit points: %w", err)
	}
	defer rows.Close()

	points := []ExitPoint{}
	for rows.Next() {
		var point ExitPoint
		if err := rows.Scan(&point.Category, &point.Count); err != nil {
			continue
		}
		points = append(points, point)
	}

	return points, rows.Err()
}

// TimeBeforeAbandonment averages end-start over ABANDONED sessions that
// have both timestamps. No qualifying session is a zero average, not an
// error.
func (a *Analyzer) TimeBeforeAbandonment(ctx context.Context, sessionIDs []string) (AbandonmentStats, error) {
	if len(sessionIDs) == 0 {
		return AbandonmentStats{}, nil
	}

	query, args, err := psq.Select(
		"COALESCE(AVG(EXTRACT(EPOCH FROM (ended_at - started_at))), 0)",
		"COUNT(*)",
	).
		From("sessions").
		Where(sq.Eq{"id": sessionIDs}).
		Where(sq.Eq{"status": tracking.SessionStatusAbandoned}).
		Where("ended_at IS NOT NULL").
		ToSql()
	if err != nil {
		return AbandonmentStats{}, fmt.Errorf("failed to build abandonment query: %w", err)
	}

	var avgSeconds float64
	var count int
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&avgSeconds, &count); err != nil {
		return AbandonmentStats{}, fmt.Errorf("failed to query abandonment time: %w", err)
	}

	return AbandonmentStats{
		AverageMs: int64(avgSeconds * 1000),
		Sessions:  count,
	}, nil
}

// ReconstructJourney replays a session's selections in commit order,
// annotated with the terminal status
func (a *Analyzer) ReconstructJourney(ctx context.Context, sessionID string) (*Journey, error) {
	query, args, err := psq.Select("status", "started_at", "last_activity", "ended_at").
		From("sessions").
		Where(sq.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build journey session query: %w", err)
	}

	var status tracking.SessionStatus
	var startedAt, lastActivity time.Time
	var endedAt *time.Time
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&status, &startedAt, &lastActivity, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, tracking.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query journey session: %w", err)
	}

	query, args, err = psq.Select("category", "selection", "total_price", "timestamp").
		From("selection_events").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("timestamp ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build journey events query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journey events: %w", err)
	}
	defer rows.Close()

	steps := []JourneyStep{}
	for rows.Next() {
		var step JourneyStep
		var totalPrice sql.NullInt64
		if err := rows.Scan(&step.Category, &step.Selection, &totalPrice, &step.Timestamp); err != nil {
			continue
		}
		if totalPrice.Valid {
			step.TotalPrice = &totalPrice.Int64
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	end := lastActivity
	if endedAt != nil {
		end = *endedAt
	}

	return &Journey{
		SessionID:  sessionID,
		Status:     status,
		Completed:  status == tracking.SessionStatusCompleted,
		Steps:      steps,
		DurationMs: end.Sub(startedAt).Milliseconds(),
	}, nil
}

// ConversionFunnel computes stage populations over the given sessions.
// Each stage keeps only sessions that also passed every earlier stage, so
// stage N's population is a strict subset of stage N-1's and conversion
// rates are monotonically non-increasing.
func (a *Analyzer) ConversionFunnel(ctx context.Context, sessionIDs []string, stages []StageDefinition) ([]FunnelStage, error) {
	result := make([]FunnelStage, 0, len(stages))
	if len(stages) == 0 {
		return result, nil
	}
	if len(sessionIDs) == 0 {
		for _, stage := range stages {
			result = append(result, FunnelStage{Name: stage.Name, Category: stage.Category})
		}
		return result, nil
	}

	query, args, err := psq.Select("session_id", "category").
		From("selection_events").
		Where(sq.Eq{"session_id": sessionIDs}).
		GroupBy("session_id", "category").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build funnel query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query funnel categories: %w", err)
	}
	defer rows.Close()

	categoriesBySession := make(map[string]map[string]bool)
	for rows.Next() {
		var sessionID, category string
		if err := rows.Scan(&sessionID, &category); err != nil {
			continue
		}
		if categoriesBySession[sessionID] == nil {
			categoriesBySession[sessionID] = make(map[string]bool)
		}
		categoriesBySession[sessionID][category] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	population := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		population[id] = true
	}
	total := len(sessionIDs)

	for _, stage := range stages {
		next := make(map[string]bool)
		for id := range population {
			if categoriesBySession[id][stage.Category] {
				next[id] = true
			}
		}
		population = next

		result = append(result, FunnelStage{
			Name:           stage.Name,
			Category:       stage.Category,
			Count:          len(population),
			ConversionRate: float64(len(population)) / float64(total),
		})
	}

	return result, nil
}

// Overview aggregates session counts and the average duration of ended
// sessions for a time window
func (a *Analyzer) Overview(ctx context.Context, from, to time.Time) (Overview, error) {
	query, args, err := psq.Select(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE status = 'ACTIVE')",
		"COUNT(*) FILTER (WHERE status = 'COMPLETED')",
		"COUNT(*) FILTER (WHERE status = 'ABANDONED')",
		"COALESCE(AVG(EXTRACT(EPOCH FROM (ended_at - started_at))) FILTER (WHERE ended_at IS NOT NULL), 0)",
	).
		From("sessions").
		Where(sq.GtOrEq{"started_at": from}).
		Where(sq.Lt{"started_at": to}).
		ToSql()
	if err != nil {
		return Overview{}, fmt.Errorf("failed to build overview query: %w", err)
	}

	var overview Overview
	var avgSeconds float64
	err = a.db.QueryRowContext(ctx, query, args...).Scan(
		&overview.TotalSessions,
		&overview.ActiveSessions,
		&overview.CompletedSessions,
		&overview.AbandonedSessions,
		&avgSeconds,
	)
	if err != nil {
		return Overview{}, fmt.Errorf("failed to query overview: %w", err)
	}

	overview.AverageDurationMs = int64(avgSeconds * 1000)
	return overview, nil
}
