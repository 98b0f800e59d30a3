package tracking

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresRepository(db), mock
}

func TestPostgresRepository_UpsertSession(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("s1", nil, "10.0.0.1", "Mozilla/5.0", "https://nest-haus.at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSession(context.Background(), "s1", ClientInfo{
		IPAddress: "10.0.0.1",
		UserAgent: "Mozilla/5.0",
		Referrer:  "https://nest-haus.at",
	}, nil)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertSession_WithPrice(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("s1", int64(155500), "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSession(context.Background(), "s1", ClientInfo{}, price(155500))

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetSession(t *testing.T) {
	repo, mock := newMockRepository(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "status", "started_at", "last_activity", "ended_at",
		"total_price", "configuration_data", "ip_address", "user_agent", "referrer",
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, status, started_at, last_activity, ended_at, total_price, configuration_data, ip_address, user_agent, referrer")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"s1", "ACTIVE", started, started, nil,
			int64(155500), []byte(`{"selections":{"nest":{"value":"nest80"}},"total_price":155500}`),
			"10.0.0.1", "Mozilla/5.0", nil,
		))

	session, err := repo.GetSession(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, SessionStatusActive, session.Status)
	require.NotNil(t, session.TotalPrice)
	assert.Equal(t, int64(155500), *session.TotalPrice)
	require.NotNil(t, session.Configuration)
	assert.Equal(t, "nest80", session.Configuration.Selections["nest"].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetSession_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, status")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetSession(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_FinalizeSession_Applied(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
		WithArgs("s1", string(SessionStatusCompleted), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.FinalizeSession(context.Background(), "s1", SessionStatusCompleted, time.Now(), &ConfigurationSnapshot{
		Selections: map[string]SelectionValue{"nest": {Value: "nest80"}},
		TotalPrice: 155500,
	})

	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_FinalizeSession_AlreadyTerminal(t *testing.T) {
	repo, mock := newMockRepository(t)

	// The guard on status = 'ACTIVE' matches no rows
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
		WithArgs("s1", string(SessionStatusAbandoned), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.FinalizeSession(context.Background(), "s1", SessionStatusAbandoned, time.Now(), nil)

	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_DeleteSession_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteSession(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_InsertSelectionEvent(t *testing.T) {
	repo, mock := newMockRepository(t)

	previous := "nest80"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO selection_events")).
		WithArgs("s1", "nest", "nest100", previous, int64(33500), int64(189000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.InsertSelectionEvent(context.Background(), &SelectionEvent{
		SessionID:         "s1",
		Category:          "nest",
		Selection:         "nest100",
		PreviousSelection: &previous,
		PriceChange:       price(33500),
		TotalPrice:        price(189000),
		Timestamp:         time.Now(),
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_StaleActiveSessions(t *testing.T) {
	repo, mock := newMockRepository(t)

	cutoff := time.Now().Add(-2 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(cutoff, 200).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2"))

	ids, err := repo.StaleActiveSessions(context.Background(), cutoff, 200)

	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateInquiry(t *testing.T) {
	repo, mock := newMockRepository(t)

	created := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO inquiries")).
		WithArgs("s1", "interested@example.com", "Max", "", "", sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	inquiry := &Inquiry{SessionID: "s1", Email: "interested@example.com", Name: "Max"}
	err := repo.CreateInquiry(context.Background(), inquiry)

	require.NoError(t, err)
	assert.Equal(t, int64(7), inquiry.ID)
	assert.Equal(t, "NEW", inquiry.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
