package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *logging.TestLogger) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	logger := logging.NewTestLogger()
	return NewPostgresStore(db, logger.Logger), mock, logger
}

func TestPostgresStore_GetConfig(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(configQuery).WithArgs("42").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "persona", "knowledge_namespace"}).
			AddRow("42", "Brim", "You are Brim.", nil),
	)

	cfg, err := store.GetConfig(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, &Config{ID: "42", Name: "Brim", Persona: "You are Brim."}, cfg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConfig_NotFound(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(configQuery).WithArgs("99").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "persona", "knowledge_namespace"}),
	)

	_, err := store.GetConfig(context.Background(), "99")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConfig_QueryError(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(configQuery).WithArgs("42").WillReturnError(errors.New("connection reset"))

	_, err := store.GetConfig(context.Background(), "42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStore_GetModerationSettings(t *testing.T) {
	columns := []string{"enabled", "toxicity_threshold", "harassment_threshold", "sexual_content_threshold", "spam_threshold"}

	t.Run("present", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(moderationQuery).WithArgs("42").WillReturnRows(
			sqlmock.NewRows(columns).AddRow(true, 0.7, 0.6, 0.5, 0.9),
		)
		settings, err := store.GetModerationSettings(context.Background(), "42")
		require.NoError(t, err)
		require.NotNil(t, settings)
		assert.True(t, settings.Enabled)
		assert.InDelta(t, 0.9, settings.SpamThreshold, 1e-9)
	})

	t.Run("absent", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(moderationQuery).WithArgs("42").WillReturnRows(sqlmock.NewRows(columns))
		settings, err := store.GetModerationSettings(context.Background(), "42")
		require.NoError(t, err)
		assert.Nil(t, settings)
	})

	t.Run("out of range is ignored", func(t *testing.T) {
		store, mock, logger := newMockStore(t)
		mock.ExpectQuery(moderationQuery).WithArgs("42").WillReturnRows(
			sqlmock.NewRows(columns).AddRow(true, 1.7, 0.6, 0.5, 0.9),
		)
		settings, err := store.GetModerationSettings(context.Background(), "42")
		require.NoError(t, err)
		assert.Nil(t, settings)
		logger.AssertLogged(t, zapcore.WarnLevel, "ignoring invalid moderation settings")
	})

	t.Run("query error", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(moderationQuery).WithArgs("42").WillReturnError(errors.New("timeout"))
		_, err := store.GetModerationSettings(context.Background(), "42")
		assert.Error(t, err)
	})
}
