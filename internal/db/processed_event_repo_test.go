package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"copyforge/internal/types"
)

func TestProcessedEventRepo_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("first delivery", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProcessedEventRepo(db)
		db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"evt_1", "checkout.session.completed"}).
			Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

		claimed, err := repo.Claim(ctx, "evt_1", "checkout.session.completed")
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("replay", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProcessedEventRepo(db)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

		claimed, err := repo.Claim(ctx, "evt_1", "checkout.session.completed")
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProcessedEventRepo(db)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("timeout"))

		_, err := repo.Claim(ctx, "evt_1", "x")
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

func TestProcessedEventRepo_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"evt_1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Release(ctx, "evt_1"))
	db.AssertExpectations(t)
}

func TestProcessedEventRepo_PurgeBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db)
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{cutoff}).
		Return(pgconn.NewCommandTag("DELETE 42"), nil)

	n, err := repo.PurgeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
