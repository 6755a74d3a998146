package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lix/internal/common"
)

func TestIsDatabaseLocked(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked", errors.New("database is locked"), true},
		{"busy", errors.New("SQLITE_BUSY: try again"), true},
		{"other", errors.New("no such table"), false},
		{"validation", &common.ValidationError{Kind: common.KindPrimaryKeyViolation, Message: "database is locked"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDatabaseLocked(tt.err))
		})
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	fast := func() []retry.Option {
		return []retry.Option{
			retry.Attempts(3),
			retry.Delay(time.Millisecond),
			retry.RetryIf(IsDatabaseLocked),
			retry.LastErrorOnly(true),
		}
	}

	t.Run("retries lock contention", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		}, fast()...)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns other errors immediately", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, func() error {
			calls++
			return common.ErrNothingToCommit
		}, fast()...)
		assert.ErrorIs(t, err, common.ErrNothingToCommit)
		assert.Equal(t, 1, calls)
	})

	t.Run("default policy gives up", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, func() error {
			calls++
			return errors.New("database is locked")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})
}
