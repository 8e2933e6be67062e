package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbase/internal/config"
)

func TestScheduleBackfill(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without cron", func(t *testing.T) {
		sched, err := scheduleBackfill(ctx, zerolog.Nop(), config.BackfillConfig{RunOnStart: true}, func(context.Context) error {
			t.Error("job must not run")
			return nil
		})
		require.NoError(t, err)
		assert.Nil(t, sched)
	})

	t.Run("runs once on start", func(t *testing.T) {
		var runs atomic.Int32
		sched, err := scheduleBackfill(ctx, zerolog.Nop(), config.BackfillConfig{Cron: "0 3 1 1 *", RunOnStart: true}, func(context.Context) error {
			runs.Add(1)
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, sched)
		defer sched.Shutdown()

		assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("invalid cron", func(t *testing.T) {
		_, err := scheduleBackfill(ctx, zerolog.Nop(), config.BackfillConfig{Cron: "every day"}, func(context.Context) error { return nil })
		assert.Error(t, err)
	})
}
