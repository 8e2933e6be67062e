package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCron(t *testing.T) {
	s, err := New(zerolog.Nop())
	require.NoError(t, err)
	defer s.Shutdown()

	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddCron(context.Background(), "backfill", "0 3 * * *", noop))
	assert.ErrorContains(t, s.AddCron(context.Background(), "backfill", "0 3 * * *", noop), "already exists")
	assert.Error(t, s.AddCron(context.Background(), "broken", "not a cron", noop))
}

func TestRunNow(t *testing.T) {
	s, err := New(zerolog.Nop())
	require.NoError(t, err)
	defer s.Shutdown()

	var runs atomic.Int32
	require.NoError(t, s.AddCron(context.Background(), "backfill", "0 3 1 1 *", func(context.Context) error {
		runs.Add(1)
		return errors.New("partial failure")
	}))
	s.Start()

	require.NoError(t, s.RunNow("backfill"))
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, s.RunNow("missing"))
}
