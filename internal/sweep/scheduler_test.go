package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	err := s.Add("promotion", "every five minutes", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "promotion")
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 10ms", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	require.NoError(t, s.Add("promotion", DefaultPromotionSchedule, func(context.Context) error { return nil }))
	require.NoError(t, s.Add("retention", DefaultRetentionSchedule, func(context.Context) error { return nil }))

	s.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Error(t, s.ctx.Err())
}
