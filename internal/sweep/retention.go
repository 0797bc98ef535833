package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/metrics"
	"consultation-service/internal/store"
)

type RetentionPolicy struct {
	// BookedSlotDays is how long a booked slot outlives its date.
	BookedSlotDays int
	// BookingDays is how long a terminal booking outlives its date.
	BookingDays int
	// BatchSize caps the candidates listed per query.
	BatchSize int
}

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{BookedSlotDays: 20, BookingDays: 90, BatchSize: 500}
}

// Report counts what one retention run deleted.
type Report struct {
	UnbookedSlots int
	BookedSlots   int
	Bookings      int
	Failed        int
}

type Retention struct {
	store   store.RetentionStore
	policy  RetentionPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRetention(s store.RetentionStore, policy RetentionPolicy, logger *zap.Logger, m *metrics.Metrics) *Retention {
	if policy.BatchSize <= 0 {
		policy.BatchSize = DefaultRetentionPolicy().BatchSize
	}
	return &Retention{store: s, policy: policy, logger: logger, metrics: m, now: time.Now}
}

func (r *Retention) WithClock(now func() time.Time) *Retention {
	r.now = now
	return r
}

// kind is one retention rule: how to list its candidates and how to delete
// one of them with the predicate re-checked.
type kind struct {
	name   string
	list   func(ctx context.Context, limit int) ([]string, error)
	delete func(ctx context.Context, id string) (bool, error)
	count  *int
}

// Run deletes every expired row. A row that fails to delete is logged and
// left for the next run; the failures come back wrapped in
// domain.ErrRetentionSweepPartialFailure together with the report.
func (r *Retention) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	defer r.metrics.ObserveSweep("retention", start)

	now := r.now().UTC()
	p := r.policy
	var rep Report
	kinds := []kind{
		{
			name: "unbooked_slot",
			list: func(ctx context.Context, limit int) ([]string, error) {
				return r.store.ExpiredUnbookedSlots(ctx, now, limit)
			},
			delete: func(ctx context.Context, id string) (bool, error) {
				return r.store.DeleteExpiredUnbookedSlot(ctx, id, now)
			},
			count: &rep.UnbookedSlots,
		},
		{
			name: "booked_slot",
			list: func(ctx context.Context, limit int) ([]string, error) {
				return r.store.ExpiredBookedSlots(ctx, now, p.BookedSlotDays, limit)
			},
			delete: func(ctx context.Context, id string) (bool, error) {
				return r.store.DeleteExpiredBookedSlot(ctx, id, now, p.BookedSlotDays)
			},
			count: &rep.BookedSlots,
		},
		{
			name: "booking",
			list: func(ctx context.Context, limit int) ([]string, error) {
				return r.store.ExpiredBookings(ctx, now, p.BookingDays, limit)
			},
			delete: func(ctx context.Context, id string) (bool, error) {
				return r.store.DeleteExpiredBooking(ctx, id, now, p.BookingDays)
			},
			count: &rep.Bookings,
		},
	}

	var errs error
	for _, k := range kinds {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		errs = multierr.Append(errs, r.sweepKind(ctx, k, &rep))
	}

	r.logger.Info("retention sweep finished",
		zap.Int("unbooked_slots", rep.UnbookedSlots),
		zap.Int("booked_slots", rep.BookedSlots),
		zap.Int("bookings", rep.Bookings),
		zap.Int("failed", rep.Failed))
	if errs != nil {
		return rep, fmt.Errorf("%w: %w", domain.ErrRetentionSweepPartialFailure, errs)
	}
	return rep, nil
}

// sweepKind pages through candidates until a batch comes back short or makes
// no progress.
func (r *Retention) sweepKind(ctx context.Context, k kind, rep *Report) error {
	var errs error
	for {
		ids, err := k.list(ctx, r.policy.BatchSize)
		if err != nil {
			r.logger.Error("retention candidates not listed", zap.String("kind", k.name), zap.Error(err))
			return multierr.Append(errs, fmt.Errorf("list %s: %w", k.name, err))
		}

		deleted := 0
		for _, id := range ids {
			ok, err := k.delete(ctx, id)
			if err != nil {
				rep.Failed++
				r.metrics.RetentionFailures.WithLabelValues(k.name).Inc()
				r.logger.Error("retention delete failed",
					zap.String("kind", k.name), zap.String("id", id), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("delete %s %s: %w", k.name, id, err))
				continue
			}
			if ok {
				deleted++
				*k.count++
				r.metrics.RetentionDeleted.WithLabelValues(k.name).Inc()
			}
		}
		if len(ids) < r.policy.BatchSize || deleted == 0 {
			return errs
		}
	}
}
