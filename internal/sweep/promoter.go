// Package sweep runs the background jobs: promoting overdue bookings to
// missed and deleting rows that aged out.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/events"
	"consultation-service/internal/metrics"
	"consultation-service/internal/store"
)

// Promoter moves confirmed and in-progress bookings to missed once their end
// time plus the grace period has passed. Bookings never move backwards, so
// running it twice is harmless.
type Promoter struct {
	store     store.Store
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewPromoter(s store.Store, pub events.Publisher, logger *zap.Logger, m *metrics.Metrics) *Promoter {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Promoter{store: s, publisher: pub, logger: logger, metrics: m, now: time.Now}
}

// WithClock overrides time.Now.
func (p *Promoter) WithClock(now func() time.Time) *Promoter {
	p.now = now
	return p
}

// Run promotes everything overdue in one transaction and records a status
// event per booking.
func (p *Promoter) Run(ctx context.Context) ([]store.Promotion, error) {
	start := time.Now()
	defer p.metrics.ObserveSweep("promotion", start)

	now := p.now().UTC()
	var promoted []store.Promotion
	err := p.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		promoted, err = repo.PromoteOverdue(ctx, now, domain.GracePeriod)
		if err != nil {
			return err
		}
		for _, pr := range promoted {
			if err := repo.InsertStatusEvent(ctx, &domain.StatusEvent{
				ID:        uuid.NewString(),
				BookingID: pr.Booking.ID,
				From:      pr.From,
				To:        domain.StatusMissed,
				ActorID:   domain.SystemActor.ID,
				ActorRole: domain.SystemActor.Role,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("promotion sweep: %w", err)
	}

	for _, pr := range promoted {
		p.metrics.Promotions.WithLabelValues(string(pr.From)).Inc()
		p.logger.Info("booking promoted to missed",
			zap.String("booking_id", pr.Booking.ID),
			zap.String("from", string(pr.From)))
		if err := p.publisher.Publish(ctx, events.KeyBookingStatusChanged, events.BookingStatusChanged{
			BookingID: pr.Booking.ID,
			From:      string(pr.From),
			To:        string(domain.StatusMissed),
			ActorID:   domain.SystemActor.ID,
			ActorRole: string(domain.SystemActor.Role),
			At:        now,
		}); err != nil {
			p.logger.Warn("event not published", zap.String("booking_id", pr.Booking.ID), zap.Error(err))
		}
	}
	return promoted, nil
}
