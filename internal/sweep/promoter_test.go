package sweep

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/events"
	"consultation-service/internal/meeting"
	"consultation-service/internal/metrics"
	"consultation-service/internal/payment"
	"consultation-service/internal/reservation"
	"consultation-service/internal/store/memory"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, meeting.Job) {}

func paymentResult(ref string) payment.Result {
	return payment.Result{Success: true, Reference: ref, Amount: 5000, Currency: "usd"}
}

func at(h, m, s int) time.Time {
	return time.Date(2025, 6, 1, h, m, s, 0, time.UTC)
}

func insertBooking(t *testing.T, st *memory.Store, id string, date civil.Date, status domain.BookingStatus) {
	t.Helper()
	slot := domain.Slot{
		ID: "slot-" + id, SellerID: "seller-1", Date: date,
		StartTime: civil.Time{Hour: 14}, EndTime: civil.Time{Hour: 15},
		Timezone: "UTC", PriceAmount: 5000, Currency: "usd",
	}
	b := domain.NewBookingFromSlot(id, slot, "buyer-1")
	b.Status = status
	b.PaymentStatus = domain.PaymentPaid
	b.PaymentAmount = 5000
	b.PaymentReference = "pi_" + id
	require.NoError(t, st.InsertBooking(context.Background(), &b))
}

func TestPromoter_MonotoneAndIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := metrics.New()
	day := civil.Date{Year: 2025, Month: 6, Day: 1}
	insertBooking(t, st, "b-confirmed", day, domain.StatusConfirmed)
	insertBooking(t, st, "b-in-progress", day, domain.StatusInProgress)
	insertBooking(t, st, "b-pending", day, domain.StatusPending)
	insertBooking(t, st, "b-completed", day, domain.StatusCompleted)

	now := at(15, 14, 59)
	p := NewPromoter(st, events.Noop{}, zap.NewNop(), m).WithClock(func() time.Time { return now })

	promoted, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, promoted)

	now = at(15, 15, 0)
	promoted, err = p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, promoted, 2)
	assert.Equal(t, "b-confirmed", promoted[0].Booking.ID)
	assert.Equal(t, domain.StatusConfirmed, promoted[0].From)
	assert.Equal(t, "b-in-progress", promoted[1].Booking.ID)
	assert.Equal(t, domain.StatusInProgress, promoted[1].From)

	promoted, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, promoted)

	for id, want := range map[string]domain.BookingStatus{
		"b-confirmed":   domain.StatusMissed,
		"b-in-progress": domain.StatusMissed,
		"b-pending":     domain.StatusPending,
		"b-completed":   domain.StatusCompleted,
	} {
		b, err := st.GetBooking(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, b.Status, id)
	}

	history, err := st.ListStatusEvents(ctx, "b-confirmed")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.RoleSystem, history[0].ActorRole)
	assert.Equal(t, domain.StatusMissed, history[0].To)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promotions.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promotions.WithLabelValues("in_progress")))
}

func TestPromoter_SellerCanCorrectMissedBooking(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := metrics.New()
	now := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := reservation.New(reservation.Deps{
		Store:      st,
		Dispatcher: nopDispatcher{},
		Logger:     zap.NewNop(),
		Metrics:    m,
		Clock:      clock,
	})
	seller := domain.Actor{ID: "seller-1", Role: domain.RoleSeller}
	require.NoError(t, c.PublishSlots(ctx, seller, []*domain.Slot{{
		ID: "slot-1", Date: civil.Date{Year: 2025, Month: 6, Day: 1},
		StartTime: civil.Time{Hour: 14}, EndTime: civil.Time{Hour: 15},
		PriceAmount: 5000, Currency: "usd",
	}}))
	b, err := c.CreateBookingAfterPayment(ctx, reservation.CreateInput{
		SlotID: "slot-1", BuyerID: "buyer-1",
		Payment: paymentResult("pi_1"),
	})
	require.NoError(t, err)

	now = at(15, 20, 0)
	view, err := c.Get(ctx, b.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, domain.LabelMissed, view.Display.Label)

	p := NewPromoter(st, nil, zap.NewNop(), m).WithClock(clock)
	promoted, err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, promoted, 1)

	// the meeting did happen; the seller marks it afterwards
	updated, err := c.UpdateStatus(ctx, b.ID, seller, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)

	history, err := c.History(ctx, b.ID, seller)
	require.NoError(t, err)
	var path []domain.BookingStatus
	for _, e := range history {
		path = append(path, e.To)
	}
	assert.Equal(t, []domain.BookingStatus{domain.StatusConfirmed, domain.StatusMissed, domain.StatusCompleted}, path)

	promoted, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, promoted)
}
