package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/metrics"
	"consultation-service/internal/store/memory"
)

var retentionNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func date(month time.Month, day int) civil.Date {
	return civil.Date{Year: 2025, Month: month, Day: day}
}

func insertSlot(t *testing.T, st *memory.Store, id string, d civil.Date, tz string, bookedBy string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InsertSlots(ctx, []*domain.Slot{{
		ID: id, SellerID: "seller-1", Date: d,
		StartTime: civil.Time{Hour: 10}, EndTime: civil.Time{Hour: 11},
		Timezone: tz, PriceAmount: 5000, Currency: "usd",
	}}))
	if bookedBy != "" {
		res, err := st.TryClaim(ctx, id, bookedBy)
		require.NoError(t, err)
		require.True(t, res.Claimed)
	}
}

func newRetention(st *memory.Store, policy RetentionPolicy) *Retention {
	return NewRetention(st, policy, zap.NewNop(), metrics.New()).
		WithClock(func() time.Time { return retentionNow })
}

func slotExists(t *testing.T, st *memory.Store, id string) bool {
	t.Helper()
	_, err := st.GetSlot(context.Background(), id)
	if errors.Is(err, domain.ErrSlotNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func bookingExists(t *testing.T, st *memory.Store, id string) bool {
	t.Helper()
	_, err := st.GetBooking(context.Background(), id)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestRetention_Thresholds(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	insertSlot(t, st, "free-yesterday", date(6, 29), "UTC", "")
	insertSlot(t, st, "free-today", date(6, 30), "UTC", "")
	// already July 1st in Kiritimati
	insertSlot(t, st, "free-kiritimati", date(6, 30), "Pacific/Kiritimati", "")
	insertSlot(t, st, "booked-25d", date(6, 5), "UTC", "buyer-1")
	insertSlot(t, st, "booked-15d", date(6, 15), "UTC", "buyer-1")

	insertBooking(t, st, "b-25d", date(6, 5), domain.StatusCompleted)
	insertBooking(t, st, "b-old-completed", date(3, 1), domain.StatusCompleted)
	insertBooking(t, st, "b-old-cancelled", date(3, 2), domain.StatusCancelled)
	insertBooking(t, st, "b-old-confirmed", date(3, 3), domain.StatusConfirmed)

	rep, err := newRetention(st, DefaultRetentionPolicy()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{UnbookedSlots: 2, BookedSlots: 1, Bookings: 2}, rep)

	assert.False(t, slotExists(t, st, "free-yesterday"))
	assert.True(t, slotExists(t, st, "free-today"))
	assert.False(t, slotExists(t, st, "free-kiritimati"))
	assert.False(t, slotExists(t, st, "booked-25d"))
	assert.True(t, slotExists(t, st, "booked-15d"))

	// a booking outlives its slot
	assert.True(t, bookingExists(t, st, "b-25d"))
	assert.False(t, bookingExists(t, st, "b-old-completed"))
	assert.False(t, bookingExists(t, st, "b-old-cancelled"))
	assert.True(t, bookingExists(t, st, "b-old-confirmed"))
}

func TestRetention_DeletesStatusHistoryWithBooking(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	insertBooking(t, st, "b-old", date(3, 1), domain.StatusCompleted)
	insertBooking(t, st, "b-recent", date(6, 1), domain.StatusCompleted)
	for _, id := range []string{"b-old", "b-recent"} {
		for i, to := range []domain.BookingStatus{domain.StatusConfirmed, domain.StatusCompleted} {
			require.NoError(t, st.InsertStatusEvent(ctx, &domain.StatusEvent{
				ID: fmt.Sprintf("%s-ev-%d", id, i), BookingID: id, To: to,
				ActorID: "seller-1", ActorRole: domain.RoleSeller,
			}))
		}
	}

	rep, err := newRetention(st, DefaultRetentionPolicy()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Bookings)

	assert.False(t, bookingExists(t, st, "b-old"))
	old, err := st.ListStatusEvents(ctx, "b-old")
	require.NoError(t, err)
	assert.Empty(t, old)

	recent, err := st.ListStatusEvents(ctx, "b-recent")
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRetention_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	insertSlot(t, st, "free-yesterday", date(6, 29), "UTC", "")
	insertBooking(t, st, "b-old", date(1, 10), domain.StatusMissed)

	r := newRetention(st, DefaultRetentionPolicy())
	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{UnbookedSlots: 1, Bookings: 1}, first)

	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, second)
}

func TestRetention_PagesThroughBatches(t *testing.T) {
	st := memory.New()
	for i := 0; i < 5; i++ {
		insertSlot(t, st, fmt.Sprintf("free-%d", i), date(6, 1+i), "UTC", "")
	}

	rep, err := newRetention(st, RetentionPolicy{BookedSlotDays: 20, BookingDays: 90, BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.UnbookedSlots)
}

type flakyStore struct {
	*memory.Store
	failID string
}

func (f *flakyStore) DeleteExpiredBooking(ctx context.Context, id string, now time.Time, maxAgeDays int) (bool, error) {
	if id == f.failID {
		return false, errors.New("connection reset")
	}
	return f.Store.DeleteExpiredBooking(ctx, id, now, maxAgeDays)
}

func TestRetention_PartialFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	insertBooking(t, st, "b-1", date(1, 10), domain.StatusCompleted)
	insertBooking(t, st, "b-2", date(1, 11), domain.StatusCompleted)
	insertSlot(t, st, "free-yesterday", date(6, 29), "UTC", "")

	flaky := &flakyStore{Store: st, failID: "b-1"}
	r := NewRetention(flaky, DefaultRetentionPolicy(), zap.NewNop(), metrics.New()).
		WithClock(func() time.Time { return retentionNow })

	rep, err := r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetentionSweepPartialFailure)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, Report{UnbookedSlots: 1, Bookings: 1, Failed: 1}, rep)
	assert.True(t, bookingExists(t, st, "b-1"))

	// the failed row is picked up by the next run
	flaky.failID = ""
	rep, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Bookings: 1}, rep)
	assert.False(t, bookingExists(t, st, "b-1"))
}
