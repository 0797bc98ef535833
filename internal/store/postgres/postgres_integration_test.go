//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation-service/internal/domain"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/store/postgres/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(pool))
	_, err = pool.Exec(ctx, `TRUNCATE slots, bookings, booking_status_events, payment_exceptions`)
	require.NoError(t, err)
	return New(pool)
}

func publish(t *testing.T, s *Store, d civil.Date, tz string) domain.Slot {
	t.Helper()
	slot := &domain.Slot{
		ID: uuid.NewString(), SellerID: "seller-1", Date: d,
		StartTime: civil.Time{Hour: 14}, EndTime: civil.Time{Hour: 15},
		Timezone: tz, PriceAmount: 5000, Currency: "usd",
	}
	require.NoError(t, s.InsertSlots(context.Background(), []*domain.Slot{slot}))
	return *slot
}

func book(t *testing.T, s *Store, slot domain.Slot, status domain.BookingStatus) domain.Booking {
	t.Helper()
	b := domain.NewBookingFromSlot(uuid.NewString(), slot, "buyer-1")
	b.Status = status
	b.PaymentStatus = domain.PaymentPaid
	b.PaymentAmount = slot.PriceAmount
	b.PaymentReference = "pi_" + b.ID
	require.NoError(t, s.InsertBooking(context.Background(), &b))
	return b
}

func TestTryClaim_OnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	slot := publish(t, s, civil.Date{Year: 2030, Month: 1, Day: 10}, "UTC")

	res, err := s.TryClaim(ctx, slot.ID, "buyer-1")
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.True(t, res.Slot.IsAvailable)

	res, err = s.TryClaim(ctx, slot.ID, "buyer-2")
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	got, err := s.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBooked)
	assert.Equal(t, "buyer-1", *got.BookedBy)
}

func TestInsertBooking_SecondActiveBookingConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	slot := publish(t, s, civil.Date{Year: 2030, Month: 1, Day: 10}, "UTC")
	first := book(t, s, slot, domain.StatusConfirmed)

	dup := domain.NewBookingFromSlot(uuid.NewString(), slot, "buyer-2")
	dup.Status = domain.StatusConfirmed
	dup.PaymentStatus = domain.PaymentPaid
	dup.PaymentAmount = slot.PriceAmount
	dup.PaymentReference = "pi_dup"
	assert.ErrorIs(t, s.InsertBooking(ctx, &dup), domain.ErrSlotNoLongerAvailable)

	ok, err := s.UpdateBookingStatus(ctx, first.ID, domain.StatusConfirmed, domain.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, s.InsertBooking(ctx, &dup))
}

func TestPromoteOverdue_SellerTimezone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// 14:00-15:00 in Tokyo is 05:00-06:00 UTC
	day := civil.Date{Year: 2025, Month: 6, Day: 1}
	confirmed := book(t, s, publish(t, s, day, "Asia/Tokyo"), domain.StatusConfirmed)
	inProgress := book(t, s, publish(t, s, day, "Asia/Tokyo"), domain.StatusInProgress)
	book(t, s, publish(t, s, day, "Asia/Tokyo"), domain.StatusPending)
	book(t, s, publish(t, s, day, "UTC"), domain.StatusConfirmed)

	got, err := s.PromoteOverdue(ctx, time.Date(2025, 6, 1, 6, 14, 59, 0, time.UTC), domain.GracePeriod)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.PromoteOverdue(ctx, time.Date(2025, 6, 1, 6, 15, 0, 0, time.UTC), domain.GracePeriod)
	require.NoError(t, err)
	from := map[string]domain.BookingStatus{}
	for _, p := range got {
		assert.Equal(t, domain.StatusMissed, p.Booking.Status)
		from[p.Booking.ID] = p.From
	}
	assert.Equal(t, map[string]domain.BookingStatus{
		confirmed.ID:  domain.StatusConfirmed,
		inProgress.ID: domain.StatusInProgress,
	}, from)

	got, err = s.PromoteOverdue(ctx, time.Date(2025, 6, 1, 6, 15, 0, 0, time.UTC), domain.GracePeriod)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetention_EvaluatesTodayPerRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	day := civil.Date{Year: 2025, Month: 6, Day: 30}

	utc := publish(t, s, day, "UTC")
	// already July 1st in Kiritimati
	kiritimati := publish(t, s, day, "Pacific/Kiritimati")

	ids, err := s.ExpiredUnbookedSlots(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{kiritimati.ID}, ids)

	ok, err := s.DeleteExpiredUnbookedSlot(ctx, utc.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DeleteExpiredUnbookedSlot(ctx, kiritimati.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteExpiredBooking_RemovesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	old := book(t, s, publish(t, s, civil.Date{Year: 2025, Month: 3, Day: 1}, "UTC"), domain.StatusCompleted)
	open := book(t, s, publish(t, s, civil.Date{Year: 2025, Month: 3, Day: 2}, "UTC"), domain.StatusConfirmed)
	for _, b := range []domain.Booking{old, open} {
		require.NoError(t, s.InsertStatusEvent(ctx, &domain.StatusEvent{
			ID: uuid.NewString(), BookingID: b.ID, To: b.Status, ActorID: "buyer-1", ActorRole: domain.RoleBuyer,
		}))
	}

	ids, err := s.ExpiredBookings(ctx, now, 90, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids)

	ok, err := s.DeleteExpiredBooking(ctx, open.ID, now, 90)
	require.NoError(t, err)
	assert.False(t, ok)
	events, err := s.ListStatusEvents(ctx, open.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	ok, err = s.DeleteExpiredBooking(ctx, old.ID, now, 90)
	require.NoError(t, err)
	assert.True(t, ok)
	events, err = s.ListStatusEvents(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSetMeetingLink_InviteFlagsOnlyTurnOn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := book(t, s, publish(t, s, civil.Date{Year: 2030, Month: 1, Day: 10}, "UTC"), domain.StatusConfirmed)

	ok, err := s.SetMeetingLink(ctx, b.ID, domain.MeetingLink{
		URL: "https://meet.google.com/abc", ExternalEventID: "ev-1", SellerInvited: true,
	}, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetMeetingLink(ctx, b.ID, domain.MeetingLink{URL: "https://zoom.us/j/1"}, false)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://zoom.us/j/1", *got.MeetingLink)
	assert.Nil(t, got.ExternalEventID)
	assert.True(t, got.SellerInviteSent)
	assert.False(t, got.BuyerInviteSent)
}

func TestRequiresApprovalRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	slot := &domain.Slot{
		ID: uuid.NewString(), SellerID: "seller-1", Date: civil.Date{Year: 2030, Month: 1, Day: 10},
		StartTime: civil.Time{Hour: 9}, EndTime: civil.Time{Hour: 10},
		Timezone: "UTC", PriceAmount: 5000, Currency: "usd", RequiresApproval: true,
	}
	require.NoError(t, s.InsertSlots(ctx, []*domain.Slot{slot}))

	res, err := s.TryClaim(ctx, slot.ID, "buyer-1")
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.True(t, res.Slot.RequiresApproval)
}
