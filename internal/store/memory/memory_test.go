package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"consultation-service/internal/domain"
	"consultation-service/internal/store"
)

func newSlot(id string, date civil.Date) *domain.Slot {
	return &domain.Slot{
		ID:          id,
		SellerID:    "seller-1",
		Date:        date,
		StartTime:   civil.Time{Hour: 14},
		EndTime:     civil.Time{Hour: 15},
		Timezone:    "UTC",
		PriceAmount: 5000,
		Currency:    "usd",
	}
}

func paidBooking(id string, s domain.Slot, buyer string, status domain.BookingStatus) *domain.Booking {
	b := domain.NewBookingFromSlot(id, s, buyer)
	b.Status = status
	b.PaymentStatus = domain.PaymentPaid
	b.PaymentAmount = s.PriceAmount
	b.PaymentReference = "pi_" + id
	return &b
}

func TestTryClaim_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSlots(ctx, []*domain.Slot{newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})}))

	const buyers = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			res, err := s.TryClaim(ctx, "slot-1", buyer)
			assert.NoError(t, err)
			if res.Claimed {
				mu.Lock()
				winners = append(winners, buyer)
				mu.Unlock()
			}
		}(fmt.Sprintf("buyer-%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	slot, err := s.GetSlot(ctx, "slot-1")
	require.NoError(t, err)
	assert.True(t, slot.IsBooked)
	assert.False(t, slot.IsAvailable)
	require.NotNil(t, slot.BookedBy)
	assert.Equal(t, winners[0], *slot.BookedBy)
}

func TestTryClaim_ReturnsPreClaimSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSlots(ctx, []*domain.Slot{newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})}))

	res, err := s.TryClaim(ctx, "slot-1", "buyer-1")
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.True(t, res.Slot.IsAvailable)
	assert.Nil(t, res.Slot.BookedBy)

	res, err = s.TryClaim(ctx, "slot-1", "buyer-2")
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	res, err = s.TryClaim(ctx, "missing", "buyer-2")
	require.NoError(t, err)
	assert.False(t, res.Claimed)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSlots(ctx, []*domain.Slot{newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})}))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		res, err := repo.TryClaim(ctx, "slot-1", "buyer-1")
		require.NoError(t, err)
		require.True(t, res.Claimed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	slot, err := s.GetSlot(ctx, "slot-1")
	require.NoError(t, err)
	assert.True(t, slot.Claimable())
}

func TestInsertBooking_Guards(t *testing.T) {
	ctx := context.Background()
	s := New()
	slot := *newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})

	unpaid := paidBooking("b-0", slot, "buyer-1", domain.StatusConfirmed)
	unpaid.PaymentStatus = domain.PaymentPending
	assert.ErrorIs(t, s.InsertBooking(ctx, unpaid), domain.ErrPaymentNotConfirmed)

	noRef := paidBooking("b-0", slot, "buyer-1", domain.StatusConfirmed)
	noRef.PaymentReference = ""
	assert.ErrorIs(t, s.InsertBooking(ctx, noRef), domain.ErrPaymentNotConfirmed)

	require.NoError(t, s.InsertBooking(ctx, paidBooking("b-1", slot, "buyer-1", domain.StatusConfirmed)))
	assert.ErrorIs(t, s.InsertBooking(ctx, paidBooking("b-2", slot, "buyer-2", domain.StatusConfirmed)),
		domain.ErrSlotNoLongerAvailable)

	ok, err := s.UpdateBookingStatus(ctx, "b-1", domain.StatusConfirmed, domain.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, s.InsertBooking(ctx, paidBooking("b-3", slot, "buyer-2", domain.StatusConfirmed)))
}

func TestUpdateBookingStatus_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	slot := *newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})
	require.NoError(t, s.InsertBooking(ctx, paidBooking("b-1", slot, "buyer-1", domain.StatusConfirmed)))

	ok, err := s.UpdateBookingStatus(ctx, "b-1", domain.StatusPending, domain.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateBookingStatus(ctx, "b-1", domain.StatusConfirmed, domain.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseSlot_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSlots(ctx, []*domain.Slot{newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})}))
	_, err := s.TryClaim(ctx, "slot-1", "buyer-1")
	require.NoError(t, err)

	ok, err := s.ReleaseSlot(ctx, "slot-1", "buyer-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ReleaseSlot(ctx, "slot-1", "buyer-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReleaseSlot(ctx, "slot-1", "buyer-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetMeetingLink_OnlyIfEmpty(t *testing.T) {
	ctx := context.Background()
	s := New()
	slot := *newSlot("slot-1", civil.Date{Year: 2025, Month: 6, Day: 1})
	require.NoError(t, s.InsertBooking(ctx, paidBooking("b-1", slot, "buyer-1", domain.StatusConfirmed)))

	ok, err := s.SetMeetingLink(ctx, "b-1", domain.MeetingLink{URL: "https://zoom.us/j/1"}, false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetMeetingLink(ctx, "b-1", domain.MeetingLink{URL: "https://meet.google.com/abc", ExternalEventID: "ev1", SellerInvited: true, BuyerInvited: true}, true)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "https://zoom.us/j/1", *b.MeetingLink)
	assert.Nil(t, b.ExternalEventID)
	assert.False(t, b.SellerInviteSent)
	assert.False(t, b.BuyerInviteSent)
}

func TestPromoteOverdue(t *testing.T) {
	ctx := context.Background()
	s := New()
	date := civil.Date{Year: 2025, Month: 6, Day: 1}
	for i, st := range []domain.BookingStatus{domain.StatusConfirmed, domain.StatusInProgress, domain.StatusPending, domain.StatusCompleted} {
		slot := *newSlot(fmt.Sprintf("slot-%d", i), date)
		require.NoError(t, s.InsertBooking(ctx, paidBooking(fmt.Sprintf("b-%d", i), slot, "buyer-1", st)))
	}

	early := time.Date(2025, 6, 1, 15, 14, 59, 0, time.UTC)
	got, err := s.PromoteOverdue(ctx, early, domain.GracePeriod)
	require.NoError(t, err)
	assert.Empty(t, got)

	due := time.Date(2025, 6, 1, 15, 15, 0, 0, time.UTC)
	got, err = s.PromoteOverdue(ctx, due, domain.GracePeriod)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StatusConfirmed, got[0].From)
	assert.Equal(t, domain.StatusInProgress, got[1].From)
	for _, p := range got {
		assert.Equal(t, domain.StatusMissed, p.Booking.Status)
	}

	got, err = s.PromoteOverdue(ctx, due.Add(time.Hour), domain.GracePeriod)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetentionPredicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertSlots(ctx, []*domain.Slot{
		newSlot("past-free", civil.Date{Year: 2025, Month: 6, Day: 29}),
		newSlot("today-free", civil.Date{Year: 2025, Month: 6, Day: 30}),
		newSlot("old-booked", civil.Date{Year: 2025, Month: 6, Day: 9}),
		newSlot("recent-booked", civil.Date{Year: 2025, Month: 6, Day: 10}),
	}))
	for _, id := range []string{"old-booked", "recent-booked"} {
		_, err := s.TryClaim(ctx, id, "buyer-1")
		require.NoError(t, err)
	}

	ids, err := s.ExpiredUnbookedSlots(ctx, now, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"past-free"}, ids)

	ids, err = s.ExpiredBookedSlots(ctx, now, 20, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-booked"}, ids)

	ok, err := s.DeleteExpiredBookedSlot(ctx, "recent-booked", now, 20)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteExpiredUnbookedSlot(ctx, "past-free", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteExpiredUnbookedSlot(ctx, "past-free", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetention_KeepsNonTerminalBookings(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	old := *newSlot("slot-1", civil.Date{Year: 2025, Month: 1, Day: 1})

	require.NoError(t, s.InsertBooking(ctx, paidBooking("open", old, "buyer-1", domain.StatusConfirmed)))
	old.ID = "slot-2"
	require.NoError(t, s.InsertBooking(ctx, paidBooking("done", old, "buyer-1", domain.StatusCompleted)))

	ids, err := s.ExpiredBookings(ctx, now, 90, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ids)

	ok, err := s.DeleteExpiredBooking(ctx, "open", now, 90)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCalendarToken(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CalendarToken(ctx, "seller-1")
	assert.ErrorIs(t, err, domain.ErrNoCalendarCredentials)

	require.NoError(t, s.SaveCalendarToken(ctx, "seller-1", &oauth2.Token{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.SaveCalendarToken(ctx, "seller-1", &oauth2.Token{AccessToken: "a2"}))

	tok, err := s.CalendarToken(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
}
