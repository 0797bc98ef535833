package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation-service/internal/domain"
)

// Malformed ids never reach the database, so a Repo without a connection
// is enough here.
func TestMalformedIDsAreNotFound(t *testing.T) {
	ctx := context.Background()
	r := &Repo{}

	_, err := r.GetSlot(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrSlotNotFound)

	_, err = r.GetBooking(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	assert.ErrorIs(t, r.DeleteUnbookedSlot(ctx, "slot-1", "seller-1"), domain.ErrSlotNotFound)

	res, err := r.TryClaim(ctx, "slot-1", "buyer-1")
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	ok, err := r.ReleaseSlot(ctx, "slot-1", "buyer-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.UpdateBookingStatus(ctx, "b-1", domain.StatusConfirmed, domain.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.SetMeetingLink(ctx, "b-1", domain.MeetingLink{URL: "https://zoom.us/j/1"}, false)
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := r.ListStatusEvents(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestValidID(t *testing.T) {
	assert.True(t, validID(uuid.NewString()))
	assert.False(t, validID(""))
	assert.False(t, validID("slot-1"))
}
