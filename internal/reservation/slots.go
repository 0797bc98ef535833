package reservation

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
)

// PublishSlots stores new slots for the acting seller.
func (c *Coordinator) PublishSlots(ctx context.Context, actor domain.Actor, slots []*domain.Slot) error {
	if actor.Role != domain.RoleSeller {
		return domain.ErrForbidden
	}
	if len(slots) == 0 {
		return fmt.Errorf("%w: no slots", domain.ErrInvalidSlot)
	}
	now := c.now()
	for _, s := range slots {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Timezone == "" {
			s.Timezone = "UTC"
		}
		s.SellerID = actor.ID
		if err := s.Validate(); err != nil {
			return err
		}
		if !now.Before(s.StartsAt()) {
			return fmt.Errorf("%w: %s %s is in the past", domain.ErrInvalidSlot, s.Date, s.StartTime)
		}
	}
	if err := c.store.InsertSlots(ctx, slots); err != nil {
		return err
	}
	c.logger.Info("slots published", zap.String("seller_id", actor.ID), zap.Int("count", len(slots)))
	return nil
}

// GenerateSlots expands weekly rules into slots and publishes them.
func (c *Coordinator) GenerateSlots(ctx context.Context, actor domain.Actor, in GenerateInput) ([]*domain.Slot, error) {
	slots, err := ExpandRules(actor.ID, in, c.now())
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	if err := c.PublishSlots(ctx, actor, slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// AvailableSlots lists a seller's claimable slots that have not started yet.
func (c *Coordinator) AvailableSlots(ctx context.Context, sellerID string, from civil.Date) ([]domain.Slot, error) {
	now := c.now()
	// a day of slack covers sellers ahead of UTC
	earliest := civil.DateOf(now.UTC()).AddDays(-1)
	if !from.IsValid() || from.Before(earliest) {
		from = earliest
	}
	slots, err := c.store.ListAvailable(ctx, sellerID, from)
	if err != nil {
		return nil, err
	}
	out := slots[:0]
	for _, s := range slots {
		if now.Before(s.StartsAt()) {
			out = append(out, s)
		}
	}
	return out, nil
}

// UnpublishSlot removes one of the seller's slots unless it is booked.
func (c *Coordinator) UnpublishSlot(ctx context.Context, actor domain.Actor, slotID string) error {
	if actor.Role != domain.RoleSeller {
		return domain.ErrForbidden
	}
	return c.store.DeleteUnbookedSlot(ctx, slotID, actor.ID)
}

// WeeklyRule is one recurring window of a seller's week.
type WeeklyRule struct {
	DayOfWeek      time.Weekday `json:"day_of_week"`
	StartTime      string       `json:"start_time"`
	EndTime        string       `json:"end_time"`
	SlotLengthMins int          `json:"slot_length_minutes"`
}

type GenerateInput struct {
	From             civil.Date   `json:"from"`
	To               civil.Date   `json:"to"`
	Timezone         string       `json:"timezone"`
	PriceAmount      int64        `json:"price_amount"`
	Currency         string       `json:"currency"`
	RequiresApproval bool         `json:"requires_approval"`
	Rules            []WeeklyRule `json:"rules"`
}

// MaxGenerateDays bounds one generation request.
const MaxGenerateDays = 92

// ExpandRules chunks each rule's window into back-to-back slots on every
// matching date in [From, To], skipping slots that start before now.
func ExpandRules(sellerID string, in GenerateInput, now time.Time) ([]*domain.Slot, error) {
	if !in.From.IsValid() || !in.To.IsValid() || in.To.Before(in.From) {
		return nil, fmt.Errorf("%w: invalid date range", domain.ErrInvalidSlot)
	}
	if in.To.DaysSince(in.From) >= MaxGenerateDays {
		return nil, fmt.Errorf("%w: range longer than %d days", domain.ErrInvalidSlot, MaxGenerateDays)
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidSlot, tz)
	}

	type window struct {
		start, end civil.Time
		length     time.Duration
	}
	byDay := map[time.Weekday][]window{}
	for i, r := range in.Rules {
		start, err := parseHHMM(r.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := parseHHMM(r.EndTime)
		if err != nil {
			return nil, err
		}
		if !start.Before(end) {
			return nil, fmt.Errorf("%w: end_time must be after start_time for rule %d", domain.ErrInvalidSlot, i)
		}
		if r.SlotLengthMins <= 0 {
			return nil, fmt.Errorf("%w: slot_length_minutes must be positive for rule %d", domain.ErrInvalidSlot, i)
		}
		byDay[r.DayOfWeek] = append(byDay[r.DayOfWeek], window{start, end, time.Duration(r.SlotLengthMins) * time.Minute})
	}

	var out []*domain.Slot
	for day := in.From; !day.After(in.To); day = day.AddDays(1) {
		for _, w := range byDay[day.In(time.UTC).Weekday()] {
			for s := w.start; ; {
				e, ok := addClock(s, w.length)
				if !ok || w.end.Before(e) {
					break
				}
				slot := &domain.Slot{
					SellerID:         sellerID,
					Date:             day,
					StartTime:        s,
					EndTime:          e,
					Timezone:         tz,
					PriceAmount:      in.PriceAmount,
					Currency:         in.Currency,
					RequiresApproval: in.RequiresApproval,
				}
				if now.Before(slot.StartsAt()) {
					out = append(out, slot)
				}
				s = e
			}
		}
	}
	return out, nil
}

// addClock adds d to t, reporting false if the result would cross midnight.
func addClock(t civil.Time, d time.Duration) (civil.Time, bool) {
	base := civil.DateTime{Date: civil.Date{Year: 2000, Month: 1, Day: 1}, Time: t}.In(time.UTC)
	next := base.Add(d)
	if next.Day() != base.Day() {
		return civil.Time{}, false
	}
	return civil.TimeOf(next), true
}

func parseHHMM(s string) (civil.Time, error) {
	if len(s) < 5 {
		return civil.Time{}, fmt.Errorf("%w: invalid time string %q", domain.ErrInvalidSlot, s)
	}
	t, err := time.Parse("15:04", s[:5])
	if err != nil {
		return civil.Time{}, fmt.Errorf("%w: invalid time string %q", domain.ErrInvalidSlot, s)
	}
	return civil.Time{Hour: t.Hour(), Minute: t.Minute()}, nil
}
