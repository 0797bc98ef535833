package domain

import "time"

const (
	LabelAwaitingApproval = "Awaiting approval"
	LabelUpcoming         = "Upcoming"
	LabelStartingSoon     = "Starting soon"
	LabelInProgress       = "In progress"
	LabelMissed           = "Missed"
	LabelCompleted        = "Completed"
	LabelCancelled        = "Cancelled"
)

// Display is the read-time view of a booking. It is never persisted.
type Display struct {
	Label          string    `json:"label"`
	IsUpcoming     bool      `json:"is_upcoming"`
	IsStartingSoon bool      `json:"is_starting_soon"`
	IsInProgress   bool      `json:"is_in_progress"`
	IsOverdue      bool      `json:"is_overdue"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
}

// DeriveDisplay computes what a booking should look like at now.
func DeriveDisplay(b Booking, now time.Time) Display {
	start, end := b.StartsAt(), b.EndsAt()
	d := Display{StartsAt: start, EndsAt: end}

	switch b.Status {
	case StatusCompleted:
		d.Label = LabelCompleted
		return d
	case StatusCancelled:
		d.Label = LabelCancelled
		return d
	case StatusMissed:
		d.Label = LabelMissed
		d.IsOverdue = true
		return d
	}

	overdueAt := end.Add(GracePeriod)
	switch {
	case !now.Before(overdueAt):
		d.Label = LabelMissed
		d.IsOverdue = true
	case !now.Before(start) || b.Status == StatusInProgress:
		d.Label = LabelInProgress
		d.IsInProgress = true
	case !now.Before(start.Add(-StartingSoonWindow)):
		d.Label = LabelStartingSoon
		d.IsUpcoming = true
		d.IsStartingSoon = true
	default:
		d.Label = LabelUpcoming
		d.IsUpcoming = true
	}

	if b.Status == StatusPending && !d.IsOverdue {
		d.Label = LabelAwaitingApproval
	}
	return d
}
