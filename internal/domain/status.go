package domain

import (
	"fmt"
	"time"
)

// GracePeriod is how long after end_time a booking may still be completed
// before it counts as missed.
const GracePeriod = 15 * time.Minute

// StartingSoonWindow is how long before start_time a booking is shown as starting soon.
const StartingSoonWindow = 15 * time.Minute

// IsTerminal reports whether no regular transition leaves s.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// TerminalStatuses are the statuses a finished booking can be in.
var TerminalStatuses = []BookingStatus{StatusCompleted, StatusCancelled, StatusMissed}

// PromotableStatuses are swept to missed once overdue.
var PromotableStatuses = []BookingStatus{StatusConfirmed, StatusInProgress}

type transition struct {
	from BookingStatus
	to   BookingStatus
}

// transitions maps each edge of the booking graph to the roles allowed to take it.
var transitions = map[transition][]ActorRole{
	{StatusPending, StatusConfirmed}:    {RoleSeller},
	{StatusPending, StatusCancelled}:    {RoleSeller, RoleBuyer},
	{StatusConfirmed, StatusCancelled}:  {RoleSeller, RoleBuyer},
	{StatusConfirmed, StatusCompleted}:  {RoleSeller},
	{StatusConfirmed, StatusInProgress}: {RoleSeller},
	{StatusConfirmed, StatusMissed}:     {RoleSystem},
	{StatusInProgress, StatusCompleted}: {RoleSeller},
	{StatusInProgress, StatusMissed}:    {RoleSystem},
	// manual correction: the meeting happened but nobody marked it
	{StatusMissed, StatusCompleted}: {RoleSeller},
}

// IsEdge reports whether from -> to exists in the graph for any role.
func IsEdge(from, to BookingStatus) bool {
	_, ok := transitions[transition{from, to}]
	return ok
}

// CheckTransition validates from -> to for role.
func CheckTransition(from, to BookingStatus, role ActorRole) error {
	roles, ok := transitions[transition{from, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not move %s -> %s", ErrInvalidStatusTransition, role, from, to)
}

// ReleasesSlot reports whether entering to frees the booking's slot claim.
func ReleasesSlot(to BookingStatus) bool {
	return to == StatusCancelled
}

// ValidPath reports whether statuses, as observed in order, walk the graph.
// The first element is the creation status.
func ValidPath(statuses []BookingStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	if statuses[0] != StatusPending && statuses[0] != StatusConfirmed {
		return false
	}
	for i := 1; i < len(statuses); i++ {
		if !IsEdge(statuses[i-1], statuses[i]) {
			return false
		}
	}
	return true
}
