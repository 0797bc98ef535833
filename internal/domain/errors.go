package domain

import "errors"

var (
	ErrSlotNoLongerAvailable   = errors.New("this time is no longer available")
	ErrPaymentNotConfirmed     = errors.New("payment not confirmed")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var (
	ErrMeetingProvisioningFailed    = errors.New("meeting provisioning failed")
	ErrNoCalendarCredentials        = errors.New("no valid calendar credentials")
	ErrRetentionSweepPartialFailure = errors.New("retention sweep partially failed")
)

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrSlotBooked      = errors.New("slot is booked")
)

var (
	ErrInvalidSlot        = errors.New("invalid slot")
	ErrInvalidMeetingLink = errors.New("invalid meeting link")
	ErrForbidden          = errors.New("forbidden")
)
