package app

import (
	"cloud.google.com/go/civil"

	"consultation-service/internal/domain"
)

type slotReq struct {
	Date             civil.Date `json:"date"`
	StartTime        civil.Time `json:"start_time"`
	EndTime          civil.Time `json:"end_time"`
	Timezone         string     `json:"timezone"`
	PriceAmount      int64      `json:"price_amount" binding:"gt=0"`
	Currency         string     `json:"currency"`
	RequiresApproval bool       `json:"requires_approval"`
}

func (r slotReq) toSlot(defaultCurrency string) *domain.Slot {
	s := &domain.Slot{
		Date:             r.Date,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		Timezone:         r.Timezone,
		PriceAmount:      r.PriceAmount,
		Currency:         r.Currency,
		RequiresApproval: r.RequiresApproval,
	}
	if s.Currency == "" {
		s.Currency = defaultCurrency
	}
	return s
}

type publishSlotsReq struct {
	Slots []slotReq `json:"slots" binding:"required,min=1,dive"`
}

type checkoutReq struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
	Notes         string `json:"notes"`
}

type statusReq struct {
	Status domain.BookingStatus `json:"status" binding:"required"`
}

type meetingLinkReq struct {
	URL string `json:"url" binding:"required"`
}
