package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
)

// respondError maps domain errors to HTTP statuses. Anything unknown is
// logged and reported as a 500 without detail.
func (a *App) respondError(c *gin.Context, err error) {
	var status int
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrSlotNoLongerAvailable):
		status, msg = http.StatusConflict, domain.ErrSlotNoLongerAvailable.Error()
	case errors.Is(err, domain.ErrPaymentFailed), errors.Is(err, domain.ErrPaymentNotConfirmed):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidStatusTransition), errors.Is(err, domain.ErrSlotBooked):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrSlotNotFound), errors.Is(err, domain.ErrBookingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSlot), errors.Is(err, domain.ErrInvalidMeetingLink):
		status = http.StatusBadRequest
	default:
		a.Logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		status, msg = http.StatusInternalServerError, "internal server error"
	}
	c.JSON(status, gin.H{"error": msg})
}
