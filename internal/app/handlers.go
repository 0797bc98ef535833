package app

import (
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"consultation-service/internal/domain"
	"consultation-service/internal/reservation"
)

// POST /api/slots/:id/checkout
func (a *App) CheckoutHandler(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := a.Coordinator.Checkout(c.Request.Context(), reservation.CheckoutInput{
		SlotID:         c.Param("id"),
		Buyer:          actorFrom(c),
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GET /api/bookings?status=confirmed,pending&from=YYYY-MM-DD&limit=N
func (a *App) ListBookingsHandler(c *gin.Context) {
	var q reservation.ListQuery
	if s := c.Query("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st := domain.BookingStatus(strings.TrimSpace(part))
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status " + part})
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if s := c.Query("from"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from, expected YYYY-MM-DD"})
			return
		}
		q.From = &d
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = n
	}

	views, err := a.Coordinator.List(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// GET /api/bookings/:id
func (a *App) GetBookingHandler(c *gin.Context) {
	v, err := a.Coordinator.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GET /api/bookings/:id/history
func (a *App) BookingHistoryHandler(c *gin.Context) {
	events, err := a.Coordinator.History(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	if events == nil {
		events = []domain.StatusEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// PATCH /api/bookings/:id/status
func (a *App) UpdateStatusHandler(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := a.Coordinator.UpdateStatus(c.Request.Context(), c.Param("id"), actorFrom(c), req.Status)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// DELETE /api/bookings/:id
func (a *App) CancelBookingHandler(c *gin.Context) {
	if _, err := a.Coordinator.UpdateStatus(c.Request.Context(), c.Param("id"), actorFrom(c), domain.StatusCancelled); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// PUT /api/bookings/:id/meeting-link
func (a *App) AttachMeetingLinkHandler(c *gin.Context) {
	var req meetingLinkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := a.Coordinator.AttachMeetingLink(c.Request.Context(), c.Param("id"), actorFrom(c), req.URL)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
