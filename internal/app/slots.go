package app

import (
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"consultation-service/internal/domain"
	"consultation-service/internal/reservation"
)

// GET /api/sellers/:id/slots?from=YYYY-MM-DD
func (a *App) ListAvailableSlotsHandler(c *gin.Context) {
	var from civil.Date
	if s := c.Query("from"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from, expected YYYY-MM-DD"})
			return
		}
		from = d
	}
	slots, err := a.Coordinator.AvailableSlots(c.Request.Context(), c.Param("id"), from)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if slots == nil {
		slots = []domain.Slot{}
	}
	c.JSON(http.StatusOK, slots)
}

// POST /api/slots
func (a *App) PublishSlotsHandler(c *gin.Context) {
	var req publishSlotsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slots := make([]*domain.Slot, 0, len(req.Slots))
	for _, s := range req.Slots {
		slots = append(slots, s.toSlot(a.DefaultCurrency))
	}
	if err := a.Coordinator.PublishSlots(c.Request.Context(), actorFrom(c), slots); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, slots)
}

// POST /api/slots/generate expands weekly rules into slots.
func (a *App) GenerateSlotsHandler(c *gin.Context) {
	var req reservation.GenerateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = a.DefaultCurrency
	}
	slots, err := a.Coordinator.GenerateSlots(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if slots == nil {
		slots = []*domain.Slot{}
	}
	c.JSON(http.StatusCreated, slots)
}

// DELETE /api/slots/:id
func (a *App) UnpublishSlotHandler(c *gin.Context) {
	if err := a.Coordinator.UnpublishSlot(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
