// Package app is the HTTP surface: gin handlers over the reservation
// coordinator plus the calendar OAuth flow.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"consultation-service/internal/metrics"
	"consultation-service/internal/reservation"
	"consultation-service/internal/store"
)

type App struct {
	Coordinator *reservation.Coordinator
	Credentials store.CredentialStore
	// OAuth is nil when Google Calendar is not configured.
	OAuth *oauth2.Config
	// StateKey signs the OAuth state parameter.
	StateKey        []byte
	DefaultCurrency string
	Logger          *zap.Logger
}

type RouterConfig struct {
	Auth           *Authenticator
	Metrics        *metrics.Metrics
	Origins        []string
	RequestsPerMin int
	// Health reports whether dependencies are reachable.
	Health func(ctx context.Context) error
}

func (a *App) Router(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(a.Logger), Recovery(a.Logger), cfg.Metrics.Middleware())

	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.Origins) == 0 || (len(cfg.Origins) == 1 && cfg.Origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.Origins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", a.healthHandler(cfg.Health))
	r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	// OAuth2 callback (must be before auth middleware)
	r.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	api := r.Group("/api", NewRateLimiter(cfg.RequestsPerMin, a.Logger).Middleware(), cfg.Auth.Middleware())
	{
		api.GET("/sellers/:id/slots", a.ListAvailableSlotsHandler)

		slots := api.Group("/slots")
		{
			slots.POST("", a.PublishSlotsHandler)
			slots.POST("/generate", a.GenerateSlotsHandler)
			slots.DELETE("/:id", a.UnpublishSlotHandler)
			slots.POST("/:id/checkout", a.CheckoutHandler)
		}

		bookings := api.Group("/bookings")
		{
			bookings.GET("", a.ListBookingsHandler)
			bookings.GET("/:id", a.GetBookingHandler)
			bookings.GET("/:id/history", a.BookingHistoryHandler)
			bookings.PATCH("/:id/status", a.UpdateStatusHandler)
			bookings.DELETE("/:id", a.CancelBookingHandler)
			bookings.PUT("/:id/meeting-link", a.AttachMeetingLinkHandler)
		}

		api.GET("/calendar/connect", a.GoogleAuthHandler)
	}
	return r
}

func (a *App) healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				a.Logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
