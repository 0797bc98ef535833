package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"consultation-service/internal/domain"
)

const stateTTL = 10 * time.Minute

// GoogleAuthHandler starts the calendar connect flow for the calling seller.
// The state parameter is a short-lived signed token carrying the seller id.
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if a.OAuth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	actor := actorFrom(c)
	if actor.Role != domain.RoleSeller {
		a.respondError(c, domain.ErrForbidden)
		return
	}

	state, err := a.signState(actor.ID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	url := a.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

// GoogleOAuth2CallbackHandler exchanges the code and stores the seller's token.
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if a.OAuth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization code required"})
		return
	}
	sellerID, err := a.verifyState(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	ctx := c.Request.Context()
	token, err := a.OAuth.Exchange(ctx, code)
	if err != nil {
		a.Logger.Warn("oauth code exchange failed", zap.String("seller_id", sellerID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code for token"})
		return
	}
	if err := a.Credentials.SaveCalendarToken(ctx, sellerID, token); err != nil {
		a.respondError(c, err)
		return
	}
	a.Logger.Info("calendar connected", zap.String("seller_id", sellerID))
	c.JSON(http.StatusOK, gin.H{"message": "Authorization successful"})
}

func (a *App) signState(sellerID string) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sellerID,
		Audience:  jwt.ClaimStrings{"calendar-connect"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}).SignedString(a.StateKey)
}

func (a *App) verifyState(state string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenMalformed
		}
		return a.StateKey, nil
	}, jwt.WithAudience("calendar-connect"), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("state without subject")
	}
	return claims.Subject, nil
}
