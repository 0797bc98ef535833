package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"consultation-service/internal/domain"
)

const actorKey = "actor"

// Claims are the bearer JWT claims: sub is the user id, role is seller or buyer.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator accepts HMAC-signed JWTs or configured static tokens.
type Authenticator struct {
	secret []byte
	static map[string]domain.Actor
}

// NewAuthenticator parses staticTokens as comma separated token:role:user_id
// triples.
func NewAuthenticator(jwtSecret, staticTokens string) (*Authenticator, error) {
	a := &Authenticator{secret: []byte(strings.TrimSpace(jwtSecret)), static: map[string]domain.Actor{}}
	for _, entry := range strings.Split(staticTokens, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("static token %q: want token:role:user_id", entry)
		}
		actor, err := actorFor(parts[2], parts[1])
		if err != nil {
			return nil, fmt.Errorf("static token: %w", err)
		}
		a.static[parts[0]] = actor
	}
	return a, nil
}

func actorFor(id, role string) (domain.Actor, error) {
	if id == "" {
		return domain.Actor{}, fmt.Errorf("missing user id")
	}
	switch r := domain.ActorRole(role); r {
	case domain.RoleSeller, domain.RoleBuyer:
		return domain.Actor{ID: id, Role: r}, nil
	}
	return domain.Actor{}, fmt.Errorf("unknown role %q", role)
}

// Sign issues a token for actor. Used by tooling and tests.
func (a *Authenticator) Sign(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(a.secret)
}

func (a *Authenticator) authenticate(tokenStr string) (domain.Actor, bool) {
	if len(a.secret) > 0 {
		var claims Claims
		_, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenMalformed
			}
			return a.secret, nil
		}, jwt.WithLeeway(5*time.Second))
		if err == nil {
			if actor, err := actorFor(claims.Subject, claims.Role); err == nil {
				return actor, true
			}
		}
	}
	actor, ok := a.static[tokenStr]
	return actor, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// caller as the request's actor.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		actor, ok := a.authenticate(parts[1])
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(domain.Actor)
	return actor
}
