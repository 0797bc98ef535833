package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"

	"consultation-service/internal/domain"
)

const providerGoogle = "google"

// SaveCalendarToken upserts the seller's Google credentials.
func (r *Repo) SaveCalendarToken(ctx context.Context, sellerID string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO calendar_credentials (seller_id, provider, access_token, refresh_token, token_type, expiry, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,now())
		 ON CONFLICT (seller_id, provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=COALESCE(NULLIF(EXCLUDED.refresh_token, ''), calendar_credentials.refresh_token),
		   token_type=EXCLUDED.token_type,
		   expiry=EXCLUDED.expiry,
		   updated_at=now()`,
		sellerID, providerGoogle, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry)
	if err != nil {
		return fmt.Errorf("save calendar token: %w", err)
	}
	return nil
}

// CalendarToken returns the stored token, or ErrNoCalendarCredentials.
func (r *Repo) CalendarToken(ctx context.Context, sellerID string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT access_token, refresh_token, token_type, expiry
		 FROM calendar_credentials WHERE seller_id=$1 AND provider=$2`,
		sellerID, providerGoogle).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoCalendarCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar token: %w", err)
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	return &tok, nil
}
