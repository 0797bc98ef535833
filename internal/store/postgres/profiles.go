package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"consultation-service/internal/store"
)

// Email reads a user's address from the identity system's profile table.
func (r *Repo) Email(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM user_profiles WHERE id=$1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrProfileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get profile email: %w", err)
	}
	return email, nil
}
