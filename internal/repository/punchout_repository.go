package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PunchOutRepository persists accepted procurement handshakes.
type PunchOutRepository struct {
	db DBTX
}

// NewPunchOutRepository creates a new PunchOutRepository instance
func NewPunchOutRepository(db DBTX) *PunchOutRepository {
	return &PunchOutRepository{db: db}
}

// Create records an accepted handshake and fills in generated fields.
func (r *PunchOutRepository) Create(ctx context.Context, s *PunchOutSession) error {
	query := `
		INSERT INTO punchout_sessions (account_id, buyer_cookie)
		VALUES ($1, $2)
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query, s.AccountID, s.BuyerCookie).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create punchout session: %w", err)
	}
	return nil
}

// GetByBuyerCookie fetches the most recent session for a buyer cookie.
func (r *PunchOutRepository) GetByBuyerCookie(ctx context.Context, cookie string) (*PunchOutSession, error) {
	query := `
		SELECT id, account_id, buyer_cookie, created_at
		FROM punchout_sessions
		WHERE buyer_cookie = $1
		ORDER BY created_at DESC
		LIMIT 1`
	var s PunchOutSession
	err := r.db.QueryRow(ctx, query, cookie).Scan(&s.ID, &s.AccountID, &s.BuyerCookie, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get punchout session: %w", err)
	}
	return &s, nil
}
