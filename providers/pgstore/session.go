package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	stepauth "github.com/stepauth-dev/stepauth"
)

// CreateSession inserts a new durable session row.
func (s *Store) CreateSession(ctx context.Context, row stepauth.DurableSession) error {
	query := `INSERT INTO sessions (primary_id, secondary_id, account_id, kind, created_at)
	 VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		row.PrimaryID, row.SecondaryID, row.AccountID, int16(row.Kind), row.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// GetSession loads one session row, revoked or not.
func (s *Store) GetSession(ctx context.Context, primaryID string) (*stepauth.DurableSession, error) {
	query := `SELECT primary_id, secondary_id, account_id, kind, created_at, revoked_at
	 FROM sessions WHERE primary_id = $1`

	var (
		row  stepauth.DurableSession
		kind int16
	)
	err := s.db.QueryRowContext(ctx, query, primaryID).Scan(
		&row.PrimaryID, &row.SecondaryID, &row.AccountID, &kind, &row.CreatedAt, &row.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stepauth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	row.Kind = stepauth.SessionKind(kind)
	return &row, nil
}

// UpdateSessionToken records a secondary-id rotation on an active session.
func (s *Store) UpdateSessionToken(ctx context.Context, primaryID, secondaryID string) error {
	query := `UPDATE sessions SET secondary_id = $2 WHERE primary_id = $1 AND revoked_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, primaryID, secondaryID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return stepauth.ErrSessionNotFound
	}

	return nil
}

// MarkRevoked stamps one session revoked. Already-revoked rows keep their
// original timestamp.
func (s *Store) MarkRevoked(ctx context.Context, primaryID string) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE primary_id = $1 AND revoked_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, primaryID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// MarkAllRevoked stamps every active session of the account and reports how
// many rows it touched.
func (s *Store) MarkAllRevoked(ctx context.Context, accountID string) (int, error) {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE account_id = $1 AND revoked_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return int(n), nil
}
