package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	stepauth "github.com/stepauth-dev/stepauth"
)

const accountColumns = `id, email, phone, password_hash, email_verified, phone_verified,
	 totp_key, mfa_email_enabled, mfa_sms_enabled, mfa_whatsapp_enabled, mfa_app_enabled`

// GetAccount loads one account by id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*stepauth.AccountRecord, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, accountID))
}

// GetAccountByEmail loads one account by its unique email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*stepauth.AccountRecord, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) scanAccount(row *sql.Row) (*stepauth.AccountRecord, error) {
	var rec stepauth.AccountRecord
	err := row.Scan(
		&rec.ID, &rec.Email, &rec.Phone, &rec.PasswordHash,
		&rec.EmailVerified, &rec.PhoneVerified, &rec.TOTPKey,
		&rec.MFAEmailEnabled, &rec.MFASMSEnabled, &rec.MFAWhatsAppEnabled, &rec.MFAAppEnabled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stepauth.ErrAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return &rec, nil
}

// EnableTOTP stores the authenticator key material and flips the app-MFA
// flag in one statement.
func (s *Store) EnableTOTP(ctx context.Context, accountID string, key []byte) error {
	query := `UPDATE accounts SET totp_key = $2, mfa_app_enabled = TRUE WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, accountID, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return requireRow(res)
}

// DisableTOTP drops the key material and clears the app-MFA flag.
func (s *Store) DisableTOTP(ctx context.Context, accountID string) error {
	query := `UPDATE accounts SET totp_key = NULL, mfa_app_enabled = FALSE WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return requireRow(res)
}

// NewAccountParams describes a provisioning request. Zero-value flags give
// an unverified account with no second factor.
type NewAccountParams struct {
	Email         string
	Phone         string
	PasswordHash  string
	EmailVerified bool
	PhoneVerified bool
}

// CreateAccount provisions a new account row and returns it. Callers hash
// the password themselves; this layer never sees plaintext.
func (s *Store) CreateAccount(ctx context.Context, params NewAccountParams) (*stepauth.AccountRecord, error) {
	rec := &stepauth.AccountRecord{
		ID:            uuid.NewString(),
		Email:         params.Email,
		Phone:         params.Phone,
		PasswordHash:  params.PasswordHash,
		EmailVerified: params.EmailVerified,
		PhoneVerified: params.PhoneVerified,
	}

	query := `INSERT INTO accounts (id, email, phone, password_hash, email_verified, phone_verified)
	 VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Email, rec.Phone, rec.PasswordHash, rec.EmailVerified, rec.PhoneVerified)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rec, nil
}

// SetMFAMethod toggles one of the email, sms, or whatsapp second-factor
// flags. Authenticator enrollment goes through EnableTOTP instead.
func (s *Store) SetMFAMethod(ctx context.Context, accountID string, method stepauth.MFAMethod, enabled bool) error {
	var column string
	switch method {
	case stepauth.MFAEmail:
		column = "mfa_email_enabled"
	case stepauth.MFASMS:
		column = "mfa_sms_enabled"
	case stepauth.MFAWhatsApp:
		column = "mfa_whatsapp_enabled"
	default:
		return fmt.Errorf("method %q is not flag-toggled", method)
	}

	query := `UPDATE accounts SET ` + column + ` = $2 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, accountID, enabled)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return stepauth.ErrAccountNotFound
	}
	return nil
}
