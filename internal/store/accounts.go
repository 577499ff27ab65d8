package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/sentinel/internal/model"
)

const accountColumns = `username, contact_id, facility_id, roles, phone, fullname,
	password_hash, token_login_active, token_id, token_expires_at, created_at, updated_at`

// InsertAccount creates a new account.
// Returns ErrUsernameTaken if the username is already in use; the check
// happens inside the insert so concurrent creators cannot both win.
func (s *Store) InsertAccount(ctx context.Context, a model.Account) error {
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := marshalJSON(roles)
	if err != nil {
		return fmt.Errorf("insert account %s: marshal roles: %w", a.Username, err)
	}

	tl := a.TokenLogin
	if tl == nil {
		tl = &model.TokenLogin{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.Username,
		a.ContactID,
		a.FacilityID,
		rolesJSON,
		a.Phone,
		a.FullName,
		a.PasswordHash,
		boolToInt(tl.Active),
		tl.TokenID,
		formatTime(tl.ExpiresAt),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert account %s: %w", a.Username, ErrUsernameTaken)
	}
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.Username, err)
	}
	return nil
}

// GetAccount returns the account with the given username.
func (s *Store) GetAccount(ctx context.Context, username string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE username = ?
	`, username)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("account %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", username, err)
	}
	return a, nil
}

// AccountExists reports whether username is taken.
func (s *Store) AccountExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE username = ?
	`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("account exists %s: %w", username, err)
	}
	return n > 0, nil
}

// AccountsByContact returns every account linked to contactID ordered by
// username.
func (s *Store) AccountsByContact(ctx context.Context, contactID string) ([]model.Account, error) {
	return s.queryAccounts(ctx, `
		SELECT `+accountColumns+` FROM users
		WHERE contact_id = ?
		ORDER BY username ASC
	`, contactID)
}

// ListAccounts returns all accounts ordered by username.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.queryAccounts(ctx, `
		SELECT `+accountColumns+` FROM users ORDER BY username ASC
	`)
}

// UpdatePasswordHash replaces an account's password hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, username, hash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?
	`, hash, formatTime(now), username)
	if err != nil {
		return fmt.Errorf("update password %s: %w", username, err)
	}
	return requireOneRow(res, "account "+username)
}

// UpdateTokenLogin replaces an account's token-login state.
func (s *Store) UpdateTokenLogin(ctx context.Context, username string, tl model.TokenLogin, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET token_login_active = ?, token_id = ?, token_expires_at = ?, updated_at = ?
		WHERE username = ?
	`, boolToInt(tl.Active), tl.TokenID, formatTime(tl.ExpiresAt), formatTime(now), username)
	if err != nil {
		return fmt.Errorf("update token login %s: %w", username, err)
	}
	return requireOneRow(res, "account "+username)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var a model.Account
	var rolesJSON, tokenExpires, createdAt, updatedAt string
	var tl model.TokenLogin

	if err := row.Scan(
		&a.Username,
		&a.ContactID,
		&a.FacilityID,
		&rolesJSON,
		&a.Phone,
		&a.FullName,
		&a.PasswordHash,
		&tl.Active,
		&tl.TokenID,
		&tokenExpires,
		&createdAt,
		&updatedAt,
	); err != nil {
		return model.Account{}, err
	}

	if err := unmarshalJSON(rolesJSON, &a.Roles); err != nil {
		return model.Account{}, fmt.Errorf("unmarshal roles: %w", err)
	}

	var err error
	if tl.ExpiresAt, err = parseTime(tokenExpires); err != nil {
		return model.Account{}, err
	}
	if tl.Active || tl.TokenID != "" {
		a.TokenLogin = &tl
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Account{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Account{}, err
	}
	return a, nil
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
