package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"eurobansync/api/internal/apperr"
)

const profileColumns = `id, full_name, email, COALESCE(avatar_url, ''), COALESCE(password_hash, ''), created_at, updated_at`

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.AvatarURL, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// EnsureProfile upserts the profile of an identity-provider user. A blank
// full name never overwrites a stored one.
func (s *PostgresStore) EnsureProfile(ctx context.Context, p Profile) (Profile, error) {
	profile, err := scanProfile(s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, full_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = CASE WHEN EXCLUDED.full_name <> '' THEN EXCLUDED.full_name ELSE profiles.full_name END,
			updated_at = NOW()
		RETURNING `+profileColumns,
		p.ID, strings.ToLower(strings.TrimSpace(p.Email)), strings.TrimSpace(p.FullName)))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Profile{}, apperr.Conflict("EMAIL_TAKEN", "email belongs to another profile")
		}
		return Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	profile, err := scanProfile(s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (email, full_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+profileColumns,
		strings.ToLower(strings.TrimSpace(p.Email)), strings.TrimSpace(p.FullName), nullString(p.PasswordHash)))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Profile{}, apperr.Conflict("EMAIL_TAKEN", "an account with this email already exists")
		}
		return Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// AssignRole grants role to the user; granting a held role is a no-op.
func (s *PostgresStore) AssignRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return sql.ErrNoRows
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func userIDsWithRoleTx(ctx context.Context, tx *sql.Tx, role string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM user_roles WHERE role = $1 ORDER BY created_at ASC`, role)
	if err != nil {
		return nil, fmt.Errorf("list users with role: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users with role: %w", err)
	}
	return ids, nil
}
