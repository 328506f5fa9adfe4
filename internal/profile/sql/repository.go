package profilesql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkcm/auth-gateway/internal/profile"
	"github.com/openkcm/auth-gateway/internal/serviceerr"
)

type Repository struct {
	db *pgxpool.Pool
}

var _ = profile.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Get(ctx context.Context, userID string) (profile.Profile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, email, display_name, given_name, family_name, username, external_contact_id, created_at, updated_at
			 FROM user_profiles WHERE user_id = $1;`, userID)

	var p profile.Profile
	err := row.Scan(&p.UserID, &p.Email, &p.DisplayName, &p.GivenName, &p.FamilyName, &p.Username,
		&p.ExternalContactID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, serviceerr.ErrNotFound
		}

		return profile.Profile{}, fmt.Errorf("scanning rows: %w", err)
	}

	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	return p, nil
}

func (r *Repository) PutIfAbsent(ctx context.Context, p profile.Profile) error {
	ct, err := r.db.Exec(ctx,
		`INSERT INTO user_profiles (user_id, email, display_name, given_name, family_name, username, external_contact_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (user_id) DO NOTHING;`,
		p.UserID, p.Email, p.DisplayName, p.GivenName, p.FamilyName, p.Username, p.ExternalContactID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into user_profiles: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrConflict
	}

	return nil
}

// Update merges the set fields in one statement. created_at can only
// move earlier and updated_at only later.
func (r *Repository) Update(ctx context.Context, userID string, f profile.Fields) error {
	ct, err := r.db.Exec(ctx,
		`UPDATE user_profiles
			 SET email = COALESCE($2, email),
			     display_name = COALESCE($3, display_name),
			     given_name = COALESCE($4, given_name),
			     family_name = COALESCE($5, family_name),
			     username = COALESCE($6, username),
			     external_contact_id = COALESCE($7, external_contact_id),
			     created_at = LEAST(created_at, COALESCE($8, created_at)),
			     updated_at = GREATEST(updated_at, COALESCE($9, updated_at))
			 WHERE user_id = $1;`,
		userID, f.Email, f.DisplayName, f.GivenName, f.FamilyName, f.Username, f.ExternalContactID, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating user_profiles: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}
