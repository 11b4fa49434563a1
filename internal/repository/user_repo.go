package repository

import (
	"context"

	"github.com/avetikov/ProLinkBack/internal/models"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, role, display_name, avatar_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	query := `
		SELECT id, display_name, avatar_url, role
		FROM users
		WHERE id = $1
	`
	var profile models.Profile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.DisplayName,
		&profile.AvatarURL,
		&profile.Role,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *UserRepository) BatchGetProfiles(ctx context.Context, ids []int64) (map[int64]models.Profile, error) {
	profiles := make(map[int64]models.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	query := `
		SELECT id, display_name, avatar_url, role
		FROM users
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var profile models.Profile
		if err := rows.Scan(
			&profile.ID,
			&profile.DisplayName,
			&profile.AvatarURL,
			&profile.Role,
		); err != nil {
			return nil, err
		}
		profiles[profile.ID] = profile
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}
