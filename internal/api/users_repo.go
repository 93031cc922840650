package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pawmatch/pkg/models"
)

// UsersRepo handles database operations for adopter accounts
type UsersRepo struct {
	db *sql.DB
}

// NewUsersRepo creates a new users repository
func NewUsersRepo(db *sql.DB) *UsersRepo {
	return &UsersRepo{db: db}
}

const userColumns = `id, name, email, password_hash, birthdate, region, profile_image, preferences, lifestyle, is_active, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Birthdate,
		&user.Region,
		&user.ProfileImage,
		&user.Preferences,
		&user.Lifestyle,
		&user.IsActive,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create inserts a new user account
func (r *UsersRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO public.users (name, email, password_hash, birthdate, region)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_active, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Birthdate,
		user.Region,
	).Scan(&user.ID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailInUse
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by primary id
func (r *UsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM public.users WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// List returns active user accounts, newest first
func (r *UsersRepo) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM public.users WHERE is_active = true ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// GetByEmail retrieves a user by normalized email
func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM public.users WHERE email = $1`, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// Exists reports whether a user id refers to an active account. The
// identity resolver uses this for the X-User-Id fallback path.
func (r *UsersRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM public.users WHERE id = $1 AND is_active = true)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// GetName returns a user's display name, used when resolving userName on
// shelter-facing conversation lists
func (r *UsersRepo) GetName(ctx context.Context, id int64) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM public.users WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user name: %w", err)
	}
	return name, nil
}

// TouchLastLogin records a successful login
func (r *UsersRepo) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE public.users SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UserPatch holds the optional fields of a profile update
type UserPatch struct {
	Name         *string
	Region       *string
	ProfileImage *string
}

// UpdateProfile applies a partial profile update
func (r *UsersRepo) UpdateProfile(ctx context.Context, id int64, patch UserPatch) (*models.User, error) {
	query := `
		UPDATE public.users
		SET name = COALESCE($2, name),
		    region = COALESCE($3, region),
		    profile_image = COALESCE($4, profile_image),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, patch.Name, patch.Region, patch.ProfileImage))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return user, nil
}

// UpdatePreferences replaces the adoption preferences JSON blob
func (r *UsersRepo) UpdatePreferences(ctx context.Context, id int64, preferences string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE public.users SET preferences = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, id, preferences))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user preferences: %w", err)
	}
	return user, nil
}

// UpdateLifestyle replaces the home/lifestyle JSON blob
func (r *UsersRepo) UpdateLifestyle(ctx context.Context, id int64, lifestyle string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE public.users SET lifestyle = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, id, lifestyle))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user lifestyle: %w", err)
	}
	return user, nil
}
