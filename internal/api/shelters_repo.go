package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pawmatch/pkg/models"
)

// SheltersRepo handles database operations for shelter accounts
type SheltersRepo struct {
	db *sql.DB
}

// NewSheltersRepo creates a new shelters repository
func NewSheltersRepo(db *sql.DB) *SheltersRepo {
	return &SheltersRepo{db: db}
}

const shelterColumns = `id, name, email, password_hash, address, phone, region, capacity, opening_hours, contact_person, profile_image, is_active, created_at, updated_at, last_login_at`

func scanShelter(row interface{ Scan(...interface{}) error }) (*models.Shelter, error) {
	s := &models.Shelter{}
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Email,
		&s.PasswordHash,
		&s.Address,
		&s.Phone,
		&s.Region,
		&s.Capacity,
		&s.OpeningHours,
		&s.ContactPerson,
		&s.ProfileImage,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new shelter account
func (r *SheltersRepo) Create(ctx context.Context, shelter *models.Shelter) error {
	query := `
		INSERT INTO public.shelters (name, email, password_hash, address, phone, region, capacity, opening_hours, contact_person)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, is_active, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		shelter.Name,
		shelter.Email,
		shelter.PasswordHash,
		shelter.Address,
		shelter.Phone,
		shelter.Region,
		shelter.Capacity,
		shelter.OpeningHours,
		shelter.ContactPerson,
	).Scan(&shelter.ID, &shelter.IsActive, &shelter.CreatedAt, &shelter.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailInUse
		}
		return fmt.Errorf("failed to insert shelter: %w", err)
	}

	return nil
}

// GetByID retrieves a shelter by primary id
func (r *SheltersRepo) GetByID(ctx context.Context, id int64) (*models.Shelter, error) {
	shelter, err := scanShelter(r.db.QueryRowContext(ctx,
		`SELECT `+shelterColumns+` FROM public.shelters WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrShelterNotFound
		}
		return nil, fmt.Errorf("failed to get shelter: %w", err)
	}
	return shelter, nil
}

// GetByEmail retrieves a shelter by normalized email
func (r *SheltersRepo) GetByEmail(ctx context.Context, email string) (*models.Shelter, error) {
	shelter, err := scanShelter(r.db.QueryRowContext(ctx,
		`SELECT `+shelterColumns+` FROM public.shelters WHERE email = $1`, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrShelterNotFound
		}
		return nil, fmt.Errorf("failed to get shelter by email: %w", err)
	}
	return shelter, nil
}

// GetName returns a shelter's display name; the auto-message trigger uses
// it to attribute the opening message
func (r *SheltersRepo) GetName(ctx context.Context, id int64) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM public.shelters WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrShelterNotFound
		}
		return "", fmt.Errorf("failed to get shelter name: %w", err)
	}
	return name, nil
}

// List retrieves all active shelters
func (r *SheltersRepo) List(ctx context.Context) ([]*models.Shelter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+shelterColumns+` FROM public.shelters WHERE is_active = true ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shelters: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	shelters := make([]*models.Shelter, 0)
	for rows.Next() {
		shelter, err := scanShelter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shelter: %w", err)
		}
		shelters = append(shelters, shelter)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shelters: %w", err)
	}

	return shelters, nil
}

// TouchLastLogin records a successful login
func (r *SheltersRepo) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE public.shelters SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update shelter last login: %w", err)
	}
	return nil
}

// ShelterPatch holds the optional fields of a partial update
type ShelterPatch struct {
	Name          *string
	Address       *string
	Phone         *string
	Region        *string
	Capacity      *int
	OpeningHours  *string
	ContactPerson *string
	ProfileImage  *string
}

// Update applies a partial update to a shelter's own record
func (r *SheltersRepo) Update(ctx context.Context, id int64, patch ShelterPatch) (*models.Shelter, error) {
	query := `
		UPDATE public.shelters
		SET name = COALESCE($2, name),
		    address = COALESCE($3, address),
		    phone = COALESCE($4, phone),
		    region = COALESCE($5, region),
		    capacity = COALESCE($6, capacity),
		    opening_hours = COALESCE($7, opening_hours),
		    contact_person = COALESCE($8, contact_person),
		    profile_image = COALESCE($9, profile_image),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + shelterColumns

	shelter, err := scanShelter(r.db.QueryRowContext(
		ctx, query,
		id,
		patch.Name, patch.Address, patch.Phone, patch.Region,
		patch.Capacity, patch.OpeningHours, patch.ContactPerson, patch.ProfileImage,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrShelterNotFound
		}
		return nil, fmt.Errorf("failed to update shelter: %w", err)
	}

	return shelter, nil
}
