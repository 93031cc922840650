package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pawmatch/pkg/models"
)

// AnimalsRepo handles database operations for animal listings
type AnimalsRepo struct {
	db *sql.DB
}

// NewAnimalsRepo creates a new animals repository
func NewAnimalsRepo(db *sql.DB) *AnimalsRepo {
	return &AnimalsRepo{db: db}
}

const animalColumns = `id, shelter_id, name, birthdate, photo, description, status, attributes, created_at, updated_at`

func scanAnimal(row interface{ Scan(...interface{}) error }) (*models.Animal, error) {
	animal := &models.Animal{}
	err := row.Scan(
		&animal.ID,
		&animal.ShelterID,
		&animal.Name,
		&animal.Birthdate,
		&animal.Photo,
		&animal.Description,
		&animal.Status,
		&animal.Attributes,
		&animal.CreatedAt,
		&animal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return animal, nil
}

// Create inserts a new animal listing
func (r *AnimalsRepo) Create(ctx context.Context, animal *models.Animal) error {
	if animal.Status == "" {
		animal.Status = models.AnimalStatusAvailable
	}

	query := `
		INSERT INTO public.animals (shelter_id, name, birthdate, photo, description, status, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		animal.ShelterID,
		animal.Name,
		animal.Birthdate,
		animal.Photo,
		animal.Description,
		animal.Status,
		animal.Attributes,
	).Scan(&animal.ID, &animal.CreatedAt, &animal.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert animal: %w", err)
	}

	return nil
}

// GetByID retrieves a single animal
func (r *AnimalsRepo) GetByID(ctx context.Context, id int64) (*models.Animal, error) {
	query := `SELECT ` + animalColumns + ` FROM public.animals WHERE id = $1`

	animal, err := scanAnimal(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAnimalNotFound
		}
		return nil, fmt.Errorf("failed to get animal: %w", err)
	}

	return animal, nil
}

// GetSnapshot retrieves the denormalized subset of an animal that gets
// copied onto conversations: name, photo, and owning shelter
func (r *AnimalsRepo) GetSnapshot(ctx context.Context, id int64) (*models.AnimalSnapshot, error) {
	query := `SELECT id, name, photo, shelter_id FROM public.animals WHERE id = $1`

	snap := &models.AnimalSnapshot{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&snap.ID, &snap.Name, &snap.Photo, &snap.ShelterID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAnimalNotFound
		}
		return nil, fmt.Errorf("failed to get animal snapshot: %w", err)
	}

	return snap, nil
}

// ListFilter narrows the animal listing
type ListFilter struct {
	ShelterID *int64
	Status    string
	Limit     int
}

// List retrieves animal listings, newest first
func (r *AnimalsRepo) List(ctx context.Context, filter ListFilter) ([]*models.Animal, error) {
	query := `SELECT ` + animalColumns + ` FROM public.animals WHERE 1=1`
	var args []interface{}
	argCount := 0

	if filter.ShelterID != nil {
		argCount++
		query += fmt.Sprintf(" AND shelter_id = $%d", argCount)
		args = append(args, *filter.ShelterID)
	}

	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"

	limit := 100 // default
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	if limit > 500 {
		limit = 500 // max limit
	}
	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query animals: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	animals := make([]*models.Animal, 0)
	for rows.Next() {
		animal, err := scanAnimal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan animal: %w", err)
		}
		animals = append(animals, animal)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating animals: %w", err)
	}

	return animals, nil
}

// AnimalPatch holds the optional fields of a partial update; nil fields
// are left untouched
type AnimalPatch struct {
	Name        *string
	Photo       *string
	Description *string
	Status      *string
	Attributes  *string
}

// Update applies a partial update scoped to the owning shelter
func (r *AnimalsRepo) Update(ctx context.Context, id, shelterID int64, patch AnimalPatch) (*models.Animal, error) {
	query := `
		UPDATE public.animals
		SET name = COALESCE($3, name),
		    photo = COALESCE($4, photo),
		    description = COALESCE($5, description),
		    status = COALESCE($6, status),
		    attributes = COALESCE($7, attributes),
		    updated_at = NOW()
		WHERE id = $1 AND shelter_id = $2
		RETURNING ` + animalColumns

	animal, err := scanAnimal(r.db.QueryRowContext(
		ctx, query,
		id, shelterID,
		patch.Name, patch.Photo, patch.Description, patch.Status, patch.Attributes,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAnimalNotFound
		}
		return nil, fmt.Errorf("failed to update animal: %w", err)
	}

	return animal, nil
}

// Delete removes an animal listing, scoped to the owning shelter
func (r *AnimalsRepo) Delete(ctx context.Context, id, shelterID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM public.animals WHERE id = $1 AND shelter_id = $2`, id, shelterID)
	if err != nil {
		return fmt.Errorf("failed to delete animal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAnimalNotFound
	}

	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
