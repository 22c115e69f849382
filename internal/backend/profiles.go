package backend

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/linkup-app/linkup/pkg/models"
)

// ProfileStore provides profile database operations.
type ProfileStore struct {
	store *Store
}

// NewProfileStore creates a profile store over the backend database.
func NewProfileStore(store *Store) *ProfileStore {
	return &ProfileStore{store: store}
}

// Create inserts a new profile with a generated identifier.
func (p *ProfileStore) Create(ctx context.Context, req models.CreateUserProfile) (models.UserProfile, error) {
	profile := models.UserProfile{
		ID:          uuid.NewString(),
		Name:        req.Name,
		LinkedInURL: req.LinkedInURL,
		Email:       req.Email,
		Title:       req.Title,
		Company:     req.Company,
		CreatedAt:   time.Now().UTC(),
	}

	const query = `
		INSERT INTO profiles (id, name, linkedin_url, email, title, company, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := p.store.ExecContext(ctx, query,
		profile.ID, profile.Name, profile.LinkedInURL, profile.Email,
		profile.Title, profile.Company, profile.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.UserProfile{}, err
	}
	return profile, nil
}

// Get returns the profile with the given identifier, or nil when absent.
func (p *ProfileStore) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	const query = `
		SELECT id, name, linkedin_url, email, title, company, created_at
		FROM profiles
		WHERE id = ?
		LIMIT 1
	`
	profile, err := scanProfile(p.store.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// List returns all profiles, newest first.
func (p *ProfileStore) List(ctx context.Context) ([]models.UserProfile, error) {
	const query = `
		SELECT id, name, linkedin_url, email, title, company, created_at
		FROM profiles
		ORDER BY created_at DESC
	`
	rows, err := p.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *profile)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*models.UserProfile, error) {
	var profile models.UserProfile
	var createdAt string
	if err := row.Scan(&profile.ID, &profile.Name, &profile.LinkedInURL,
		&profile.Email, &profile.Title, &profile.Company, &createdAt); err != nil {
		return nil, err
	}
	profile.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &profile, nil
}
