package backend

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/linkup-app/linkup/pkg/models"
)

// ConnectionDBStore provides connection database operations.
type ConnectionDBStore struct {
	store *Store
}

// NewConnectionDBStore creates a connection store over the backend database.
func NewConnectionDBStore(store *Store) *ConnectionDBStore {
	return &ConnectionDBStore{store: store}
}

// Create inserts the record, generating an identifier and timestamp when
// the caller supplied none.
func (c *ConnectionDBStore) Create(ctx context.Context, rec models.ConnectionRecord) (models.ConnectionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var lat, lon sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Location.Lng, Valid: true}
	}

	const query = `
		INSERT INTO connections
		(id, user_id, contact_name, contact_linkedin, contact_email, contact_title,
		 contact_company, event_name, event_type, person_category, voice_transcript,
		 notes, ai_message, recording_mode, latitude, longitude, connection_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.store.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.ContactName, rec.ContactLinkedIn, rec.ContactEmail,
		rec.ContactTitle, rec.ContactCompany, rec.EventName, rec.EventType,
		rec.PersonCategory, rec.VoiceTranscript, rec.Notes, rec.AIMessage,
		string(rec.RecordingMode), lat, lon, rec.ConnectionSent,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.ConnectionRecord{}, err
	}
	return rec, nil
}

// Get returns the connection with the given identifier, or nil when absent.
func (c *ConnectionDBStore) Get(ctx context.Context, id string) (*models.ConnectionRecord, error) {
	rows, err := c.store.QueryContext(ctx, selectConnections+` WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanConnection(rows)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByUser returns all connections captured by the user, newest first.
func (c *ConnectionDBStore) ListByUser(ctx context.Context, userID string) ([]models.ConnectionRecord, error) {
	rows, err := c.store.QueryContext(ctx,
		selectConnections+` WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ConnectionUpdates are the caller-mutable fields of a stored connection.
// Nil pointers leave the column untouched.
type ConnectionUpdates struct {
	Notes          *string `json:"notes,omitempty"`
	AIMessage      *string `json:"ai_message,omitempty"`
	ConnectionSent *bool   `json:"connection_sent,omitempty"`
}

// Update applies partial updates. Returns false when no such connection
// exists.
func (c *ConnectionDBStore) Update(ctx context.Context, id string, updates ConnectionUpdates) (bool, error) {
	existing, err := c.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	if updates.Notes != nil {
		existing.Notes = *updates.Notes
	}
	if updates.AIMessage != nil {
		existing.AIMessage = *updates.AIMessage
	}
	if updates.ConnectionSent != nil {
		existing.ConnectionSent = *updates.ConnectionSent
	}

	const query = `
		UPDATE connections
		SET notes = ?, ai_message = ?, connection_sent = ?
		WHERE id = ?
	`
	_, err = c.store.ExecContext(ctx, query,
		existing.Notes, existing.AIMessage, existing.ConnectionSent, id)
	return err == nil, err
}

const selectConnections = `
	SELECT id, user_id, contact_name, contact_linkedin, contact_email, contact_title,
	       contact_company, event_name, event_type, person_category, voice_transcript,
	       notes, ai_message, recording_mode, latitude, longitude, connection_sent, created_at
	FROM connections`

func scanConnection(rows *sql.Rows) (*models.ConnectionRecord, error) {
	var rec models.ConnectionRecord
	var mode, createdAt string
	var lat, lon sql.NullFloat64

	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ContactName, &rec.ContactLinkedIn,
		&rec.ContactEmail, &rec.ContactTitle, &rec.ContactCompany, &rec.EventName,
		&rec.EventType, &rec.PersonCategory, &rec.VoiceTranscript, &rec.Notes,
		&rec.AIMessage, &mode, &lat, &lon, &rec.ConnectionSent, &createdAt); err != nil {
		return nil, err
	}

	rec.RecordingMode = models.RecordingMode(mode)
	if lat.Valid && lon.Valid {
		rec.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lon.Float64}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}
