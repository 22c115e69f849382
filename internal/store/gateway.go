package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/linkup-app/linkup/internal/replication"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrPersistence indicates the backend write for a connection record
// failed. The caller surfaces it to the user; already-computed session data
// (transcript, draft) is preserved for retry.
var ErrPersistence = errors.New("store: connection write failed")

// Backend is the persistence call the gateway forwards records to.
// Satisfied by (*remote.Client).CreateConnection.
type Backend func(ctx context.Context, rec models.ConnectionRecord) (models.ConnectionRecord, error)

// Gateway commits new connection records: backend write first, then
// publication on the replication channel. Commit succeeds once the backend
// acknowledges; replication delivery is fire-and-forget.
type Gateway struct {
	backend Backend
	channel replication.Channel
}

// NewGateway creates a gateway over the backend call and channel. channel
// may be nil when replication is disabled.
func NewGateway(backend Backend, channel replication.Channel) *Gateway {
	return &Gateway{backend: backend, channel: channel}
}

// Commit assigns a locally generated identifier if the record has none,
// persists the record, and publishes it under the connections namespace.
// The returned record is the stored copy; it must not be mutated afterwards.
func (g *Gateway) Commit(ctx context.Context, rec models.ConnectionRecord) (models.ConnectionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	stored, err := g.backend(ctx, rec)
	if err != nil {
		return models.ConnectionRecord{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if stored.ID == "" {
		stored.ID = rec.ID
	}

	g.publish(ctx, stored)
	log.Info().Str("id", stored.ID).Str("contact", stored.ContactName).
		Msg("Connection committed")
	return stored, nil
}

// publish is best-effort: a replication failure never fails a commit that
// the backend already acknowledged.
func (g *Gateway) publish(ctx context.Context, rec models.ConnectionRecord) {
	if g.channel == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Connection record not publishable")
		return
	}
	if err := g.channel.Put(ctx, replication.NamespaceConnections, rec.ID, payload); err != nil {
		log.Warn().Err(err).Str("id", rec.ID).
			Msg("Replication publish failed, record is durable but not propagated")
	}
}

// PublishEvent replicates an event context under the events namespace,
// keyed by event name.
func PublishEvent(ctx context.Context, ch replication.Channel, event models.EventContext) error {
	if ch == nil || event.Name == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return ch.Put(ctx, replication.NamespaceEvents, event.Name, payload)
}

// PublishProfile replicates a user profile under the profiles namespace,
// keyed by profile id.
func PublishProfile(ctx context.Context, ch replication.Channel, profile models.UserProfile) error {
	if ch == nil || profile.ID == "" {
		return nil
	}
	payload, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return ch.Put(ctx, replication.NamespaceProfiles, profile.ID, payload)
}
