// Package store holds the in-memory connection collection for the current
// user and the gateway that makes new records durable.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/internal/metrics"
	"github.com/linkup-app/linkup/internal/replication"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// ConnectionStore merges locally committed records with records arriving
// from the replication channel. Last write wins per identifier; there is no
// conflict resolution beyond identifier equality.
type ConnectionStore struct {
	mu      sync.RWMutex
	byID    map[string]models.ConnectionRecord
	onMerge func(models.ConnectionRecord)
	metrics *metrics.Engine
}

// NewConnectionStore creates an empty store. metrics may be nil.
func NewConnectionStore(m *metrics.Engine) *ConnectionStore {
	return &ConnectionStore{
		byID:    make(map[string]models.ConnectionRecord),
		metrics: m,
	}
}

// SetOnMerge registers an observer invoked after each merge (local or
// replicated). Used to push store changes to UI clients.
func (s *ConnectionStore) SetOnMerge(fn func(models.ConnectionRecord)) {
	s.mu.Lock()
	s.onMerge = fn
	s.mu.Unlock()
}

// Merge inserts the record, replacing any existing entry with the same
// identifier.
func (s *ConnectionStore) Merge(rec models.ConnectionRecord) {
	if rec.ID == "" {
		return
	}
	s.mu.Lock()
	s.byID[rec.ID] = rec
	fn := s.onMerge
	s.mu.Unlock()

	if fn != nil {
		fn(rec)
	}
}

// Get returns the record with the given identifier.
func (s *ConnectionStore) Get(id string) (models.ConnectionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	return rec, ok
}

// List returns all records, newest first.
func (s *ConnectionStore) List() []models.ConnectionRecord {
	s.mu.RLock()
	out := make([]models.ConnectionRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of records held.
func (s *ConnectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Attach subscribes the store to the connections namespace so records from
// other devices (and this one's own publishes) flow into the collection.
// Returns the subscription cancel func.
func (s *ConnectionStore) Attach(ch replication.Channel) (func(), error) {
	return ch.Subscribe(replication.NamespaceConnections, func(key string, value []byte) {
		var rec models.ConnectionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Undecodable replicated connection dropped")
			return
		}
		if rec.ID == "" {
			rec.ID = key
		}
		s.Merge(rec)
		if s.metrics != nil {
			s.metrics.ReplicationMerge(context.Background(), replication.NamespaceConnections)
		}
		log.Debug().Str("id", rec.ID).Msg("Connection merged from replication")
	})
}
