// Package localstore is the opaque key/value persistence on the device. It
// retains the cached user profile, the current event, and an optional
// external-network auth token across process restarts. Reads are served
// from an in-memory cache loaded at open; a file watcher reloads the cache
// when the database file is replaced on disk (device sync tools do this).
package localstore

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Well-known keys.
const (
	KeyUserProfile  = "userProfile"
	KeyCurrentEvent = "currentEvent"
	KeyAuthToken    = "authToken"
)

// ErrNotFound is returned for keys with no stored value.
var ErrNotFound = errors.New("localstore: not found")

// Store is the device-local key/value store.
type Store struct {
	db     *sql.DB
	path   string
	secret []byte

	mu      sync.RWMutex
	cache   map[string][]byte
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open opens (creating if needed) the store at path. deviceSecret seals
// sensitive values at rest; it must be stable for the device's lifetime.
func Open(path string, deviceSecret []byte) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		path:   path,
		secret: deviceSecret,
		cache:  make(map[string][]byte),
		done:   make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Watch starts reloading the cache whenever the database file is recreated
// or rewritten externally. Optional; Close stops it.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.reload(); err != nil {
						log.Warn().Err(err).Msg("Local store reload failed")
					} else {
						log.Debug().Str("path", s.path).Msg("Local store reloaded after external change")
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Local store watcher error")
			}
		}
	}()
	return nil
}

// reload replaces the cache from the database.
func (s *Store) reload() error {
	rows, err := s.db.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return err
	}
	defer rows.Close()

	fresh := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		fresh[key] = value
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = fresh
	s.mu.Unlock()
	return nil
}

// get returns the raw cached value for key.
func (s *Store) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// put writes through to the database and the cache.
func (s *Store) put(key string, value []byte) error {
	const query = `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

// Profile returns the cached user profile, or ErrNotFound.
func (s *Store) Profile() (models.UserProfile, error) {
	var p models.UserProfile
	data, err := s.get(KeyUserProfile)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(data, &p)
	return p, err
}

// SetProfile caches the user profile.
func (s *Store) SetProfile(p models.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.put(KeyUserProfile, data)
}

// Event returns the cached current event, or ErrNotFound.
func (s *Store) Event() (models.EventContext, error) {
	var e models.EventContext
	data, err := s.get(KeyCurrentEvent)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(data, &e)
	return e, err
}

// SetEvent caches the current event.
func (s *Store) SetEvent(e models.EventContext) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.put(KeyCurrentEvent, data)
}

// AuthToken returns the external-network auth token, unsealed.
func (s *Store) AuthToken() (string, error) {
	sealed, err := s.get(KeyAuthToken)
	if err != nil {
		return "", err
	}
	plaintext, err := open(s.secret, sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SetAuthToken seals and stores the external-network auth token.
func (s *Store) SetAuthToken(token string) error {
	sealed, err := seal(s.secret, []byte(token))
	if err != nil {
		return err
	}
	return s.put(KeyAuthToken, sealed)
}

// Close stops the watcher and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	return s.db.Close()
}
