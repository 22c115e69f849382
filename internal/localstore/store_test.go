package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/linkup-app/linkup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreSuite exercises the device store against a temp database.
type StoreSuite struct {
	suite.Suite
	path  string
	store *Store
}

func (s *StoreSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "linkup.db")
	var err error
	s.store, err = Open(s.path, []byte("device-secret"))
	s.Require().NoError(err)
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

// TestMissingKeys tests ErrNotFound on a fresh store.
func (s *StoreSuite) TestMissingKeys() {
	_, err := s.store.Profile()
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.Event()
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.AuthToken()
	s.ErrorIs(err, ErrNotFound)
}

// TestProfileRoundTrip tests profile persistence.
func (s *StoreSuite) TestProfileRoundTrip() {
	p := models.UserProfile{
		ID:      "u-1",
		Name:    "Al",
		Email:   "al@example.com",
		Company: "Widgets Inc",
	}
	s.Require().NoError(s.store.SetProfile(p))

	got, err := s.store.Profile()
	s.Require().NoError(err)
	s.Equal(p.ID, got.ID)
	s.Equal(p.Name, got.Name)
	s.Equal(p.Email, got.Email)
}

// TestEventRoundTrip tests event persistence including location.
func (s *StoreSuite) TestEventRoundTrip() {
	e := models.EventContext{
		Name:      "GopherCon 2026",
		Location:  &models.GeoPoint{Lat: 52.37, Lng: 4.9},
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	s.Require().NoError(s.store.SetEvent(e))

	got, err := s.store.Event()
	s.Require().NoError(err)
	s.Equal("GopherCon 2026", got.Name)
	s.Require().NotNil(got.Location)
	s.InDelta(52.37, got.Location.Lat, 0.0001)
}

// TestSurvivesReopen tests persistence across process restarts.
func (s *StoreSuite) TestSurvivesReopen() {
	s.Require().NoError(s.store.SetProfile(models.UserProfile{ID: "u-1", Name: "Al"}))
	s.Require().NoError(s.store.SetAuthToken("tok-123"))
	s.Require().NoError(s.store.Close())

	reopened, err := Open(s.path, []byte("device-secret"))
	s.Require().NoError(err)
	s.store = reopened

	got, err := reopened.Profile()
	s.Require().NoError(err)
	s.Equal("Al", got.Name)

	token, err := reopened.AuthToken()
	s.Require().NoError(err)
	s.Equal("tok-123", token)
}

// TestAuthTokenSealed tests that the token is not recoverable with a
// different device secret.
func (s *StoreSuite) TestAuthTokenSealed() {
	s.Require().NoError(s.store.SetAuthToken("tok-123"))
	s.Require().NoError(s.store.Close())

	other, err := Open(s.path, []byte("other-secret"))
	s.Require().NoError(err)
	s.store = other

	_, err = other.AuthToken()
	s.ErrorIs(err, ErrSealedValue)
}

// TestOverwrite tests last-write-wins per key.
func (s *StoreSuite) TestOverwrite() {
	s.Require().NoError(s.store.SetEvent(models.EventContext{Name: "Meetup A"}))
	s.Require().NoError(s.store.SetEvent(models.EventContext{Name: "Meetup B"}))

	got, err := s.store.Event()
	s.Require().NoError(err)
	s.Equal("Meetup B", got.Name)
}

// TestSealRoundTrip tests the sealing primitives directly.
func TestSealRoundTrip(t *testing.T) {
	secret := []byte("device-secret")

	sealed, err := seal(secret, []byte("hello"))
	require.NoError(t, err)

	plain, err := open(secret, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	// Each seal uses a fresh salt and nonce
	sealed2, err := seal(secret, []byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)

	// Wrong secret and truncated input fail closed
	_, err = open([]byte("wrong"), sealed)
	assert.ErrorIs(t, err, ErrSealedValue)
	_, err = open(secret, sealed[:10])
	assert.ErrorIs(t, err, ErrSealedValue)
}
