// Package device manages exclusive ownership of camera and microphone
// resources. Acquisition returns a lease token; release is idempotent and
// guaranteed to return the device exactly once, which lets callers defer it
// on every exit path instead of tracking ambient handles.
package device

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind identifies a device resource.
type Kind string

const (
	Camera     Kind = "camera"
	Microphone Kind = "microphone"
)

var (
	// ErrUnavailable indicates the device could not be opened (permission
	// denied or no such device). Recoverable: the caller may retry.
	ErrUnavailable = errors.New("device: unavailable")

	// ErrHeld indicates the device is already leased by this engine.
	ErrHeld = errors.New("device: already held")
)

// Provider opens the underlying platform device. Implementations model
// permission prompts and hardware presence; tests substitute fakes.
type Provider interface {
	Open(ctx context.Context, kind Kind) (Handle, error)
}

// Handle is an opened platform device.
type Handle interface {
	Close() error
}

// Lease is an ownership token for one acquired device.
type Lease struct {
	kind     Kind
	handle   Handle
	registry *Registry
	once     sync.Once
}

// Kind returns the device kind this lease holds.
func (l *Lease) Kind() Kind { return l.kind }

// Release returns the device to the registry. Safe to call multiple times;
// only the first call closes the handle.
func (l *Lease) Release() {
	l.once.Do(func() {
		if err := l.handle.Close(); err != nil {
			log.Warn().Err(err).Str("device", string(l.kind)).Msg("Device close failed")
		}
		l.registry.free(l.kind, l)
		log.Debug().Str("device", string(l.kind)).Msg("Device released")
	})
}

// Registry enforces at most one outstanding lease per device kind.
type Registry struct {
	provider Provider
	mu       sync.Mutex
	held     map[Kind]*Lease
}

// NewRegistry creates a registry backed by the given provider.
func NewRegistry(provider Provider) *Registry {
	return &Registry{
		provider: provider,
		held:     make(map[Kind]*Lease),
	}
}

// Acquire opens the device and returns an exclusive lease for it. Returns
// ErrHeld if this engine already holds the device, or ErrUnavailable
// (wrapped) if the provider cannot open it.
func (r *Registry) Acquire(ctx context.Context, kind Kind) (*Lease, error) {
	r.mu.Lock()
	if _, ok := r.held[kind]; ok {
		r.mu.Unlock()
		return nil, ErrHeld
	}
	// Reserve the slot before the (possibly slow) open so a concurrent
	// acquire cannot race into a second open.
	r.held[kind] = nil
	r.mu.Unlock()

	handle, err := r.provider.Open(ctx, kind)
	if err != nil {
		r.mu.Lock()
		delete(r.held, kind)
		r.mu.Unlock()
		return nil, errors.Join(ErrUnavailable, err)
	}

	lease := &Lease{kind: kind, handle: handle, registry: r}
	r.mu.Lock()
	r.held[kind] = lease
	r.mu.Unlock()

	log.Debug().Str("device", string(kind)).Msg("Device acquired")
	return lease, nil
}

// Held reports whether a lease for the kind is outstanding.
func (r *Registry) Held(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[kind]
	return ok
}

func (r *Registry) free(kind Kind, lease *Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[kind] == lease {
		delete(r.held, kind)
	}
}
