// Package replication propagates records across devices through a shared
// keyed namespace store. Delivery is eventually consistent with
// last-write-wins per key: no ordering guarantee, no deduplication beyond
// key equality.
package replication

import "context"

// Namespaces shared by all devices.
const (
	NamespaceProfiles    = "profiles"
	NamespaceEvents      = "events"
	NamespaceConnections = "connections"
)

// Handler receives one replicated entry. Handlers must not block; slow
// consumers should hand off to their own queue.
type Handler func(key string, value []byte)

// Channel is the keyed pub/sub store. Put publishes an entry to every
// subscriber of the namespace, including subscribers on other devices.
type Channel interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Subscribe(namespace string, fn Handler) (cancel func(), err error)
	Close() error
}
