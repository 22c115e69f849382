package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// envelope is the message published on a namespace channel.
type envelope struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Redis is a Channel backed by a shared Redis instance: entries are stored
// under "linkup:<namespace>:<key>" and fanned out via PUBLISH on
// "linkup:<namespace>". Every device connected to the same Redis sees every
// Put, including its own.
type Redis struct {
	pool *redis.Pool

	mu     sync.Mutex
	subs   map[string]*redisSub
	closed bool
}

// redisSub is one namespace subscription shared by all local handlers.
type redisSub struct {
	handlers map[int]Handler
	nextID   int
	cancel   context.CancelFunc
}

// NewRedis creates a channel over the Redis at addr ("host:port"). Extra
// dial options (password, TLS) are applied to every connection.
func NewRedis(addr string, opts ...redis.DialOption) *Redis {
	dialOpts := append([]redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(0),
		redis.DialWriteTimeout(5 * time.Second),
	}, opts...)

	return &Redis{
		pool: &redis.Pool{
			MaxIdle:     4,
			IdleTimeout: 240 * time.Second,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr, dialOpts...)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
		subs: make(map[string]*redisSub),
	}
}

func nsChannel(namespace string) string { return "linkup:" + namespace }

func nsKey(namespace, key string) string { return fmt.Sprintf("linkup:%s:%s", namespace, key) }

// Put stores the entry and publishes it to the namespace channel. The
// stored copy lets late joiners backfill; the publish drives live delivery.
func (r *Redis) Put(ctx context.Context, namespace, key string, value []byte) error {
	payload, err := json.Marshal(envelope{Key: key, Value: value})
	if err != nil {
		return err
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("replication: redis dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("SET", nsKey(namespace, key), value); err != nil {
		return fmt.Errorf("replication: redis set: %w", err)
	}
	if _, err := conn.Do("PUBLISH", nsChannel(namespace), payload); err != nil {
		return fmt.Errorf("replication: redis publish: %w", err)
	}
	return nil
}

// Subscribe registers a handler for the namespace, starting the namespace's
// subscriber goroutine on first use.
func (r *Redis) Subscribe(namespace string, fn Handler) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	sub, ok := r.subs[namespace]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &redisSub{handlers: make(map[int]Handler), cancel: cancel}
		r.subs[namespace] = sub
		go r.receiveLoop(ctx, namespace)
	}

	sub.nextID++
	id := sub.nextID
	sub.handlers[id] = fn

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(sub.handlers, id)
	}
	return cancel, nil
}

// receiveLoop holds one SUBSCRIBE connection per namespace and dispatches
// incoming envelopes to the local handlers. Reconnects with backoff on
// connection loss.
func (r *Redis) receiveLoop(ctx context.Context, namespace string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.receiveOnce(ctx, namespace); err != nil {
			log.Warn().Err(err).Str("namespace", namespace).
				Msg("Replication subscriber disconnected, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *Redis) receiveOnce(ctx context.Context, namespace string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	psc := redis.PubSubConn{Conn: conn}
	defer psc.Close()

	if err := psc.Subscribe(nsChannel(namespace)); err != nil {
		return err
	}

	// Unblock the receive loop when the subscription is cancelled
	go func() {
		<-ctx.Done()
		_ = psc.Unsubscribe()
		_ = conn.Close()
	}()

	for {
		switch msg := psc.Receive().(type) {
		case redis.Message:
			var env envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				log.Warn().Err(err).Str("namespace", namespace).
					Msg("Malformed replication envelope dropped")
				continue
			}
			r.dispatch(namespace, env)
		case redis.Subscription:
			if msg.Count == 0 {
				return nil
			}
		case error:
			return msg
		}
	}
}

func (r *Redis) dispatch(namespace string, env envelope) {
	r.mu.Lock()
	sub, ok := r.subs[namespace]
	if !ok {
		r.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(sub.handlers))
	for _, fn := range sub.handlers {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(env.Key, env.Value)
	}
}

// Close stops all subscriber goroutines and releases the pool.
func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	for _, sub := range r.subs {
		sub.cancel()
	}
	r.subs = make(map[string]*redisSub)
	r.mu.Unlock()
	return r.pool.Close()
}
