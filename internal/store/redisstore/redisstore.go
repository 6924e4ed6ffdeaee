// Package redisstore implements store.Store on Redis.
//
// Values are JSON strings under prefixed keys and every write is published on
// a per-path channel, which is what watches subscribe to. Connectivity is a
// periodic PING. Redis has no notion of a client session, so on-disconnect
// writes are emulated: each Store holds a lease key refreshed by its
// heartbeat, registered writes live in a shared wills hash, and a reaper
// applies the wills of any client whose lease has expired.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/fanout"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

const (
	DefaultPrefix       = "presence:"
	DefaultLeaseTTL     = 15 * time.Second
	DefaultPingInterval = 5 * time.Second
)

type Options struct {
	// Prefix namespaces every key and channel.
	Prefix string
	// LeaseTTL is how long after the last heartbeat this client's wills stay
	// dormant. It should be a few PingIntervals.
	LeaseTTL     time.Duration
	PingInterval time.Duration
	Logger       logrus.FieldLogger
}

type Store struct {
	client   *redis.Client
	opts     Options
	log      logrus.FieldLogger
	clientID string

	connected atomic.Bool
	conn      fanout.Set[store.Snapshot]

	mu      sync.Mutex
	closed  bool
	watches map[*watch]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Store = (*Store)(nil)

// New returns a Store using client and starts its heartbeat. The initial
// connectivity comes from a PING; an unreachable server is not an error.
// The caller keeps ownership of client.
func New(ctx context.Context, client *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Store{
		client:   client,
		opts:     opts,
		clientID: uuid.NewString(),
		watches:  make(map[*watch]struct{}),
		done:     make(chan struct{}),
	}
	s.log = opts.Logger.WithField("component", "redisstore").WithField("client", s.clientID)
	s.connected.Store(s.heartbeat(ctx) == nil)

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.monitor(monitorCtx)
	return s
}

// ClientID identifies this store's lease and wills.
func (s *Store) ClientID() string { return s.clientID }

func (s *Store) Ref(path string) store.Ref { return store.NewRef(path) }

func (s *Store) ConnectedRef() store.Ref { return store.NewRef(store.ConnectedPath) }

func (s *Store) ServerTimestamp() any { return store.ServerTimestamp() }

// Connected reports the result of the last heartbeat.
func (s *Store) Connected() bool { return s.connected.Load() }

type watch struct {
	ps      *redis.PubSub
	stopped atomic.Bool
}

// Subscribe delivers the current value before returning. Later values arrive
// on a goroutine owned by the subscription.
func (s *Store) Subscribe(ref store.Ref, onValue func(store.Snapshot), onError func(error)) (store.Unsubscribe, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	if ref.Path() == store.ConnectedPath {
		remove := s.conn.Add(onValue)
		onValue(boolSnapshot(s.Connected()))
		return store.Once(remove), nil
	}

	ctx := context.Background()
	ps := s.client.Subscribe(ctx, s.channel(ref.Path()))
	// Wait for the subscription to be confirmed so no write after the GET
	// below can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ref.Path(), err)
	}

	data, err := s.client.Get(ctx, s.valueKey(ref.Path())).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		ps.Close()
		return nil, fmt.Errorf("failed to read %s: %w", ref.Path(), err)
	}

	w := &watch{ps: ps}
	if !s.track(w) {
		ps.Close()
		return nil, store.ErrClosed
	}

	ch := ps.Channel()
	onValue(store.JSONSnapshot(data))

	go func() {
		for msg := range ch {
			if w.stopped.Load() {
				continue
			}
			onValue(store.JSONSnapshot(msg.Payload))
		}
		if !w.stopped.Load() && onError != nil {
			onError(store.ErrClosed)
		}
	}()

	return store.Once(func() {
		w.stopped.Store(true)
		s.untrack(w)
		if err := ps.Close(); err != nil {
			s.log.WithError(err).WithField("path", ref.Path()).Warn("failed to close subscription")
		}
	}), nil
}

// Write stores value at ref with server timestamps resolved against the
// Redis clock, and publishes it to watchers in the same transaction.
func (s *Store) Write(ctx context.Context, ref store.Ref, value any) error {
	if s.isClosed() {
		return store.ErrClosed
	}

	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}
	data, err := store.Encode(value, now)
	if err != nil {
		return err
	}
	if err := s.put(ctx, ref.Path(), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", ref.Path(), err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, path string, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.valueKey(path), data, 0)
		pipe.Publish(ctx, s.channel(path), data)
		return nil
	})
	return err
}

// Get returns the raw JSON stored at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.valueKey(store.Clean(path))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return data, true, nil
}

func (s *Store) OnDisconnect(ref store.Ref) store.OnDisconnect {
	return &onDisconnect{s: s, path: ref.Path()}
}

type onDisconnect struct {
	s    *Store
	path string
}

// Write registers value unresolved; the reaper resolves its timestamps when
// it applies it. The lease is refreshed in the same round trip so a freshly
// registered will is never reaped before the next heartbeat.
func (o *onDisconnect) Write(ctx context.Context, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal disconnect value: %w", err)
	}
	_, err = o.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, o.s.leaseKey(o.s.clientID), o.s.clientID, o.s.opts.LeaseTTL)
		pipe.HSet(ctx, o.s.willsKey(), o.s.willField(o.path), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register disconnect write for %s: %w", o.path, err)
	}
	return nil
}

func (o *onDisconnect) Cancel(ctx context.Context) error {
	if err := o.s.client.HDel(ctx, o.s.willsKey(), o.s.willField(o.path)).Err(); err != nil {
		return fmt.Errorf("failed to cancel disconnect write for %s: %w", o.path, err)
	}
	return nil
}

// Close stops the heartbeat, ends every watch and drops the lease so the
// next reaper pass applies this client's remaining wills.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watches := s.watches
	s.watches = nil
	s.mu.Unlock()

	s.cancel()
	<-s.done

	for w := range watches {
		w.stopped.Store(true)
		w.ps.Close()
	}
	s.conn.Clear()

	if err := s.client.Del(ctx, s.leaseKey(s.clientID)).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (s *Store) monitor(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.setConnected(s.heartbeat(ctx) == nil)
		}
	}
}

// heartbeat pings the server and refreshes this client's lease.
func (s *Store) heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PingInterval)
	defer cancel()
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Ping(ctx)
		pipe.Set(ctx, s.leaseKey(s.clientID), s.clientID, s.opts.LeaseTTL)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.log.WithError(err).Debug("heartbeat failed")
	}
	return err
}

func (s *Store) setConnected(connected bool) {
	if s.connected.Swap(connected) == connected {
		return
	}
	if connected {
		s.log.Info("redis connection restored")
	} else {
		s.log.Warn("redis connection lost")
	}
	s.conn.Notify(boolSnapshot(connected))
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) track(w *watch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.watches[w] = struct{}{}
	return true
}

func (s *Store) untrack(w *watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, w)
}

// Helpers: build Redis keys

func (s *Store) valueKey(path string) string {
	return s.opts.Prefix + "value:" + path
}

func (s *Store) channel(path string) string {
	return s.opts.Prefix + "changes:" + path
}

func (s *Store) willsKey() string {
	return s.opts.Prefix + "wills"
}

func (s *Store) leaseKey(clientID string) string {
	return s.opts.Prefix + "lease:" + clientID
}

// willField keys a will by owner and path. Client ids are UUIDs, so the
// first "|" always ends the owner.
func (s *Store) willField(path string) string {
	return s.clientID + "|" + path
}

func splitWillField(field string) (clientID, path string, ok bool) {
	return strings.Cut(field, "|")
}

func boolSnapshot(b bool) store.Snapshot {
	if b {
		return store.JSONSnapshot("true")
	}
	return store.JSONSnapshot("false")
}
