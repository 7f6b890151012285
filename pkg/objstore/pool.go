package objstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"gocloud.dev/blob"
	"golang.org/x/sync/semaphore"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Client is an open connection to one endpoint. It owns the bucket
// handles it returns.
type Client interface {
	Bucket(ctx context.Context, name string) (*blob.Bucket, error)
	Close() error
}

// Dialer opens a client for an endpoint.
type Dialer func(ctx context.Context, ep Endpoint) (Client, error)

// Endpoint describes how to reach one host alias.
type Endpoint struct {
	Scheme    string
	Host      string
	URL       string // s3: service endpoint; file: root directory
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Key identifies a pool bucket of interchangeable sessions.
type Key struct {
	Endpoint string
	Identity string
}

func (e Endpoint) key() Key {
	target := e.URL
	if target == "" {
		target = e.Host
	}
	return Key{Endpoint: e.Scheme + "://" + target, Identity: e.AccessKey}
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// MaxSessionsPerKey caps concurrently held sessions per key. Zero
	// means 1.
	MaxSessionsPerKey int
	// Endpoints maps "scheme://host" or a bare host alias to its
	// configuration.
	Endpoints map[string]Endpoint
	// Dialers overrides the dialer per scheme.
	Dialers map[string]Dialer
	Logger  *slog.Logger
}

// Pool caps and reuses sessions per endpoint.
type Pool struct {
	max       int
	endpoints map[string]Endpoint
	dialers   map[string]Dialer
	logger    *slog.Logger

	mu     sync.Mutex
	keys   map[Key]*keyState
	closed bool
}

type keyState struct {
	sem  *semaphore.Weighted
	idle []Client
	open int
}

// NewPool creates a pool. The s3, gs, mem and file schemes are dialed
// with [DialS3], [DialGCS], a pool-private in-memory store and
// [DialFile] unless overridden.
func NewPool(opts PoolOptions) *Pool {
	if opts.MaxSessionsPerKey <= 0 {
		opts.MaxSessionsPerKey = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dialers := map[string]Dialer{
		"s3":   DialS3,
		"gs":   DialGCS,
		"mem":  NewMemDialer(),
		"file": DialFile,
	}
	for scheme, d := range opts.Dialers {
		dialers[scheme] = d
	}
	return &Pool{
		max:       opts.MaxSessionsPerKey,
		endpoints: opts.Endpoints,
		dialers:   dialers,
		logger:    logger,
		keys:      make(map[Key]*keyState),
	}
}

// Endpoint resolves the endpoint for a location.
func (p *Pool) Endpoint(loc Location) Endpoint {
	for _, k := range []string{loc.Scheme + "://" + loc.Host, loc.Host} {
		if ep, ok := p.endpoints[k]; ok {
			ep.Scheme = loc.Scheme
			ep.Host = loc.Host
			return ep
		}
	}
	ep := Endpoint{Scheme: loc.Scheme, Host: loc.Host}
	if loc.Scheme == "s3" {
		ep.URL = "https://" + loc.Host
	}
	return ep
}

// Acquire returns a session for loc's endpoint, blocking while the
// endpoint's cap is reached. The session must be released.
func (p *Pool) Acquire(ctx context.Context, loc Location) (*Session, error) {
	ep := p.Endpoint(loc)
	dial, ok := p.dialers[ep.Scheme]
	if !ok {
		return nil, errkind.UnsupportedOperation.New("objstore: no dialer for scheme %q", ep.Scheme)
	}
	key := ep.key()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errkind.UnsupportedOperation.New("objstore: pool is closed")
	}
	ks, ok := p.keys[key]
	if !ok {
		ks = &keyState{sem: semaphore.NewWeighted(int64(p.max))}
		p.keys[key] = ks
	}
	p.mu.Unlock()

	if err := ks.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("objstore: waiting for session to %s: %w", key.Endpoint, err)
	}

	p.mu.Lock()
	var client Client
	if n := len(ks.idle); n > 0 {
		client = ks.idle[n-1]
		ks.idle = ks.idle[:n-1]
	}
	p.mu.Unlock()

	if client == nil {
		c, err := dial(ctx, ep)
		if err != nil {
			ks.sem.Release(1)
			return nil, errkind.Transport.Wrap(fmt.Errorf("objstore: dial %s: %w", key.Endpoint, err))
		}
		client = c
		p.mu.Lock()
		ks.open++
		p.mu.Unlock()
		p.logger.Debug("session opened", "endpoint", key.Endpoint, "identity", key.Identity)
	}
	return &Session{pool: p, key: key, state: ks, client: client}, nil
}

// Stats reports open and idle sessions for an endpoint key.
func (p *Pool) Stats(key Key) (open, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks, ok := p.keys[key]
	if !ok {
		return 0, 0
	}
	return ks.open, len(ks.idle)
}

// Close closes every idle session. Sessions still held are closed when
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var first error
	for _, ks := range p.keys {
		for _, c := range ks.idle {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
			ks.open--
		}
		ks.idle = nil
	}
	return first
}

// Session is a pooled client.
type Session struct {
	pool   *Pool
	key    Key
	state  *keyState
	client Client
	once   sync.Once
}

// Key returns the pool key the session belongs to.
func (s *Session) Key() Key {
	return s.key
}

// Bucket returns a handle for the named bucket. The handle is owned by
// the session and must not be closed.
func (s *Session) Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	b, err := s.client.Bucket(ctx, name)
	if err != nil {
		return nil, errkind.Storage(fmt.Errorf("objstore: bucket %q: %w", name, err))
	}
	return b, nil
}

// Release hands the session back to the pool. It is safe to call more
// than once.
func (s *Session) Release() {
	s.once.Do(func() {
		p := s.pool
		p.mu.Lock()
		if p.closed {
			s.state.open--
			p.mu.Unlock()
			s.client.Close()
		} else {
			s.state.idle = append(s.state.idle, s.client)
			p.mu.Unlock()
		}
		s.state.sem.Release(1)
	})
}
