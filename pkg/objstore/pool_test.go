package objstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolCapsSessionsPerKey(t *testing.T) {
	ctx := context.Background()
	var dials atomic.Int32
	mem := NewMemDialer()
	pool := NewPool(PoolOptions{
		MaxSessionsPerKey: 1,
		Dialers: map[string]Dialer{"mem": func(ctx context.Context, ep Endpoint) (Client, error) {
			dials.Add(1)
			return mem(ctx, ep)
		}},
	})
	defer pool.Close()
	loc := Location{Scheme: "mem", Host: "a", Bucket: "b", Key: "k"}

	first, err := pool.Acquire(ctx, loc)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(waitCtx, loc); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire = %v, want deadline exceeded", err)
	}

	got := make(chan *Session)
	go func() {
		s, err := pool.Acquire(ctx, loc)
		if err != nil {
			t.Errorf("blocked Acquire: %v", err)
		}
		got <- s
	}()
	select {
	case <-got:
		t.Fatal("Acquire returned while the session was held")
	case <-time.After(20 * time.Millisecond):
	}
	first.Release()
	second := <-got
	if second == nil {
		t.Fatal("no session after release")
	}
	second.Release()
	second.Release()

	if n := dials.Load(); n != 1 {
		t.Errorf("dialed %d times, want 1 (session reused)", n)
	}
	open, idle := pool.Stats(second.Key())
	if open != 1 || idle != 1 {
		t.Errorf("Stats = %d open, %d idle, want 1, 1", open, idle)
	}
}

func TestPoolKeysByIdentity(t *testing.T) {
	pool := NewPool(PoolOptions{
		MaxSessionsPerKey: 1,
		Endpoints: map[string]Endpoint{
			"alice": {URL: "http://store", AccessKey: "alice"},
			"bob":   {URL: "http://store", AccessKey: "bob"},
		},
		Dialers: map[string]Dialer{"mem": NewMemDialer()},
	})
	defer pool.Close()
	ctx := context.Background()

	a, err := pool.Acquire(ctx, Location{Scheme: "mem", Host: "alice", Bucket: "b"})
	if err != nil {
		t.Fatalf("Acquire alice: %v", err)
	}
	defer a.Release()
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	b, err := pool.Acquire(waitCtx, Location{Scheme: "mem", Host: "bob", Bucket: "b"})
	if err != nil {
		t.Fatalf("Acquire bob blocked behind alice: %v", err)
	}
	defer b.Release()
	if a.Key() == b.Key() {
		t.Errorf("same key %+v for different identities", a.Key())
	}
	if a.Key().Endpoint != "mem://http://store" {
		t.Errorf("endpoint key = %q", a.Key().Endpoint)
	}
}

func TestPoolUnknownScheme(t *testing.T) {
	pool := NewPool(PoolOptions{})
	if _, err := pool.Acquire(context.Background(), Location{Scheme: "gopher", Host: "h", Bucket: "b"}); err == nil {
		t.Fatal("Acquire with unknown scheme succeeded")
	}
}

func TestPoolClosed(t *testing.T) {
	pool := NewPool(PoolOptions{})
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := pool.Acquire(context.Background(), Location{Scheme: "mem", Host: "h", Bucket: "b"}); err == nil {
		t.Fatal("Acquire on closed pool succeeded")
	}
}

func TestPoolDefaultDialers(t *testing.T) {
	pool := NewPool(PoolOptions{})
	for _, scheme := range []string{"s3", "gs", "mem", "file"} {
		if _, ok := pool.dialers[scheme]; !ok {
			t.Errorf("no default dialer for %s", scheme)
		}
	}
	ep := pool.Endpoint(Location{Scheme: "s3", Host: "s3.example.com", Bucket: "b"})
	if ep.URL != "https://s3.example.com" {
		t.Errorf("default s3 endpoint URL = %q", ep.URL)
	}
}
