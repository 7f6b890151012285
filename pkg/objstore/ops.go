package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gocloud.dev/blob"

	"github.com/ligustah/cfa/pkg/errkind"
)

func (p *Pool) withBucket(ctx context.Context, loc Location, fn func(s *Session) error) error {
	sess, err := p.Acquire(ctx, loc)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(sess)
}

// Stat returns the size of the object at loc.
func (p *Pool) Stat(ctx context.Context, loc Location) (int64, error) {
	var size int64
	err := p.withBucket(ctx, loc, func(s *Session) error {
		b, err := s.Bucket(ctx, loc.Bucket)
		if err != nil {
			return err
		}
		attrs, err := b.Attributes(ctx, loc.Key)
		if err != nil {
			return errkind.Storage(fmt.Errorf("objstore: stat %s: %w", loc, err))
		}
		size = attrs.Size
		return nil
	})
	return size, err
}

// Delete removes the object at loc.
func (p *Pool) Delete(ctx context.Context, loc Location) error {
	return p.withBucket(ctx, loc, func(s *Session) error {
		b, err := s.Bucket(ctx, loc.Bucket)
		if err != nil {
			return err
		}
		if err := b.Delete(ctx, loc.Key); err != nil {
			return errkind.Storage(fmt.Errorf("objstore: delete %s: %w", loc, err))
		}
		return nil
	})
}

// List returns every object whose key starts with loc.Key, in key order.
func (p *Pool) List(ctx context.Context, loc Location) ([]Location, error) {
	var out []Location
	err := p.withBucket(ctx, loc, func(s *Session) error {
		b, err := s.Bucket(ctx, loc.Bucket)
		if err != nil {
			return err
		}
		it := b.List(&blob.ListOptions{Prefix: loc.Key})
		for {
			obj, err := it.Next(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errkind.Storage(fmt.Errorf("objstore: list %s: %w", loc, err))
			}
			if obj.IsDir || strings.HasSuffix(obj.Key, "/") {
				continue
			}
			out = append(out, loc.WithKey(obj.Key))
		}
	})
	return out, err
}

// Upload copies the local file at path to loc through a write stream.
func (p *Pool) Upload(ctx context.Context, path string, loc Location, opts *StreamOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("objstore: %w", err)
	}
	defer f.Close()
	s := NewStream(p, loc, Write, opts)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if _, err := io.Copy(s, f); err != nil {
		s.Abort()
		return err
	}
	return s.Close()
}

// Download copies the object at loc to w and returns the byte count.
func (p *Pool) Download(ctx context.Context, loc Location, w io.Writer, opts *StreamOptions) (int64, error) {
	s := NewStream(p, loc, Read, opts)
	if err := s.Connect(ctx); err != nil {
		return 0, err
	}
	defer s.Close()
	return io.Copy(w, struct{ io.Reader }{s})
}
