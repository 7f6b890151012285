package nca

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/filecache"
	"github.com/ligustah/cfa/pkg/objstore"
)

type memFile struct{ *bytes.Reader }

func (memFile) Close() error { return nil }

// ReadFile decodes the container at p. Remote locations go through
// opts.Cache, or straight into memory when diskless or uncached.
func ReadFile(ctx context.Context, p string, opts Options) (*ncfile.File, error) {
	if !objstore.IsRemote(p) {
		return ncfile.Open(p)
	}
	if opts.Pool == nil {
		return nil, errkind.UnsupportedOperation.New("nca: %s needs an object-store pool", p)
	}
	if opts.Diskless || opts.Cache == nil {
		loc, err := objstore.ParseLocation(p)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if _, err := opts.Pool.Download(ctx, loc, &buf, opts.Stream); err != nil {
			return nil, err
		}
		return ncfile.Decode(memFile{bytes.NewReader(buf.Bytes())})
	}
	h, err := opts.Cache.Resolve(ctx, p, filecache.ResolveOptions{})
	if err != nil {
		return nil, err
	}
	defer h.Close()
	r, err := h.Open()
	if err != nil {
		return nil, err
	}
	return ncfile.Decode(r)
}

// WriteFile writes f as a classic container to p and returns its size.
// Local files are replaced atomically; remote files are staged in a
// temporary file and uploaded.
func WriteFile(ctx context.Context, p string, f *ncfile.File, opts Options) (int64, error) {
	if !objstore.IsRemote(p) {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return 0, fmt.Errorf("nca: %w", err)
		}
		// Written beside p and renamed so an existing file is replaced
		// whole.
		tmp := p + ".tmp-" + uuid.NewString()
		if err := ncfile.Create(tmp, f); err != nil {
			os.Remove(tmp)
			return 0, err
		}
		if err := os.Rename(tmp, p); err != nil {
			os.Remove(tmp)
			return 0, fmt.Errorf("nca: %w", err)
		}
		return fileSize(p)
	}
	if opts.Pool == nil {
		return 0, errkind.UnsupportedOperation.New("nca: %s needs an object-store pool", p)
	}
	loc, err := objstore.ParseLocation(p)
	if err != nil {
		return 0, err
	}
	tmp := filepath.Join(os.TempDir(), "cfa-"+uuid.NewString()+".nc")
	defer os.Remove(tmp)
	if err := ncfile.Create(tmp, f); err != nil {
		return 0, err
	}
	n, err := fileSize(tmp)
	if err != nil {
		return 0, err
	}
	if opts.Logger != nil {
		opts.Logger.Debug("uploading", "location", p, "bytes", n)
	}
	return n, opts.Pool.Upload(ctx, tmp, loc, opts.Stream)
}

func fileSize(p string) (int64, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("nca: %w", err)
	}
	return fi.Size(), nil
}
