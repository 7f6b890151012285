// Package filecache materializes remote objects as local files.
//
// Local paths resolve to themselves. Remote objects are either read into
// memory (diskless) or downloaded into a bounded cache directory under a
// name derived from the remote location, so repeated opens reuse the
// same copy. When the cache grows past its configured size the least
// recently used entries that no handle holds are removed.
package filecache

import (
	"bytes"
	"container/list"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/ligustah/cfa/pkg/objstore"
)

// Options configures a Cache.
type Options struct {
	// Dir holds materialized objects. Defaults to a directory under
	// os.TempDir.
	Dir string
	// MaxSize bounds the total bytes kept in Dir. Zero means unbounded.
	MaxSize int64
	Stream  *objstore.StreamOptions
	Logger  *slog.Logger
}

// ResolveOptions selects how one path is made local.
type ResolveOptions struct {
	// Diskless reads a remote object into memory instead of the cache.
	Diskless bool
	// DeleteOnClose removes the materialized copy when the handle closes.
	DeleteOnClose bool
}

type entry struct {
	name string
	size int64
	refs int
}

// Cache resolves paths to local handles. It is safe for concurrent use.
type Cache struct {
	pool   *objstore.Pool
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	lru     *list.List // front is most recently used
	entries map[string]*list.Element
	size    int64
}

// New creates a cache over pool, adopting files already present in the
// cache directory.
func New(pool *objstore.Pool, opts Options) (*Cache, error) {
	if opts.Dir == "" {
		opts.Dir = filepath.Join(os.TempDir(), "cfa-cache")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("filecache: creating cache directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache{
		pool:    pool,
		opts:    opts,
		logger:  logger,
		lru:     list.New(),
		entries: make(map[string]*list.Element),
	}
	if err := c.adopt(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) adopt() error {
	des, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return fmt.Errorf("filecache: %w", err)
	}
	type found struct {
		entry
		mod int64
	}
	var files []found
	for _, de := range des {
		if !de.Type().IsRegular() || filepath.Ext(de.Name()) == ".tmp" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, found{entry{name: de.Name(), size: info.Size()}, info.ModTime().UnixNano()})
	}
	// Oldest first so the newest ends up at the front.
	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })
	for _, f := range files {
		e := f.entry
		c.entries[e.name] = c.lru.PushFront(&e)
		c.size += e.size
	}
	return nil
}

// Name returns the cache file name for a remote location.
func Name(remote string) string {
	sum := blake3.Sum256([]byte(remote))
	return hex.EncodeToString(sum[:16]) + path.Ext(remote)
}

// Size returns the bytes currently held in the cache directory.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Resolve makes p readable locally.
func (c *Cache) Resolve(ctx context.Context, p string, ro ResolveOptions) (*Handle, error) {
	if !objstore.IsRemote(p) {
		return &Handle{Path: p}, nil
	}
	loc, err := objstore.ParseLocation(p)
	if err != nil {
		return nil, err
	}
	if ro.Diskless {
		var buf bytes.Buffer
		if _, err := c.pool.Download(ctx, loc, &buf, c.opts.Stream); err != nil {
			return nil, err
		}
		return &Handle{Remote: p, data: buf.Bytes()}, nil
	}

	size, err := c.pool.Stat(ctx, loc)
	if err != nil {
		return nil, err
	}
	name := Name(p)
	if c.acquire(name, size) {
		c.logger.Debug("cache hit", "location", p, "file", name)
		return c.handle(p, name, ro), nil
	}

	tmp := filepath.Join(c.opts.Dir, uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("filecache: %w", err)
	}
	n, err := c.pool.Download(ctx, loc, f, c.opts.Stream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, filepath.Join(c.opts.Dir, name)); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("filecache: %w", err)
	}
	c.logger.Debug("cached", "location", p, "file", name, "bytes", n)
	c.insert(name, n)
	return c.handle(p, name, ro), nil
}

func (c *Cache) handle(remote, name string, ro ResolveOptions) *Handle {
	return &Handle{
		Path:          filepath.Join(c.opts.Dir, name),
		Remote:        remote,
		cache:         c,
		name:          name,
		deleteOnClose: ro.DeleteOnClose,
	}
}

// acquire takes a reference on an existing entry if its size matches.
func (c *Cache) acquire(name string, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[name]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	info, err := os.Stat(filepath.Join(c.opts.Dir, name))
	if err != nil || info.Size() != size || e.size != size {
		if e.refs == 0 {
			c.removeLocked(el)
		}
		return false
	}
	e.refs++
	c.lru.MoveToFront(el)
	return true
}

func (c *Cache) insert(name string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[name]; ok {
		e := el.Value.(*entry)
		c.size += size - e.size
		e.size = size
		e.refs++
		c.lru.MoveToFront(el)
	} else {
		c.entries[name] = c.lru.PushFront(&entry{name: name, size: size, refs: 1})
		c.size += size
	}
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	if c.opts.MaxSize <= 0 {
		return
	}
	for el := c.lru.Back(); el != nil && c.size > c.opts.MaxSize; {
		prev := el.Prev()
		if el.Value.(*entry).refs == 0 {
			c.logger.Debug("evicting", "file", el.Value.(*entry).name)
			c.removeLocked(el)
		}
		el = prev
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	if err := os.Remove(filepath.Join(c.opts.Dir, e.name)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("removing cache file", "file", e.name, "error", err)
	}
	c.lru.Remove(el)
	delete(c.entries, e.name)
	c.size -= e.size
}

func (c *Cache) release(name string, remove bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[name]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	if e.refs > 0 {
		e.refs--
	}
	if remove && e.refs == 0 {
		c.removeLocked(el)
		return
	}
	c.evictLocked()
}

// Handle is local access to a resolved path. Close it when done.
type Handle struct {
	// Path is the local file, empty for diskless handles.
	Path string
	// Remote is the original location for remote objects.
	Remote string

	data          []byte
	cache         *Cache
	name          string
	deleteOnClose bool
	once          sync.Once
}

// Diskless reports whether the handle is backed by memory.
func (h *Handle) Diskless() bool {
	return h.Path == "" && h.Remote != ""
}

// Open returns a reader over the handle's bytes.
func (h *Handle) Open() (ReadSeekCloser, error) {
	if h.Path == "" {
		return nopCloser{bytes.NewReader(h.data)}, nil
	}
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("filecache: %w", err)
	}
	return f, nil
}

// Close releases the cache entry, removing it if the handle was resolved
// with DeleteOnClose.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.data = nil
		if h.cache != nil {
			h.cache.release(h.name, h.deleteOnClose)
		}
	})
	return nil
}

// ReadSeekCloser is what Open returns.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

type nopCloser struct{ io.ReadSeeker }

func (nopCloser) Close() error { return nil }
