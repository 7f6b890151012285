package aggregate

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/objstore"
)

// Extensions are the file name suffixes picked up from directories and
// prefixes.
var Extensions = []string{".nc", ".nca"}

func hasExtension(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// ListFiles expands p into an ordered list of input files. p may be a
// single file, a directory, a glob pattern, or an object-store prefix or
// glob such as s3://host/bucket/run/*.nc.
func ListFiles(ctx context.Context, pool *objstore.Pool, p string) ([]string, error) {
	if objstore.IsRemote(p) {
		return listRemote(ctx, pool, p)
	}

	if strings.ContainsAny(p, "*?[") {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, errkind.NotFound.Wrap(err)
		}
		if len(matches) == 0 {
			return nil, errkind.NotFound.New("aggregate: no files match %s", p)
		}
		sort.Strings(matches)
		return matches, nil
	}

	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.NotFound.Wrap(err)
		}
		return nil, err
	}
	if !fi.IsDir() {
		return []string{p}, nil
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && hasExtension(e.Name()) {
			out = append(out, filepath.Join(p, e.Name()))
		}
	}
	if len(out) == 0 {
		return nil, errkind.NotFound.New("aggregate: no files in %s", p)
	}
	return out, nil
}

func listRemote(ctx context.Context, pool *objstore.Pool, p string) ([]string, error) {
	if pool == nil {
		return nil, errkind.UnsupportedOperation.New("aggregate: %s needs an object-store pool", p)
	}
	loc, err := objstore.ParseLocation(p)
	if err != nil {
		return nil, err
	}
	pattern := ""
	prefix := loc.Key
	if i := strings.IndexAny(loc.Key, "*?["); i >= 0 {
		pattern = loc.Key
		prefix = loc.Key[:i]
	}
	objs, err := pool.List(ctx, loc.WithKey(prefix))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, o := range objs {
		if pattern != "" {
			ok, err := path.Match(pattern, o.Key)
			if err != nil {
				return nil, errkind.NotFound.Wrap(err)
			}
			if !ok {
				continue
			}
		} else if !hasExtension(o.Key) {
			continue
		}
		out = append(out, o.String())
	}
	if len(out) == 0 {
		return nil, errkind.NotFound.New("aggregate: no objects match %s", p)
	}
	sort.Strings(out)
	return out, nil
}
