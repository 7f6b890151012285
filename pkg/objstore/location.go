package objstore

import (
	"fmt"
	"path"
	"strings"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Location is a parsed object-store address.
type Location struct {
	Scheme string
	Host   string
	Bucket string
	Key    string
}

// IsRemote reports whether p is an object-store URI rather than a local
// path.
func IsRemote(p string) bool {
	scheme, _, ok := strings.Cut(p, "://")
	return ok && scheme != "" && !strings.ContainsAny(scheme, "/\\")
}

// ParseLocation parses scheme://host/bucket/key. The key may be empty for
// bucket-level operations such as listing.
func ParseLocation(s string) (Location, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return Location{}, errkind.NotFound.New("objstore: %q is not an object-store location", s)
	}
	host, rest, _ := strings.Cut(rest, "/")
	bucket, key, _ := strings.Cut(rest, "/")
	if host == "" || bucket == "" {
		return Location{}, errkind.NotFound.New("objstore: %q needs a host and a bucket", s)
	}
	return Location{Scheme: strings.ToLower(scheme), Host: host, Bucket: bucket, Key: key}, nil
}

func (l Location) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", l.Scheme, l.Host, l.Bucket, l.Key)
}

// WithKey returns the location of another object in the same bucket.
func (l Location) WithKey(key string) Location {
	l.Key = key
	return l
}

// Dir returns the key's parent prefix, with a trailing slash, or "" for
// top-level keys.
func (l Location) Dir() string {
	d := path.Dir(l.Key)
	if d == "." || d == "/" {
		return ""
	}
	return d + "/"
}
