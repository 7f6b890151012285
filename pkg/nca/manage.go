package nca

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ligustah/cfa/internal/transfer"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/objstore"
)

// Filter selects the partitions Move rewrites. Empty fields match
// everything.
type Filter struct {
	Group     string
	Variable  string
	Partition []int
}

// Move points the subarray files of the selected partitions at prefix,
// keeping each file's base name. It returns the number of partitions
// changed. Data is not copied; callers move the files themselves.
func (d *Dataset) Move(prefix string, f Filter) (int, error) {
	var groups []*cfa.Group
	if f.Group != "" {
		g, err := d.model.GetGroup(f.Group)
		if err != nil {
			return 0, err
		}
		groups = append(groups, g)
	} else {
		for _, name := range d.model.Groups() {
			g, err := d.model.GetGroup(name)
			if err != nil {
				return 0, err
			}
			groups = append(groups, g)
		}
	}

	prefix = strings.TrimSuffix(prefix, "/")
	n := 0
	for _, g := range groups {
		names := g.Variables()
		if f.Variable != "" {
			names = []string{f.Variable}
		}
		for _, name := range names {
			v, err := g.GetVariable(name)
			if err != nil {
				return n, err
			}
			if v.Kind() != cfa.Fragmented {
				continue
			}
			parts := v.Partitions()
			if f.Partition != nil {
				p, err := v.GetPartition(f.Partition)
				if err != nil {
					return n, err
				}
				parts = []cfa.Partition{p}
			}
			for _, p := range parts {
				p.Subarray.File = prefix + "/" + path.Base(filepath.ToSlash(p.Subarray.File))
				if err := v.WritePartition(p); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

// Files returns every subarray file referenced by the dataset, resolved
// and deduplicated, in sorted order.
func (d *Dataset) Files() []string {
	seen := make(map[string]bool)
	var out []string
	for _, gname := range d.model.Groups() {
		g, err := d.model.GetGroup(gname)
		if err != nil {
			continue
		}
		for _, name := range g.Variables() {
			v, err := g.GetVariable(name)
			if err != nil {
				continue
			}
			for _, p := range v.Partitions() {
				f := d.Resolve(v, p.Subarray.File)
				if !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func (d *Dataset) remove(ctx context.Context, p string) error {
	if !objstore.IsRemote(p) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("nca: %w", err)
		}
		return nil
	}
	if d.opts.Pool == nil {
		return errkind.UnsupportedOperation.New("nca: %s needs an object-store pool", p)
	}
	loc, err := objstore.ParseLocation(p)
	if err != nil {
		return err
	}
	if err := d.opts.Pool.Delete(ctx, loc); err != nil && !errkind.NotFound.Has(err) {
		return err
	}
	return nil
}

func (d *Dataset) exists(ctx context.Context, p string) (bool, error) {
	if !objstore.IsRemote(p) {
		_, err := os.Stat(p)
		if os.IsNotExist(err) {
			return false, nil
		}
		return err == nil, err
	}
	if d.opts.Pool == nil {
		return false, errkind.UnsupportedOperation.New("nca: %s needs an object-store pool", p)
	}
	loc, err := objstore.ParseLocation(p)
	if err != nil {
		return false, err
	}
	_, err = d.opts.Pool.Stat(ctx, loc)
	if errkind.NotFound.Has(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the master-array file and every subarray file
// it references. Files that are already gone are skipped. Empty local
// fragment directories are removed afterwards.
//
// Returns an error if:
//   - The master-array file cannot be opened
//   - A subarray file cannot be deleted (permission denied, network error)
//   - The context is cancelled
func Delete(ctx context.Context, master string, opts Options) error {
	d, err := Open(ctx, master, opts)
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	files := d.Files()
	jobs := make([]transfer.Job, len(files))
	for i, f := range files {
		f := f
		jobs[i] = transfer.Job{
			Index: i,
			Name:  f,
			Run: func(ctx context.Context) (int64, error) {
				return 0, d.remove(ctx, f)
			},
		}
	}
	if err := transfer.Run(ctx, jobs, transfer.Options{Workers: d.opts.Workers, Logger: d.opts.Logger}); err != nil {
		return fmt.Errorf("nca: delete subarrays: %w", err)
	}
	if err := d.remove(ctx, master); err != nil {
		return err
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		if !objstore.IsRemote(f) {
			dirs[filepath.Dir(f)] = true
		}
	}
	for dir := range dirs {
		// Fails while other files remain.
		os.Remove(dir)
	}
	d.opts.Logger.Debug("deleted dataset", "path", master, "subarrays", len(files))
	return nil
}

// ValidationResult contains the results of validating a dataset.
type ValidationResult struct {
	Valid           bool     // true if every variable tiles and every file is present
	Variables       int      // number of fragmented variables
	Partitions      int      // number of partitions across all variables
	MissingFiles    int      // subarray files that don't exist
	ShapeMismatches int      // subarray files whose variable shape differs from the record
	TilingErrors    int      // variables whose partitions do not tile the variable
	Errors          []string // detailed error messages
}

// ValidateOptions configures Validate.
type ValidateOptions struct {
	// Deep reads every subarray file and compares the stored variable
	// shape with the recorded one. Otherwise only existence is checked.
	Deep bool
}

// Validate checks that every fragmented variable of the master-array file
// is tiled exactly by its partitions and that every subarray is present.
//
// Missing files and tiling gaps are NOT returned as errors. They are
// reported in the ValidationResult with Valid=false. An error is returned
// when the master-array file cannot be read or the store fails.
func Validate(ctx context.Context, master string, opts Options, vo ValidateOptions) (*ValidationResult, error) {
	d, err := Open(ctx, master, opts)
	if err != nil {
		return nil, err
	}
	defer d.Close(ctx)

	result := &ValidationResult{Valid: true, Errors: make([]string, 0)}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	for _, gname := range d.model.Groups() {
		g, err := d.model.GetGroup(gname)
		if err != nil {
			return nil, err
		}
		for _, name := range g.Variables() {
			v, err := g.GetVariable(name)
			if err != nil {
				return nil, err
			}
			if v.Kind() != cfa.Fragmented {
				continue
			}
			result.Variables++
			shape, err := d.shape(v)
			if err != nil {
				return nil, err
			}
			if err := v.CheckTiling(shape); err != nil {
				result.TilingErrors++
				fail("%s/%s: %v", gname, name, err)
			}

			for _, p := range v.Partitions() {
				result.Partitions++
				file := d.Resolve(v, p.Subarray.File)
				ok, err := d.exists(ctx, file)
				if err != nil {
					return nil, fmt.Errorf("nca: check partition %v of %q: %w", p.Index, name, err)
				}
				if !ok {
					result.MissingFiles++
					fail("%s/%s: partition %v missing: %s", gname, name, p.Index, file)
					continue
				}
				if !vo.Deep {
					continue
				}
				if _, err := d.readFragment(ctx, v, p); err != nil {
					if errkind.Transport.Has(err) {
						return nil, err
					}
					result.ShapeMismatches++
					fail("%s/%s: %v", gname, name, err)
				}
			}
		}
	}
	return result, nil
}
