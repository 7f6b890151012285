package nca

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/internal/transfer"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/objstore"
)

func (d *Dataset) fetch(ctx context.Context, p string) (*ncfile.File, error) {
	return ReadFile(ctx, p, d.opts)
}

// Resolve returns the location of a subarray file of v. Relative names
// are taken relative to the partition matrix base, then to the directory
// of the master-array file.
func (d *Dataset) Resolve(v *cfa.Variable, file string) string {
	base := ""
	if m, ok := v.PartitionMatrix(); ok {
		base = m.Base()
	}
	f := cfa.ResolveFile(base, file)
	if objstore.IsRemote(f) || filepath.IsAbs(f) {
		return f
	}
	if objstore.IsRemote(d.path) {
		loc, err := objstore.ParseLocation(d.path)
		if err != nil {
			return f
		}
		return loc.WithKey(path.Join(loc.Dir(), f)).String()
	}
	return filepath.Join(filepath.Dir(d.path), f)
}

// readFragment loads the data of one partition and checks it against the
// recorded subarray shape.
func (d *Dataset) readFragment(ctx context.Context, v *cfa.Variable, p cfa.Partition) (*ncfile.Array, error) {
	file := d.Resolve(v, p.Subarray.File)
	f, err := d.fetch(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("nca: partition %v: %w", p.Index, err)
	}
	ncvar := p.Subarray.NCVar
	if ncvar == "" {
		ncvar = v.Name()
	}
	nv := f.Variable(ncvar)
	if nv == nil {
		return nil, errkind.NotFound.New("nca: partition %v: no variable %q in %s", p.Index, ncvar, file)
	}
	if nv.Array == nil {
		return nil, errkind.UnsupportedOperation.New("nca: partition %v: variable %q has type %s",
			p.Index, ncvar, nv.Type)
	}
	if !equalShape(nv.Array.Shape, p.Subarray.Shape) {
		return nil, errkind.InvalidPartition.New("nca: partition %v: %s holds shape %v, recorded %v",
			p.Index, file, nv.Array.Shape, p.Subarray.Shape)
	}
	return nv.Array, nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ReadVariable returns the full data of v. Fragmented variables are
// assembled from all partitions, fetched in parallel.
func (d *Dataset) ReadVariable(ctx context.Context, v *cfa.Variable) (*ncfile.Array, error) {
	shape, err := d.shape(v)
	if err != nil {
		return nil, err
	}
	start := make([]int, len(shape))
	return d.ReadRegion(ctx, v, start, shape)
}

// ReadRegion returns the box [start, end) of v. Only partitions that
// intersect the box are fetched.
func (d *Dataset) ReadRegion(ctx context.Context, v *cfa.Variable, start, end []int) (*ncfile.Array, error) {
	shape, err := d.shape(v)
	if err != nil {
		return nil, err
	}
	if len(start) != len(shape) || len(end) != len(shape) {
		return nil, errkind.Range.New("nca: variable %q: region rank does not match %d dimensions", v.Name(), len(shape))
	}
	count := make([]int, len(shape))
	for i := range shape {
		if start[i] < 0 || end[i] > shape[i] || start[i] > end[i] {
			return nil, errkind.Range.New("nca: variable %q: region [%v, %v) outside shape %v", v.Name(), start, end, shape)
		}
		count[i] = end[i] - start[i]
	}

	if v.Kind() == cfa.Inline {
		in, ok := d.data[v]
		if !ok || in.array == nil {
			return nil, errkind.NotFound.New("nca: variable %q has no data", v.Name())
		}
		return in.array.Slice(start, end)
	}

	out, err := ncfile.NewArray(v.Type(), count)
	if err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		jobs []transfer.Job
	)
	for i, p := range v.Partitions() {
		lo, hi, ok := intersect(p.Location, start, end)
		if !ok {
			continue
		}
		p := p
		jobs = append(jobs, transfer.Job{
			Index: i,
			Name:  cfa.IndexKey(p.Index),
			Run: func(ctx context.Context) (int64, error) {
				frag, err := d.readFragment(ctx, v, p)
				if err != nil {
					return 0, err
				}
				fs, fe, ds := make([]int, len(lo)), make([]int, len(lo)), make([]int, len(lo))
				for k := range lo {
					fs[k] = lo[k] - p.Location[k].Start
					fe[k] = hi[k] - p.Location[k].Start
					ds[k] = lo[k] - start[k]
				}
				box, err := frag.Slice(fs, fe)
				if err != nil {
					return 0, err
				}
				mu.Lock()
				defer mu.Unlock()
				return int64(box.Len()), out.Paste(box, ds)
			},
		})
	}
	d.opts.Logger.Debug("reading fragments", "variable", v.Name(), "partitions", len(jobs))
	if err := transfer.Run(ctx, jobs, transfer.Options{Workers: d.opts.Workers, Logger: d.opts.Logger}); err != nil {
		return nil, fmt.Errorf("nca: read %q: %w", v.Name(), err)
	}
	return out, nil
}

// intersect clips a partition location to the box [start, end).
func intersect(loc []cfa.Range, start, end []int) (lo, hi []int, ok bool) {
	lo = make([]int, len(loc))
	hi = make([]int, len(loc))
	for i, r := range loc {
		lo[i] = max(r.Start, start[i])
		hi[i] = min(r.End, end[i])
		if lo[i] >= hi[i] {
			return nil, nil, false
		}
	}
	return lo, hi, true
}
