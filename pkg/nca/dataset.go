package nca

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/filecache"
	"github.com/ligustah/cfa/pkg/objstore"
)

// CFA convention versions.
const (
	Version04 = "0.4"
	Version05 = "0.5"
)

// Options configures dataset access.
type Options struct {
	// Pool routes object-store locations. Required for remote paths.
	Pool *objstore.Pool
	// Cache materializes remote files. When nil, remote files are read
	// into memory.
	Cache *filecache.Cache
	// Diskless reads remote files into memory instead of the cache.
	Diskless bool
	Stream   *objstore.StreamOptions
	// Workers bounds parallel fragment transfers. Zero means 8.
	Workers int
	// Version is the CFA version written by Create. Empty means 0.4.
	Version string
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Version == "" {
		o.Version = Version04
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

type inline struct {
	array *ncfile.Array
	raw   any
}

// Dataset is an open master-array file.
type Dataset struct {
	path     string
	version  string
	writable bool
	opts     Options
	model    *cfa.Dataset
	data     map[*cfa.Variable]inline
	closed   bool
}

// CheckFormat reports whether a dataset of format and version can be
// written.
func CheckFormat(format, version string) error {
	switch format {
	case cfa.FormatCFA3:
	case cfa.FormatCFA4:
		return errkind.UnsupportedCombination.New("nca: writing %s containers is not supported", format)
	default:
		return errkind.UnsupportedCombination.New("nca: unknown format %q", format)
	}
	if version != Version04 {
		return errkind.UnsupportedCombination.New("nca: CFA-%s cannot be written to a %s container", version, format)
	}
	return nil
}

// Create starts a new, empty dataset that is written to path on Close.
func Create(path, format string, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()
	if err := CheckFormat(format, opts.Version); err != nil {
		return nil, err
	}
	if objstore.IsRemote(path) && opts.Pool == nil {
		return nil, errkind.UnsupportedOperation.New("nca: %s needs an object-store pool", path)
	}
	return &Dataset{
		path:     path,
		version:  opts.Version,
		writable: true,
		opts:     opts,
		model:    cfa.NewDataset(format),
		data:     make(map[*cfa.Variable]inline),
	}, nil
}

// Path returns the master-array file location.
func (d *Dataset) Path() string { return d.path }

// Version returns the CFA convention version.
func (d *Dataset) Version() string { return d.version }

// Model returns the partition data model.
func (d *Dataset) Model() *cfa.Dataset { return d.model }

// SetData stores the values of an inline variable.
func (d *Dataset) SetData(v *cfa.Variable, a *ncfile.Array) error {
	if v.Kind() != cfa.Inline {
		return errkind.UnsupportedOperation.New("nca: variable %q is fragmented", v.Name())
	}
	if len(a.Shape) != len(v.Dimensions()) {
		return errkind.InvalidPartition.New("nca: variable %q: data of rank %d for %d dimensions",
			v.Name(), len(a.Shape), len(v.Dimensions()))
	}
	d.data[v] = inline{array: a}
	return nil
}

// SetValues stores raw values of an inline variable whose type has no
// array support, such as char.
func (d *Dataset) SetValues(v *cfa.Variable, values any) error {
	if v.Kind() != cfa.Inline {
		return errkind.UnsupportedOperation.New("nca: variable %q is fragmented", v.Name())
	}
	d.data[v] = inline{raw: values}
	return nil
}

// Data returns the values of an inline variable.
func (d *Dataset) Data(v *cfa.Variable) (*ncfile.Array, bool) {
	in, ok := d.data[v]
	if !ok || in.array == nil {
		return nil, false
	}
	return in.array, true
}

// Close writes a dataset opened with Create and releases it. Datasets
// opened for reading are discarded.
func (d *Dataset) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	defer func() {
		d.data = nil
	}()
	if !d.writable {
		return nil
	}
	return d.Save(ctx, d.path)
}

// Save writes the master-array file to path.
func (d *Dataset) Save(ctx context.Context, path string) error {
	if err := CheckFormat(d.model.Format, d.version); err != nil {
		return err
	}
	f, err := d.encode()
	if err != nil {
		return err
	}
	_, err = WriteFile(ctx, path, f, d.opts)
	return err
}

func (d *Dataset) encode() (*ncfile.File, error) {
	groups := d.model.Groups()
	if len(groups) > 1 {
		return nil, errkind.UnsupportedCombination.New("nca: %s containers cannot hold groups (have %s)",
			d.model.Format, strings.Join(groups[1:], ", "))
	}
	root := d.model.Root()

	attrs := d.model.Metadata.Clone()
	for k, v := range root.Metadata {
		attrs[k] = v
	}
	attrs["Conventions"] = conventions(attrs["Conventions"], d.version)

	f := &ncfile.File{Format: ncfile.FormatClassic, Group: ncfile.Group{Name: cfa.RootGroup, Attributes: attrs}}
	for _, name := range root.Variables() {
		v, err := root.GetVariable(name)
		if err != nil {
			return nil, err
		}
		nv, err := d.encodeVariable(v)
		if err != nil {
			return nil, err
		}
		f.Variables = append(f.Variables, nv)
	}
	return f, nil
}

func (d *Dataset) encodeVariable(v *cfa.Variable) (*ncfile.Variable, error) {
	nv := &ncfile.Variable{
		Name:       v.Name(),
		Type:       v.Type(),
		Attributes: map[string]any(v.Metadata.Clone()),
	}
	if v.Kind() == cfa.Fragmented {
		doc, err := cfa.MarshalArray(v)
		if err != nil {
			return nil, err
		}
		nv.Attributes[cfa.AttrRole] = cfa.RoleValue
		nv.Attributes[cfa.AttrDimensions] = strings.Join(v.Dimensions(), " ")
		nv.Attributes[cfa.AttrArray] = string(doc)
		nv.Values = ncfile.Scalar(v.Type())
		return nv, nil
	}

	nv.Dimensions = v.Dimensions()
	in, ok := d.data[v]
	switch {
	case ok && in.array != nil:
		nv.Array = in.array
	case ok:
		nv.Values = in.raw
	default:
		shape, err := d.shape(v)
		if err != nil {
			return nil, err
		}
		arr, err := ncfile.NewArray(v.Type(), shape)
		if err != nil {
			return nil, fmt.Errorf("nca: variable %q has no data: %w", v.Name(), err)
		}
		nv.Array = arr
	}
	return nv, nil
}

// conventions adds CFA-<version> to an existing Conventions value.
func conventions(existing any, version string) string {
	tag := "CFA-" + version
	s, _ := existing.(string)
	var out []string
	for _, c := range strings.Fields(strings.ReplaceAll(s, ",", " ")) {
		if !strings.HasPrefix(c, "CFA-") {
			out = append(out, c)
		}
	}
	return strings.Join(append(out, tag), " ")
}

func versionOf(conv any) string {
	s, _ := conv.(string)
	for _, c := range strings.Fields(strings.ReplaceAll(s, ",", " ")) {
		if v, ok := strings.CutPrefix(c, "CFA-"); ok {
			return v
		}
	}
	return Version04
}

// shape returns the extent of v: dimension lengths, widened by partition
// locations and inline data along unlimited dimensions.
func (d *Dataset) shape(v *cfa.Variable) ([]int, error) {
	shape, err := d.model.Shape(v)
	if err != nil {
		return nil, err
	}
	if v.Kind() == cfa.Fragmented {
		for i, n := range v.Extent() {
			if n > shape[i] {
				shape[i] = n
			}
		}
		return shape, nil
	}
	if in, ok := d.data[v]; ok && in.array != nil {
		for i, n := range in.array.Shape {
			if i < len(shape) && n > shape[i] {
				shape[i] = n
			}
		}
	}
	return shape, nil
}

// Shape returns the current extent of v.
func (d *Dataset) Shape(v *cfa.Variable) ([]int, error) {
	return d.shape(v)
}

// Open reads the master-array file at path.
//
// Returns an error if:
//   - The file doesn't exist (NotFound)
//   - The file is not a netCDF container, or a cfa_array attribute is
//     malformed (InvalidPartition)
//   - The object store cannot be reached (Transport)
func Open(ctx context.Context, path string, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()
	d := &Dataset{path: path, opts: opts, data: make(map[*cfa.Variable]inline)}
	f, err := d.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := d.decode(f); err != nil {
		return nil, fmt.Errorf("nca: open %s: %w", path, err)
	}
	return d, nil
}

// OpenForUpdate reads the master-array file at path and writes it back on
// Close.
func OpenForUpdate(ctx context.Context, path string, opts Options) (*Dataset, error) {
	d, err := Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	d.writable = true
	return d, nil
}

func (d *Dataset) decode(f *ncfile.File) error {
	format := cfa.FormatCFA3
	if f.Format == ncfile.FormatNetCDF4 {
		format = cfa.FormatCFA4
	}
	d.model = cfa.NewDataset(format)
	d.version = versionOf(f.Attributes["Conventions"])
	for k, v := range f.Attributes {
		d.model.Metadata[k] = v
	}

	if err := d.decodeGroup(d.model.Root(), &f.Group); err != nil {
		return err
	}
	for _, sg := range f.Subgroups {
		g, err := d.model.CreateGroup(sg.Name, cfa.Metadata(sg.Attributes))
		if err != nil {
			return err
		}
		if err := d.decodeGroup(g, sg); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) decodeGroup(g *cfa.Group, ng *ncfile.Group) error {
	for _, dim := range ng.Dimensions() {
		if _, err := d.model.LookupDimension(g, dim.Name); err == nil {
			continue
		}
		if _, err := g.CreateDimension(dim.Name, dim.Len, nil); err != nil {
			return err
		}
	}

	for _, nv := range ng.Variables {
		md := cfa.Metadata(nv.Attributes).Clone()
		if md[cfa.AttrRole] != cfa.RoleValue {
			// Variables without array support carry no shape; their
			// dimensions are recorded with unknown length.
			for _, name := range nv.Dimensions {
				if _, err := d.model.LookupDimension(g, name); err != nil {
					if _, err := g.CreateDimension(name, 0, nil); err != nil {
						return err
					}
				}
			}
			v, err := d.model.CreateVariable(g, nv.Name, nv.Type, nv.Dimensions, md)
			if err != nil {
				return err
			}
			d.data[v] = inline{array: nv.Array, raw: nv.Values}
			continue
		}

		doc, _ := md[cfa.AttrArray].(string)
		dimAttr, _ := md[cfa.AttrDimensions].(string)
		delete(md, cfa.AttrRole)
		delete(md, cfa.AttrArray)
		delete(md, cfa.AttrDimensions)
		v, err := g.CreateVariable(nv.Name, nv.Type, strings.Fields(dimAttr), md)
		if err != nil {
			return err
		}
		if err := cfa.UnmarshalArray([]byte(doc), v); err != nil {
			return fmt.Errorf("variable %q: %w", nv.Name, err)
		}
		// Dimensions without a coordinate variable are recovered from
		// the partition locations.
		extent := v.Extent()
		for i, name := range v.Dimensions() {
			if _, err := d.model.LookupDimension(g, name); err == nil {
				continue
			}
			if _, err := g.CreateDimension(name, extent[i], nil); err != nil {
				return err
			}
		}
	}
	return nil
}
