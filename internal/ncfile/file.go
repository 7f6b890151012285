// Package ncfile reads and writes netCDF containers through
// go-native-netcdf, exposing variables as flat arrays.
//
// Whole variables are loaded into memory. The writer produces netCDF3
// classic files; it cannot express groups or unlimited dimensions.
package ncfile

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Container formats as detected from the file signature.
const (
	FormatClassic = "NETCDF3_CLASSIC"
	Format64Bit   = "NETCDF3_64BIT"
	FormatNetCDF4 = "NETCDF4"
)

// Variable is one variable with its values. Array is nil for types with
// no array support (char); Values then holds the raw library value.
type Variable struct {
	Name       string
	Type       string
	Dimensions []string
	Attributes map[string]any
	Array      *Array
	Values     any
}

// Group is a named set of attributes and variables.
type Group struct {
	Name       string
	Attributes map[string]any
	Variables  []*Variable
}

// Variable returns the named variable or nil.
func (g *Group) Variable(name string) *Variable {
	for _, v := range g.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Dimension is a name and length recovered from variable shapes.
type Dimension struct {
	Name string
	Len  int
}

// Dimensions returns every dimension used by the group's variables, in
// first-use order.
func (g *Group) Dimensions() []Dimension {
	var out []Dimension
	seen := make(map[string]bool)
	for _, v := range g.Variables {
		shape := v.Shape()
		for i, d := range v.Dimensions {
			if seen[d] || i >= len(shape) {
				continue
			}
			seen[d] = true
			out = append(out, Dimension{Name: d, Len: shape[i]})
		}
	}
	return out
}

// Shape returns the variable's extent per dimension.
func (v *Variable) Shape() []int {
	if v.Array != nil {
		return v.Array.Shape
	}
	if s, ok := v.Values.(string); ok && len(v.Dimensions) == 1 {
		return []int{len(s)}
	}
	return nil
}

// File is a decoded container: the root group plus any subgroups.
type File struct {
	Format string
	Group
	Subgroups []*Group
}

// Open reads the container at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.NotFound.Wrap(err)
		}
		return nil, fmt.Errorf("ncfile: %w", err)
	}
	return Decode(f)
}

// Decode reads a container from r and closes it.
func Decode(r api.ReadSeekerCloser) (*File, error) {
	format, err := sniff(r)
	if err != nil {
		r.Close()
		return nil, err
	}
	nc, err := netcdf.New(r)
	if err != nil {
		r.Close()
		return nil, errkind.InvalidPartition.Wrap(fmt.Errorf("ncfile: decode: %w", err))
	}
	defer nc.Close()

	root, err := readGroup(nc, "root")
	if err != nil {
		return nil, err
	}
	out := &File{Format: format, Group: *root}
	for _, name := range nc.ListSubgroups() {
		sub, err := nc.GetGroup(name)
		if err != nil {
			return nil, fmt.Errorf("ncfile: group %q: %w", name, err)
		}
		g, err := readGroup(sub, name)
		sub.Close()
		if err != nil {
			return nil, err
		}
		out.Subgroups = append(out.Subgroups, g)
	}
	return out, nil
}

func sniff(r io.ReadSeeker) (string, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return "", errkind.InvalidPartition.Wrap(fmt.Errorf("ncfile: reading signature: %w", err))
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("ncfile: %w", err)
	}
	switch {
	case bytes.Equal(magic, []byte("CDF\x01")):
		return FormatClassic, nil
	case bytes.Equal(magic, []byte("CDF\x02")), bytes.Equal(magic, []byte("CDF\x05")):
		return Format64Bit, nil
	case bytes.Equal(magic, []byte("\x89HDF")):
		return FormatNetCDF4, nil
	}
	return "", errkind.InvalidPartition.New("ncfile: unrecognized signature %q", magic)
}

func readGroup(nc api.Group, name string) (*Group, error) {
	g := &Group{Name: name, Attributes: attributes(nc.Attributes())}
	for _, vn := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(vn)
		if err != nil {
			return nil, fmt.Errorf("ncfile: variable %q: %w", vn, err)
		}
		values, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("ncfile: variable %q: %w", vn, err)
		}
		v := &Variable{
			Name:       vn,
			Type:       vg.Type(),
			Dimensions: vg.Dimensions(),
			Attributes: attributes(vg.Attributes()),
		}
		if arr, err := flatten(values); err == nil {
			v.Array = arr
		} else {
			v.Values = values
		}
		g.Variables = append(g.Variables, v)
	}
	return g, nil
}

func attributes(am api.AttributeMap) map[string]any {
	out := make(map[string]any)
	if am == nil {
		return out
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// Create writes g as a netCDF3 classic file at path.
func Create(path string, f *File) error {
	if len(f.Subgroups) > 0 {
		return errkind.UnsupportedCombination.New("ncfile: classic containers cannot hold groups")
	}
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("ncfile: create %s: %w", path, err)
	}
	if err := writeGroup(cw, &f.Group); err != nil {
		cw.Close()
		os.Remove(path)
		return err
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("ncfile: close %s: %w", path, err)
	}
	return nil
}

func writeGroup(cw *cdf.CDFWriter, g *Group) error {
	if len(g.Attributes) > 0 {
		am, err := orderedMap(g.Attributes)
		if err != nil {
			return err
		}
		if err := cw.AddGlobalAttrs(am); err != nil {
			return fmt.Errorf("ncfile: global attributes: %w", err)
		}
	}
	for _, v := range g.Variables {
		am, err := orderedMap(v.Attributes)
		if err != nil {
			return fmt.Errorf("ncfile: variable %q: %w", v.Name, err)
		}
		values := v.Values
		if v.Array != nil {
			values = nest(v.Array)
		}
		err = cw.AddVar(v.Name, api.Variable{
			Values:     values,
			Dimensions: v.Dimensions,
			Attributes: am,
		})
		if err != nil {
			return fmt.Errorf("ncfile: variable %q: %w", v.Name, err)
		}
	}
	return nil
}

func orderedMap(attrs map[string]any) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(attrs))
	vals := make(map[string]any, len(attrs))
	for k, v := range attrs {
		keys = append(keys, k)
		vals[k] = normalize(v)
	}
	sort.Strings(keys)
	om, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		return nil, fmt.Errorf("ncfile: attributes: %w", err)
	}
	return om, nil
}

// normalize converts Go-native attribute values to types the classic
// writer accepts.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return narrow(int64(x))
	case int64:
		return narrow(x)
	case []int:
		wide := make([]int64, len(x))
		for i, e := range x {
			wide[i] = int64(e)
		}
		return narrowSlice(wide)
	case []int64:
		return narrowSlice(x)
	case []string:
		// Classic attributes hold a single string.
		s := ""
		for i, e := range x {
			if i > 0 {
				s += " "
			}
			s += e
		}
		return s
	case bool:
		if x {
			return int8(1)
		}
		return int8(0)
	}
	return v
}

// narrow stores x as int32 when it fits, as double otherwise. Classic
// files have no 64-bit integer type.
func narrow(x int64) any {
	if x >= math.MinInt32 && x <= math.MaxInt32 {
		return int32(x)
	}
	return float64(x)
}

func narrowSlice(xs []int64) any {
	out := make([]int32, len(xs))
	for i, x := range xs {
		if x < math.MinInt32 || x > math.MaxInt32 {
			wide := make([]float64, len(xs))
			for j, y := range xs {
				wide[j] = float64(y)
			}
			return wide
		}
		out[i] = int32(x)
	}
	return out
}

// Scalar returns a zero scalar of dataType, used for placeholder
// variables that carry only attributes.
func Scalar(dataType string) any {
	switch dataType {
	case "byte":
		return int8(0)
	case "short":
		return int16(0)
	case "float":
		return float32(0)
	case "double":
		return float64(0)
	}
	return int32(0)
}
