package nca

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/objstore"
)

func tasData() *ncfile.Array {
	return &ncfile.Array{Shape: []int{4, 2}, Data: []float32{0, 1, 2, 3, 4, 5, 6, 7}}
}

// writeFragment stores rows [start, end) of tasData as a fragment file.
func writeFragment(t *testing.T, path string, start, end int) {
	t.Helper()
	box, err := tasData().Slice([]int{start, 0}, []int{end, 2})
	require.NoError(t, err)
	times := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		times = append(times, float64(i))
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, ncfile.Create(path, &ncfile.File{Group: ncfile.Group{
		Variables: []*ncfile.Variable{
			{Name: "time", Type: "double", Dimensions: []string{"time"},
				Array: &ncfile.Array{Shape: []int{end - start}, Data: times}},
			{Name: "tas", Type: "float", Dimensions: []string{"time", "lat"},
				Attributes: map[string]any{"units": "K"}, Array: box},
		},
	}}))
}

// newMaster creates a dataset at dir/data.nca whose tas variable is
// split along time into data/data_tas_[0].nc and data/data_tas_[1].nc.
func newMaster(t *testing.T, dir string, opts Options) *Dataset {
	t.Helper()
	master := filepath.Join(dir, "data.nca")
	writeFragment(t, filepath.Join(dir, "data", "data_tas_[0].nc"), 0, 3)
	writeFragment(t, filepath.Join(dir, "data", "data_tas_[1].nc"), 3, 4)

	ds, err := Create(master, cfa.FormatCFA3, opts)
	require.NoError(t, err)
	model := ds.Model()
	model.Metadata["Conventions"] = "CF-1.6"
	root := model.Root()
	_, err = root.CreateDimension("time", 4, nil)
	require.NoError(t, err)
	_, err = root.CreateDimension("lat", 2, nil)
	require.NoError(t, err)

	timeVar, err := model.CreateVariable(root, "time", "double", []string{"time"}, cfa.Metadata{"units": "days since 2000-01-01"})
	require.NoError(t, err)
	require.NoError(t, ds.SetData(timeVar, &ncfile.Array{Shape: []int{4}, Data: []float64{0, 1, 2, 3}}))
	lat, err := model.CreateVariable(root, "lat", "float", []string{"lat"}, nil)
	require.NoError(t, err)
	require.NoError(t, ds.SetData(lat, &ncfile.Array{Shape: []int{2}, Data: []float32{-45, 45}}))

	tas, err := model.CreateVariable(root, "tas", "float", []string{"time", "lat"}, cfa.Metadata{"units": "K"})
	require.NoError(t, err)
	require.NoError(t, tas.AttachPartitionMatrix([]string{"time", "lat"}, []int{2, 1}))
	require.NoError(t, tas.SetBase("data"))
	for i, r := range []cfa.Range{{Start: 0, End: 3}, {Start: 3, End: 4}} {
		require.NoError(t, tas.WritePartition(cfa.Partition{
			Index:    []int{i, 0},
			Location: []cfa.Range{r, {Start: 0, End: 2}},
			Subarray: cfa.Subarray{
				File:   fmt.Sprintf("data_tas_[%d].nc", i),
				Format: "netCDF",
				NCVar:  "tas",
				Shape:  []int{r.Len(), 2},
			},
		}))
	}
	return ds
}

func TestCreateRejectsUnwritableFormats(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(filepath.Join(dir, "a.nca"), cfa.FormatCFA4, Options{})
	assert.True(t, errkind.UnsupportedCombination.Has(err))

	_, err = Create(filepath.Join(dir, "a.nca"), cfa.FormatCFA3, Options{Version: Version05})
	assert.True(t, errkind.UnsupportedCombination.Has(err))

	_, err = Create("mem://host/bucket/a.nca", cfa.FormatCFA3, Options{})
	assert.True(t, errkind.UnsupportedOperation.Has(err))
}

func TestSaveRejectsGroups(t *testing.T) {
	ds, err := Create(filepath.Join(t.TempDir(), "a.nca"), cfa.FormatCFA3, Options{})
	require.NoError(t, err)
	_, err = ds.Model().CreateGroup("forecast", nil)
	require.NoError(t, err)
	assert.True(t, errkind.UnsupportedCombination.Has(ds.Close(context.Background())))
}

func TestCloseOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ds := newMaster(t, dir, Options{})
	require.NoError(t, ds.Close(ctx))
	require.NoError(t, ds.Close(ctx), "second close is a no-op")

	got, err := Open(ctx, filepath.Join(dir, "data.nca"), Options{})
	require.NoError(t, err)
	defer got.Close(ctx)

	assert.Equal(t, Version04, got.Version())
	assert.Equal(t, cfa.FormatCFA3, got.Model().Format)
	assert.Equal(t, "CF-1.6 CFA-0.4", got.Model().Metadata["Conventions"])

	root := got.Model().Root()
	timeDim, err := root.GetDimension("time")
	require.NoError(t, err)
	assert.Equal(t, 4, timeDim.Len())

	tas, err := root.GetVariable("tas")
	require.NoError(t, err)
	assert.Equal(t, cfa.Fragmented, tas.Kind())
	assert.Equal(t, []string{"time", "lat"}, tas.Dimensions())
	assert.Equal(t, "K", tas.Metadata["units"])
	assert.NotContains(t, tas.Metadata, cfa.AttrArray)
	m, ok := tas.PartitionMatrix()
	require.True(t, ok)
	assert.Equal(t, []int{2, 1}, m.Shape())
	assert.Equal(t, "data", m.Base())

	arr, err := got.ReadVariable(ctx, tas)
	require.NoError(t, err)
	assert.Equal(t, tasData(), arr)

	timeVar, err := root.GetVariable("time")
	require.NoError(t, err)
	assert.Equal(t, cfa.Inline, timeVar.Kind())
	times, err := got.ReadVariable(ctx, timeVar)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, times.Data)
}

func TestReadRegion(t *testing.T) {
	ctx := context.Background()
	ds := newMaster(t, t.TempDir(), Options{Workers: 2})

	tas, err := ds.Model().Root().GetVariable("tas")
	require.NoError(t, err)
	arr, err := ds.ReadRegion(ctx, tas, []int{2, 1}, []int{4, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, arr.Shape)
	assert.Equal(t, []float32{5, 7}, arr.Data)

	_, err = ds.ReadRegion(ctx, tas, []int{0, 0}, []int{5, 2})
	assert.True(t, errkind.Range.Has(err))
}

func TestReadDetectsShapeMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ds := newMaster(t, dir, Options{})
	frag := filepath.Join(dir, "data", "data_tas_[1].nc")
	require.NoError(t, os.Remove(frag))
	writeFragment(t, frag, 2, 4)

	tas, err := ds.Model().Root().GetVariable("tas")
	require.NoError(t, err)
	_, err = ds.ReadVariable(ctx, tas)
	assert.True(t, errkind.InvalidPartition.Has(err))
}

func TestRemoteMasterAndFragments(t *testing.T) {
	ctx := context.Background()
	pool := objstore.NewPool(objstore.PoolOptions{MaxSessionsPerKey: 2})
	defer pool.Close()
	opts := Options{Pool: pool, Workers: 2}

	dir := t.TempDir()
	ds := newMaster(t, dir, opts)
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("data_tas_[%d].nc", i)
		loc, err := objstore.ParseLocation("mem://host/bucket/out/data/" + name)
		require.NoError(t, err)
		require.NoError(t, pool.Upload(ctx, filepath.Join(dir, "data", name), loc, nil))
	}
	require.NoError(t, ds.Save(ctx, "mem://host/bucket/out/data.nca"))

	got, err := Open(ctx, "mem://host/bucket/out/data.nca", opts)
	require.NoError(t, err)
	tas, err := got.Model().Root().GetVariable("tas")
	require.NoError(t, err)
	assert.Equal(t, "mem://host/bucket/out/data/data_tas_[0].nc", got.Resolve(tas, "data_tas_[0].nc"))

	arr, err := got.ReadVariable(ctx, tas)
	require.NoError(t, err)
	assert.Equal(t, tasData(), arr)

	_, err = Open(ctx, "mem://host/bucket/out/missing.nca", opts)
	assert.True(t, errkind.NotFound.Has(err))
}

func TestMove(t *testing.T) {
	ds := newMaster(t, t.TempDir(), Options{})

	n, err := ds.Move("/archive/run1/", Filter{Variable: "tas", Partition: []int{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tas, err := ds.Model().Root().GetVariable("tas")
	require.NoError(t, err)
	p, err := tas.GetPartition([]int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, "/archive/run1/data_tas_[1].nc", p.Subarray.File)
	p, err = tas.GetPartition([]int{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "data_tas_[0].nc", p.Subarray.File)

	n, err = ds.Move("/archive/run2", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = ds.Move("/x", Filter{Variable: "missing"})
	assert.True(t, errkind.NotFound.Has(err))
	_, err = ds.Move("/x", Filter{Group: "missing"})
	assert.True(t, errkind.NotFound.Has(err))
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, newMaster(t, dir, Options{}).Close(ctx))
	master := filepath.Join(dir, "data.nca")

	result, err := Validate(ctx, master, Options{}, ValidateOptions{Deep: true})
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Errors)
	assert.Equal(t, 1, result.Variables)
	assert.Equal(t, 2, result.Partitions)

	require.NoError(t, os.Remove(filepath.Join(dir, "data", "data_tas_[1].nc")))
	result, err = Validate(ctx, master, Options{}, ValidateOptions{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.MissingFiles)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "missing")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, newMaster(t, dir, Options{}).Close(ctx))

	require.NoError(t, Delete(ctx, filepath.Join(dir, "data.nca"), Options{}))
	_, err := os.Stat(filepath.Join(dir, "data.nca"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "data"))
	assert.True(t, os.IsNotExist(err), "empty fragment directory is removed")

	assert.True(t, errkind.NotFound.Has(Delete(ctx, filepath.Join(dir, "data.nca"), Options{})))
}

func TestDescribe(t *testing.T) {
	ds := newMaster(t, t.TempDir(), Options{})
	var buf bytes.Buffer
	require.NoError(t, ds.Describe(&buf, DescribeOptions{Partitions: true}))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "dataset "))
	assert.Contains(t, out, "\ttime = 4 ;\n")
	assert.Contains(t, out, "\tfloat tas(time, lat) ;\n")
	assert.Contains(t, out, "\t\ttas:pmshape = 2, 1 ;\n")
	assert.Contains(t, out, "\t\ttas:pmdimensions = \"time\", \"lat\" ;\n")
	assert.Contains(t, out, "partition [1 0]: location [3, 4) [0, 2)")
	assert.Contains(t, out, ":Conventions = \"CF-1.6\" ;")

	buf.Reset()
	require.NoError(t, ds.Describe(&buf, DescribeOptions{Variable: "lat"}))
	assert.NotContains(t, buf.String(), "tas")
}
