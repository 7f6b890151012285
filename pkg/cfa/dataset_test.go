package cfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/cfa/pkg/errkind"
)

func newTestDataset(t *testing.T) (*Dataset, *Variable) {
	t.Helper()
	ds := NewDataset(FormatCFA3)
	root := ds.Root()
	_, err := root.CreateDimension("time", 4, nil)
	require.NoError(t, err)
	_, err = root.CreateDimension("lat", 2, nil)
	require.NoError(t, err)
	v, err := ds.CreateVariable(root, "tas", "float", []string{"time", "lat"}, Metadata{"units": "K"})
	require.NoError(t, err)
	return ds, v
}

func TestDatasetCreateConflicts(t *testing.T) {
	ds, _ := newTestDataset(t)
	root := ds.Root()

	_, err := ds.CreateGroup(RootGroup, nil)
	assert.True(t, errkind.Conflict.Has(err))

	_, err = root.CreateDimension("time", 1, nil)
	assert.True(t, errkind.Conflict.Has(err))

	_, err = root.CreateVariable("tas", "float", nil, nil)
	assert.True(t, errkind.Conflict.Has(err))
}

func TestDatasetNotFound(t *testing.T) {
	ds, _ := newTestDataset(t)
	root := ds.Root()

	_, err := ds.GetGroup("missing")
	assert.True(t, errkind.NotFound.Has(err))
	_, err = root.GetDimension("missing")
	assert.True(t, errkind.NotFound.Has(err))
	_, err = root.GetVariable("missing")
	assert.True(t, errkind.NotFound.Has(err))
	_, err = ds.CreateVariable(root, "bad", "float", []string{"nope"}, nil)
	assert.True(t, errkind.NotFound.Has(err))
	assert.True(t, errkind.NotFound.Has(ds.RenameGroup("missing", "x")))
}

func TestGroupDimensionsFallBackToRoot(t *testing.T) {
	ds, _ := newTestDataset(t)
	g, err := ds.CreateGroup("model", Metadata{"source": "test"})
	require.NoError(t, err)

	v, err := ds.CreateVariable(g, "pr", "double", []string{"time"}, nil)
	require.NoError(t, err)

	shape, err := ds.Shape(v)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, shape)

	owner, err := ds.GroupOf(v)
	require.NoError(t, err)
	assert.Equal(t, "model", owner.Name())
}

func TestRenames(t *testing.T) {
	ds, v := newTestDataset(t)
	root := ds.Root()
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))

	require.NoError(t, root.RenameDimension("time", "t"))
	assert.Equal(t, []string{"t", "lat"}, v.Dimensions())
	m, ok := v.PartitionMatrix()
	require.True(t, ok)
	assert.Equal(t, []string{"t"}, m.Dimensions())
	assert.Equal(t, []string{"t", "lat"}, root.Dimensions())

	require.NoError(t, root.RenameVariable("tas", "air"))
	got, err := root.GetVariable("air")
	require.NoError(t, err)
	assert.Same(t, v, got)
	assert.Equal(t, Fragmented, got.Kind())

	g, err := ds.CreateGroup("a", nil)
	require.NoError(t, err)
	require.NoError(t, ds.RenameGroup("a", "b"))
	assert.Equal(t, "b", g.Name())
	assert.Equal(t, []string{RootGroup, "b"}, ds.Groups())

	assert.True(t, errkind.UnsupportedOperation.Has(ds.RenameGroup(RootGroup, "top")))
	assert.True(t, errkind.Conflict.Has(root.RenameDimension("t", "lat")))
}
