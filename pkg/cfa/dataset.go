package cfa

import (
	"sort"
	"sync"

	"github.com/ligustah/cfa/pkg/errkind"
)

// RootGroup is the name of the group every dataset contains.
const RootGroup = "root"

// Dataset formats.
const (
	// FormatCFA3 stores the master array in a netCDF3 classic container.
	FormatCFA3 = "CFA3"
	// FormatCFA4 stores the master array in a netCDF4 container.
	FormatCFA4 = "CFA4"
)

// Metadata is a free-form attribute map.
type Metadata map[string]any

// Clone returns a shallow copy. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dataset is the root of the CFA hierarchy.
type Dataset struct {
	Format   string
	Metadata Metadata

	mu     sync.RWMutex
	nextID int
	groups []*Group // creation order
	byName map[string]*Group
	byID   map[int]*Group
}

// NewDataset creates an empty dataset holding only the root group.
func NewDataset(format string) *Dataset {
	d := &Dataset{
		Format:   format,
		Metadata: Metadata{},
		byName:   make(map[string]*Group),
		byID:     make(map[int]*Group),
	}
	d.addGroup(RootGroup, nil)
	return d
}

func (d *Dataset) addGroup(name string, md Metadata) *Group {
	g := &Group{
		id:       d.nextID,
		name:     name,
		Metadata: md.Clone(),
		dims:     make(map[string]*Dimension),
		vars:     make(map[string]*Variable),
	}
	d.nextID++
	d.groups = append(d.groups, g)
	d.byName[name] = g
	d.byID[g.id] = g
	return g
}

// Root returns the root group.
func (d *Dataset) Root() *Group {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byName[RootGroup]
}

// CreateGroup adds a group. It fails with a Conflict error if the name is
// taken.
func (d *Dataset) CreateGroup(name string, md Metadata) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[name]; ok {
		return nil, errkind.Conflict.New("group %q already exists", name)
	}
	return d.addGroup(name, md), nil
}

// GetGroup looks up a group by name.
func (d *Dataset) GetGroup(name string) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.byName[name]
	if !ok {
		return nil, errkind.NotFound.New("group %q", name)
	}
	return g, nil
}

// RenameGroup renames a group, keeping its dimensions and variables.
// The root group cannot be renamed.
func (d *Dataset) RenameGroup(oldName, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.byName[oldName]
	if !ok {
		return errkind.NotFound.New("group %q", oldName)
	}
	if oldName == RootGroup {
		return errkind.UnsupportedOperation.New("the root group cannot be renamed")
	}
	if _, ok := d.byName[newName]; ok {
		return errkind.Conflict.New("group %q already exists", newName)
	}
	delete(d.byName, oldName)
	g.mu.Lock()
	g.name = newName
	g.mu.Unlock()
	d.byName[newName] = g
	return nil
}

// Groups returns the group names in creation order.
func (d *Dataset) Groups() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.groups))
	for i, g := range d.groups {
		names[i] = g.Name()
	}
	return names
}

// GroupOf resolves the group a variable belongs to.
func (d *Dataset) GroupOf(v *Variable) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.byID[v.groupID]
	if !ok {
		return nil, errkind.NotFound.New("group of variable %q", v.Name())
	}
	return g, nil
}

// LookupDimension finds a dimension visible from group g: g's own
// dimensions first, then the root group's.
func (d *Dataset) LookupDimension(g *Group, name string) (*Dimension, error) {
	if dim, err := g.GetDimension(name); err == nil {
		return dim, nil
	}
	root := d.Root()
	if root != g {
		if dim, err := root.GetDimension(name); err == nil {
			return dim, nil
		}
	}
	return nil, errkind.NotFound.New("dimension %q in group %q", name, g.Name())
}

// Shape returns a variable's shape from the current dimension lengths.
// Unlimited dimensions report 0.
func (d *Dataset) Shape(v *Variable) ([]int, error) {
	g, err := d.GroupOf(v)
	if err != nil {
		return nil, err
	}
	dims := v.Dimensions()
	shape := make([]int, len(dims))
	for i, name := range dims {
		dim, err := d.LookupDimension(g, name)
		if err != nil {
			return nil, err
		}
		shape[i] = dim.Len()
	}
	return shape, nil
}

// Group holds dimensions and variables.
type Group struct {
	Metadata Metadata

	id       int
	mu       sync.RWMutex
	name     string
	dims     map[string]*Dimension
	dimOrder []string
	vars     map[string]*Variable
	varOrder []string
}

// Name returns the group name.
func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// CreateDimension adds a dimension. A length of 0 marks it unlimited.
func (g *Group) CreateDimension(name string, length int, md Metadata) (*Dimension, error) {
	if length < 0 {
		return nil, errkind.InvalidPartition.New("dimension %q has negative length %d", name, length)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dims[name]; ok {
		return nil, errkind.Conflict.New("dimension %q already exists in group %q", name, g.name)
	}
	dim := &Dimension{name: name, length: length, Metadata: md.Clone()}
	g.dims[name] = dim
	g.dimOrder = append(g.dimOrder, name)
	return dim, nil
}

// GetDimension looks up a dimension of this group.
func (g *Group) GetDimension(name string) (*Dimension, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dim, ok := g.dims[name]
	if !ok {
		return nil, errkind.NotFound.New("dimension %q in group %q", name, g.name)
	}
	return dim, nil
}

// RenameDimension renames a dimension and updates every variable of the
// group that depends on it, including partition matrix dimensions.
func (g *Group) RenameDimension(oldName, newName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	dim, ok := g.dims[oldName]
	if !ok {
		return errkind.NotFound.New("dimension %q in group %q", oldName, g.name)
	}
	if _, ok := g.dims[newName]; ok {
		return errkind.Conflict.New("dimension %q already exists in group %q", newName, g.name)
	}
	delete(g.dims, oldName)
	dim.mu.Lock()
	dim.name = newName
	dim.mu.Unlock()
	g.dims[newName] = dim
	replaceName(g.dimOrder, oldName, newName)
	for _, v := range g.vars {
		v.renameDimension(oldName, newName)
	}
	return nil
}

// Dimensions returns the dimension names in creation order.
func (g *Group) Dimensions() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dimOrder...)
}

// CreateVariable adds an inline variable depending on dims, in order.
// Attach a partition matrix to make it fragmented.
func (g *Group) CreateVariable(name, dataType string, dims []string, md Metadata) (*Variable, error) {
	return g.createVariable(name, dataType, dims, md, g.GetDimension)
}

func (g *Group) createVariable(name, dataType string, dims []string, md Metadata,
	lookup func(string) (*Dimension, error)) (*Variable, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.vars[name]; ok {
		return nil, errkind.Conflict.New("variable %q already exists in group %q", name, g.name)
	}
	v := &Variable{
		name:     name,
		dataType: dataType,
		dims:     append([]string(nil), dims...),
		groupID:  g.id,
		Metadata: md.Clone(),
		lookup:   lookup,
	}
	g.vars[name] = v
	g.varOrder = append(g.varOrder, name)
	return v, nil
}

// GetVariable looks up a variable of this group.
func (g *Group) GetVariable(name string) (*Variable, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vars[name]
	if !ok {
		return nil, errkind.NotFound.New("variable %q in group %q", name, g.name)
	}
	return v, nil
}

// RenameVariable renames a variable. Its partitions and metadata are
// kept; subarray variable names refer to the fragment files and do not
// change.
func (g *Group) RenameVariable(oldName, newName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vars[oldName]
	if !ok {
		return errkind.NotFound.New("variable %q in group %q", oldName, g.name)
	}
	if _, ok := g.vars[newName]; ok {
		return errkind.Conflict.New("variable %q already exists in group %q", newName, g.name)
	}
	delete(g.vars, oldName)
	v.mu.Lock()
	v.name = newName
	v.mu.Unlock()
	g.vars[newName] = v
	replaceName(g.varOrder, oldName, newName)
	return nil
}

// Variables returns the variable names in creation order.
func (g *Group) Variables() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.varOrder...)
}

func replaceName(names []string, oldName, newName string) {
	for i, n := range names {
		if n == oldName {
			names[i] = newName
		}
	}
}

// Dimension is a named axis.
type Dimension struct {
	Metadata Metadata

	mu     sync.RWMutex
	name   string
	length int
}

// Name returns the dimension name.
func (d *Dimension) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// Len returns the length. 0 denotes an unlimited dimension.
func (d *Dimension) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.length
}

// Unlimited reports whether the dimension has no fixed length.
func (d *Dimension) Unlimited() bool {
	return d.Len() == 0
}

// CreateVariable adds a variable to g after checking that every
// dimension it depends on is visible from g.
func (d *Dataset) CreateVariable(g *Group, name, dataType string, dims []string, md Metadata) (*Variable, error) {
	for _, dim := range dims {
		if _, err := d.LookupDimension(g, dim); err != nil {
			return nil, err
		}
	}
	return g.createVariable(name, dataType, dims, md, func(name string) (*Dimension, error) {
		return d.LookupDimension(g, name)
	})
}
