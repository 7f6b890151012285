package nca

import (
	"fmt"
	"io"
	"strings"

	"github.com/ligustah/cfa/pkg/cfa"
)

// DescribeOptions selects what Describe prints.
type DescribeOptions struct {
	// Group and Variable restrict the output when set.
	Group    string
	Variable string
	// Partitions lists every partition of fragmented variables.
	Partitions bool
}

// Describe writes an ncdump-like summary of the dataset to w.
func (d *Dataset) Describe(w io.Writer, opts DescribeOptions) error {
	p := &printer{w: w}
	p.printf("dataset %s {\n", d.path)
	p.printf("// format: %s, CFA-%s\n", d.model.Format, d.version)

	for _, gname := range d.model.Groups() {
		if opts.Group != "" && gname != opts.Group {
			continue
		}
		g, err := d.model.GetGroup(gname)
		if err != nil {
			return err
		}
		if gname != cfa.RootGroup {
			p.printf("\ngroup: %s {\n", gname)
		}
		if err := d.describeGroup(p, g, opts); err != nil {
			return err
		}
		if gname != cfa.RootGroup {
			p.printf("} // group %s\n", gname)
		}
	}

	if opts.Group == "" && opts.Variable == "" && len(d.model.Metadata) > 0 {
		p.printf("\n// global attributes:\n")
		for _, k := range d.model.Metadata.Keys() {
			p.printf("\t\t:%s = %s ;\n", k, formatValue(d.model.Metadata[k]))
		}
	}
	p.printf("}\n")
	return p.err
}

func (d *Dataset) describeGroup(p *printer, g *cfa.Group, opts DescribeOptions) error {
	if opts.Variable == "" {
		p.printf("dimensions:\n")
		for _, name := range g.Dimensions() {
			dim, err := g.GetDimension(name)
			if err != nil {
				return err
			}
			if dim.Unlimited() {
				p.printf("\t%s = UNLIMITED ;\n", name)
			} else {
				p.printf("\t%s = %d ;\n", name, dim.Len())
			}
		}
	}

	p.printf("variables:\n")
	for _, name := range g.Variables() {
		if opts.Variable != "" && name != opts.Variable {
			continue
		}
		v, err := g.GetVariable(name)
		if err != nil {
			return err
		}
		p.printf("\t%s %s(%s) ;\n", v.Type(), name, strings.Join(v.Dimensions(), ", "))
		for _, k := range v.Metadata.Keys() {
			p.printf("\t\t%s:%s = %s ;\n", name, k, formatValue(v.Metadata[k]))
		}
		m, ok := v.PartitionMatrix()
		if !ok {
			continue
		}
		p.printf("\t\t%s:pmdimensions = %s ;\n", name, formatValue(m.Dimensions()))
		p.printf("\t\t%s:pmshape = %s ;\n", name, formatValue(m.Shape()))
		if m.Base() != "" {
			p.printf("\t\t%s:base = %q ;\n", name, m.Base())
		}
		if !opts.Partitions {
			continue
		}
		for _, part := range v.Partitions() {
			loc := make([]string, len(part.Location))
			for i, r := range part.Location {
				loc[i] = fmt.Sprintf("[%d, %d)", r.Start, r.End)
			}
			p.printf("\t\t\tpartition %v: location %s file %q ncvar %q shape %v\n",
				part.Index, strings.Join(loc, " "), part.Subarray.File, part.Subarray.NCVar, part.Subarray.Shape)
		}
	}
	return nil
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case []string:
		q := make([]string, len(x))
		for i, s := range x {
			q[i] = fmt.Sprintf("%q", s)
		}
		return strings.Join(q, ", ")
	case []int:
		s := make([]string, len(x))
		for i, n := range x {
			s[i] = fmt.Sprint(n)
		}
		return strings.Join(s, ", ")
	}
	return strings.Trim(fmt.Sprint(v), "[]")
}
