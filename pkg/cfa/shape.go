package cfa

import (
	"math"
	"strings"
)

// Role is the kind of axis a dimension represents.
type Role int

const (
	RoleTime Role = iota
	RoleLevel
	RoleY
	RoleX
	RoleOther
)

func (r Role) String() string {
	return [...]string{"T", "Z", "Y", "X", "N"}[r]
}

// ClassifyAxis determines a dimension's role from the axis attribute of
// its coordinate variable, falling back to naming conventions: short
// names starting with t/z/y/x, names containing "time" or "level", and
// names starting with "lat" or "lon".
func ClassifyAxis(name, axisTag string) Role {
	if axisTag != "" {
		switch strings.ToUpper(axisTag) {
		case "T":
			return RoleTime
		case "Z":
			return RoleLevel
		case "Y":
			return RoleY
		case "X":
			return RoleX
		default:
			return RoleOther
		}
	}
	short := len(name) < 3 && len(name) > 0
	switch {
	case short && name[0] == 't', strings.Contains(name, "time"):
		return RoleTime
	case short && name[0] == 'z', strings.Contains(name, "level"):
		return RoleLevel
	case short && name[0] == 'y', strings.HasPrefix(name, "lat"):
		return RoleY
	case short && name[0] == 'x', strings.HasPrefix(name, "lon"):
		return RoleX
	}
	return RoleOther
}

func product(xs []int) float64 {
	p := 1.0
	for _, x := range xs {
		p *= float64(x)
	}
	return p
}

func firstRole(roles []Role, want ...Role) int {
	for _, w := range want {
		for i, r := range roles {
			if r == w {
				return i
			}
		}
	}
	return -1
}

// linearOps is the number of fragments touched reading one point through
// every time step.
func linearOps(div []int, roles []Role) int {
	if i := firstRole(roles, RoleTime); i >= 0 {
		return div[i]
	}
	if i := firstRole(roles, RoleLevel); i >= 0 {
		return div[i]
	}
	if i := firstRole(roles, RoleOther); i >= 0 {
		return div[i]
	}
	return -1
}

// fieldOps is the number of fragments touched reading one horizontal
// field.
func fieldOps(div []int, roles []Role) int {
	x, y := firstRole(roles, RoleX), firstRole(roles, RoleY)
	switch {
	case x >= 0 && y >= 0:
		return div[x] * div[y]
	case y >= 0:
		return div[y]
	case x >= 0:
		return div[x]
	}
	return -1
}

// subdivide picks the permitted axis with the fewest divisions that can
// still be divided. It returns -1 if there is none.
func subdivide(shape, div []int, roles []Role, permitted ...Role) int {
	best := -1
	for i := range shape {
		ok := false
		for _, p := range permitted {
			if roles[i] == p {
				ok = true
			}
		}
		if !ok || div[i] >= shape[i] {
			continue
		}
		if best < 0 || div[i] < div[best] {
			best = i
		}
	}
	return best
}

// ComputeShape returns the number of divisions per axis so that no
// fragment holds more than maxElements values, and the resulting
// fragment extent per axis. Horizontal axes are divided first unless
// that would take more fragments to read one field than to read one time
// series. It always terminates: once no axis can be divided further the
// fragments are single elements.
func ComputeShape(shape []int, roles []Role, maxElements int) ([]int, []float64) {
	if maxElements < 1 {
		maxElements = 1
	}
	div := make([]int, len(shape))
	for i := range div {
		div[i] = 1
	}
	for product(shape)/product(div) > float64(maxElements) {
		spatial := []Role{RoleX, RoleY}
		linear := []Role{RoleTime, RoleLevel, RoleOther}
		first, second := spatial, linear
		if fieldOps(div, roles) > linearOps(div, roles) {
			first, second = linear, spatial
		}
		i := subdivide(shape, div, roles, first...)
		if i < 0 {
			i = subdivide(shape, div, roles, second...)
		}
		if i < 0 {
			break
		}
		div[i]++
	}
	frag := make([]float64, len(shape))
	for i := range shape {
		frag[i] = float64(shape[i]) / float64(div[i])
	}
	return div, frag
}

// Bounds divides an axis of length n into divs ranges. Boundaries are
// floor(i*n/divs); the last range always ends at n.
func Bounds(n, divs int) []Range {
	if divs < 1 {
		divs = 1
	}
	scale := float64(n) / float64(divs)
	out := make([]Range, divs)
	for i := range out {
		out[i] = Range{
			Start: int(math.Floor(float64(i) * scale)),
			End:   int(math.Floor(float64(i+1) * scale)),
		}
	}
	out[divs-1].End = n
	return out
}

// FixedBounds divides an axis of length n into ranges of at most frag
// elements; the last range is shorter when frag does not divide n.
func FixedBounds(n, frag int) []Range {
	if frag < 1 || frag > n {
		frag = n
	}
	if n == 0 {
		return []Range{{0, 0}}
	}
	divs := (n + frag - 1) / frag
	out := make([]Range, divs)
	for i := range out {
		out[i] = Range{Start: i * frag, End: min((i+1)*frag, n)}
	}
	return out
}
