package cluster

import "sort"

// KDTree is a static 2D index over normalized point coordinates. Nodes are
// referenced by their position in the slice passed to NewKDTree; the tree
// only reorders its own id/coordinate arrays, never the caller's data.
type KDTree struct {
	ids      []int
	coords   []float64 // x0, y0, x1, y1, ...
	nodeSize int
}

// NewKDTree builds a tree over xy pairs. nodeSize is the leaf size under
// which ranges are scanned linearly.
func NewKDTree(xs, ys []float64, nodeSize int) *KDTree {
	if nodeSize <= 0 {
		nodeSize = 64
	}
	n := len(xs)
	t := &KDTree{
		ids:      make([]int, n),
		coords:   make([]float64, 2*n),
		nodeSize: nodeSize,
	}
	for i := 0; i < n; i++ {
		t.ids[i] = i
		t.coords[2*i] = xs[i]
		t.coords[2*i+1] = ys[i]
	}
	if n > 0 {
		t.build(0, n-1, 0)
	}
	return t
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int {
	return len(t.ids)
}

func (t *KDTree) build(left, right, axis int) {
	if right-left <= t.nodeSize {
		return
	}
	m := (left + right) >> 1
	sort.Sort(axisSorter{t: t, lo: left, n: right - left + 1, axis: axis})
	t.build(left, m-1, 1-axis)
	t.build(m+1, right, 1-axis)
}

type axisSorter struct {
	t    *KDTree
	lo   int
	n    int
	axis int
}

func (s axisSorter) Len() int { return s.n }

func (s axisSorter) Less(i, j int) bool {
	return s.t.coords[2*(s.lo+i)+s.axis] < s.t.coords[2*(s.lo+j)+s.axis]
}

func (s axisSorter) Swap(i, j int) {
	a, b := s.lo+i, s.lo+j
	t := s.t
	t.ids[a], t.ids[b] = t.ids[b], t.ids[a]
	t.coords[2*a], t.coords[2*b] = t.coords[2*b], t.coords[2*a]
	t.coords[2*a+1], t.coords[2*b+1] = t.coords[2*b+1], t.coords[2*a+1]
}

type span struct {
	left, right, axis int
}

// Range returns the ids of points inside [minX,maxX]×[minY,maxY].
func (t *KDTree) Range(minX, minY, maxX, maxY float64) []int {
	var result []int
	if len(t.ids) == 0 {
		return result
	}
	stack := []span{{0, len(t.ids) - 1, 0}}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.right-s.left <= t.nodeSize {
			for i := s.left; i <= s.right; i++ {
				x, y := t.coords[2*i], t.coords[2*i+1]
				if x >= minX && x <= maxX && y >= minY && y <= maxY {
					result = append(result, t.ids[i])
				}
			}
			continue
		}

		m := (s.left + s.right) >> 1
		x, y := t.coords[2*m], t.coords[2*m+1]
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			result = append(result, t.ids[m])
		}

		v := x
		lo, hi := minX, maxX
		if s.axis == 1 {
			v, lo, hi = y, minY, maxY
		}
		if lo <= v {
			stack = append(stack, span{s.left, m - 1, 1 - s.axis})
		}
		if hi >= v {
			stack = append(stack, span{m + 1, s.right, 1 - s.axis})
		}
	}
	return result
}

// Within returns the ids of points within radius r of (qx, qy).
func (t *KDTree) Within(qx, qy, r float64) []int {
	var result []int
	if len(t.ids) == 0 {
		return result
	}
	r2 := r * r
	stack := []span{{0, len(t.ids) - 1, 0}}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.right-s.left <= t.nodeSize {
			for i := s.left; i <= s.right; i++ {
				if sqDist(t.coords[2*i], t.coords[2*i+1], qx, qy) <= r2 {
					result = append(result, t.ids[i])
				}
			}
			continue
		}

		m := (s.left + s.right) >> 1
		x, y := t.coords[2*m], t.coords[2*m+1]
		if sqDist(x, y, qx, qy) <= r2 {
			result = append(result, t.ids[m])
		}

		v, q := x, qx
		if s.axis == 1 {
			v, q = y, qy
		}
		if q-r <= v {
			stack = append(stack, span{s.left, m - 1, 1 - s.axis})
		}
		if q+r >= v {
			stack = append(stack, span{m + 1, s.right, 1 - s.axis})
		}
	}
	return result
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return dx*dx + dy*dy
}
