package geometry

import (
	"cmp"
	"math"
	"slices"
)

// KDTree answers nearest-point queries over a fixed set of 3D points.
type KDTree struct {
	points []Vec3
	order  []int
}

// NewKDTree indexes points. Query results refer to positions in points.
func NewKDTree(points []Vec3) *KDTree {
	t := &KDTree{points: points, order: make([]int, len(points))}
	for i := range t.order {
		t.order[i] = i
	}
	t.build(0, len(t.order), 0)
	return t
}

func (t *KDTree) Len() int { return len(t.points) }

func (t *KDTree) build(lo, hi, depth int) {
	if hi-lo <= 1 {
		return
	}
	axis := depth % 3
	slices.SortFunc(t.order[lo:hi], func(a, b int) int {
		return cmp.Compare(t.points[a][axis], t.points[b][axis])
	})
	mid := (lo + hi) / 2
	t.build(lo, mid, depth+1)
	t.build(mid+1, hi, depth+1)
}

// Nearest returns the index of the point closest to q and its distance.
// An empty tree returns -1 and +Inf.
func (t *KDTree) Nearest(q Vec3) (int, float64) {
	best, bestD2 := -1, math.Inf(1)
	t.search(q, 0, len(t.order), 0, &best, &bestD2)
	return best, math.Sqrt(bestD2)
}

func (t *KDTree) search(q Vec3, lo, hi, depth int, best *int, bestD2 *float64) {
	if lo >= hi {
		return
	}
	mid := (lo + hi) / 2
	idx := t.order[mid]
	p := t.points[idx]
	d := q.Sub(p)
	if d2 := d.Dot(d); d2 < *bestD2 || (d2 == *bestD2 && idx < *best) {
		*best, *bestD2 = idx, d2
	}

	axis := depth % 3
	diff := q[axis] - p[axis]
	near, far := [2]int{lo, mid}, [2]int{mid + 1, hi}
	if diff > 0 {
		near, far = far, near
	}
	t.search(q, near[0], near[1], depth+1, best, bestD2)
	if diff*diff <= *bestD2 {
		t.search(q, far[0], far[1], depth+1, best, bestD2)
	}
}
