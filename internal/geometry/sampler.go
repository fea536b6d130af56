package geometry

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"lumen-pipeline/internal/shape"
)

// MaxParts is the number of distinct labels a uint8 part id can carry.
const MaxParts = 256

// ErrNoSurface is returned when the input has faces but no surface area to sample.
var ErrNoSurface = errors.New("geometry: mesh has no surface area")

// Sample is a normalized, part-labeled point cloud.
type Sample struct {
	Positions   []shape.Point
	PartIDs     []uint8
	BoundingBox shape.BoundingBox
}

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// AllocatePoints splits total across weights in proportion, using
// largest-remainder rounding. Every positive weight gets at least one point
// when total allows it. Zero weights get nothing.
func AllocatePoints(weights []float64, total int) []int {
	counts := make([]int, len(weights))
	var sum float64
	var live []int
	for i, w := range weights {
		if w > 0 {
			live = append(live, i)
			sum += w
		}
	}
	if len(live) == 0 || total <= 0 {
		return counts
	}

	fracs := make([]float64, len(weights))
	assigned := 0
	for _, i := range live {
		exact := float64(total) * weights[i] / sum
		counts[i] = int(math.Floor(exact))
		fracs[i] = exact - float64(counts[i])
		if counts[i] == 0 && total >= len(live) {
			counts[i], fracs[i] = 1, -1
		}
		assigned += counts[i]
	}

	order := slices.Clone(live)
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(fracs[b], fracs[a]) })
	for k := 0; assigned < total; k++ {
		counts[order[k%len(order)]]++
		assigned++
	}
	// Minimum-one bumps can overshoot; take the excess from the largest shares.
	for assigned > total {
		top := live[0]
		for _, i := range live[1:] {
			if counts[i] > counts[top] || (counts[i] == counts[top] && fracs[i] < fracs[top]) {
				top = i
			}
		}
		counts[top]--
		assigned--
	}
	return counts
}

// surface draws area-weighted points from one mesh.
type surface struct {
	mesh *Mesh
	cdf  []float64
}

func newSurface(m *Mesh) (*surface, error) {
	if len(m.Faces) == 0 {
		return nil, ErrEmptyMesh
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	areas := m.FaceAreas()
	cdf := make([]float64, len(areas))
	var acc float64
	for i, a := range areas {
		acc += a
		cdf[i] = acc
	}
	if acc <= 0 {
		return nil, ErrNoSurface
	}
	return &surface{mesh: m, cdf: cdf}, nil
}

func (s *surface) total() float64 { return s.cdf[len(s.cdf)-1] }

// draw returns a uniform surface point and the face it lies on.
func (s *surface) draw(rng *rand.Rand) (Vec3, int) {
	u := rng.Float64() * s.total()
	face := sort.Search(len(s.cdf), func(i int) bool { return s.cdf[i] > u })
	if face == len(s.cdf) {
		face = len(s.cdf) - 1
	}
	a, b, c := s.mesh.triangle(face)
	r1 := math.Sqrt(rng.Float64())
	r2 := rng.Float64()
	p := a.Scale(1 - r1).Add(b.Scale(r1 * (1 - r2))).Add(c.Scale(r1 * r2))
	return p, face
}

// SampleParts draws total points across per-part meshes, tagging each point
// with the index of the mesh it came from. Parts without surface are skipped.
func SampleParts(parts []*Mesh, total int, rng *rand.Rand) (*Sample, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyMesh
	}
	if len(parts) > MaxParts {
		return nil, fmt.Errorf("geometry: %d parts exceeds %d", len(parts), MaxParts)
	}
	if total <= 0 {
		return nil, fmt.Errorf("geometry: point budget must be positive, got %d", total)
	}

	surfaces := make([]*surface, len(parts))
	weights := make([]float64, len(parts))
	for i, m := range parts {
		if m == nil {
			continue
		}
		s, err := newSurface(m)
		switch {
		case errors.Is(err, ErrEmptyMesh), errors.Is(err, ErrNoSurface):
			continue
		case err != nil:
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		surfaces[i] = s
		weights[i] = s.total()
	}
	if !slices.ContainsFunc(weights, func(w float64) bool { return w > 0 }) {
		return nil, ErrNoSurface
	}

	counts := AllocatePoints(weights, total)
	points := make([]Vec3, 0, total)
	ids := make([]uint8, 0, total)
	for i, n := range counts {
		for k := 0; k < n; k++ {
			p, _ := surfaces[i].draw(rng)
			points = append(points, p)
			ids = append(ids, uint8(i))
		}
	}
	return finish(points, ids), nil
}

// SampleLabeled draws total area-weighted points from mesh; each point takes
// the label of its face.
func SampleLabeled(mesh *Mesh, labels []int, total int, rng *rand.Rand) (*Sample, error) {
	if mesh == nil {
		return nil, ErrEmptyMesh
	}
	if total <= 0 {
		return nil, fmt.Errorf("geometry: point budget must be positive, got %d", total)
	}
	if len(labels) != len(mesh.Faces) {
		return nil, fmt.Errorf("geometry: %d labels for %d faces", len(labels), len(mesh.Faces))
	}
	for i, l := range labels {
		if l < 0 || l >= MaxParts {
			return nil, fmt.Errorf("geometry: face %d has label %d outside [0,%d)", i, l, MaxParts)
		}
	}
	s, err := newSurface(mesh)
	if err != nil {
		return nil, err
	}

	points := make([]Vec3, total)
	ids := make([]uint8, total)
	for i := range points {
		p, face := s.draw(rng)
		points[i] = p
		ids[i] = uint8(labels[face])
	}
	return finish(points, ids), nil
}

func finish(points []Vec3, ids []uint8) *Sample {
	positions := NormalizePositions(points)
	return &Sample{
		Positions:   positions,
		PartIDs:     ids,
		BoundingBox: shape.Bounds(positions),
	}
}

// NormalizePositions centres points on their mean and scales them so the
// largest absolute coordinate is 1. Coincident points collapse to the origin.
func NormalizePositions(points []Vec3) []shape.Point {
	out := make([]shape.Point, len(points))
	if len(points) == 0 {
		return out
	}
	var mean Vec3
	for _, p := range points {
		mean = mean.Add(p)
	}
	mean = mean.Scale(1 / float64(len(points)))

	centred := make([]Vec3, len(points))
	var maxAbs float64
	for i, p := range points {
		c := p.Sub(mean)
		centred[i] = c
		for _, v := range c {
			maxAbs = max(maxAbs, math.Abs(v))
		}
	}
	if maxAbs == 0 {
		return out
	}
	for i, c := range centred {
		out[i] = shape.Point{float32(c[0] / maxAbs), float32(c[1] / maxAbs), float32(c[2] / maxAbs)}
	}
	return out
}
