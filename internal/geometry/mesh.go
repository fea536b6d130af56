// Package geometry provides triangle meshes, pixel masks, face-identity maps
// and the algorithms that turn them into part-labeled point clouds.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// Vec3 is a point or direction in model space.
type Vec3 [3]float64

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a[0] * s, a[1] * s, a[2] * s}
}
func (a Vec3) Dot(b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a Vec3) Norm() float64 { return math.Sqrt(a.Dot(a)) }

// Normalize returns a unit vector, or the zero vector when a has no length.
func (a Vec3) Normalize() Vec3 {
	n := a.Norm()
	if n == 0 {
		return Vec3{}
	}
	return a.Scale(1 / n)
}

// ErrEmptyMesh is returned when an operation needs at least one face.
var ErrEmptyMesh = errors.New("geometry: empty mesh")

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Vertices []Vec3   `json:"vertices"`
	Faces    [][3]int `json:"faces"`
}

// Valid reports whether the mesh is more than the single-vertex placeholder
// synthesizers return for a part they could not produce.
func (m *Mesh) Valid() bool {
	return m != nil && len(m.Vertices) > 1
}

// Validate checks that every face references an existing vertex.
func (m *Mesh) Validate() error {
	for i, f := range m.Faces {
		for _, v := range f {
			if v < 0 || v >= len(m.Vertices) {
				return fmt.Errorf("face %d references vertex %d of %d", i, v, len(m.Vertices))
			}
		}
	}
	return nil
}

func (m *Mesh) triangle(i int) (Vec3, Vec3, Vec3) {
	f := m.Faces[i]
	return m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
}

// FaceAreas returns the area of every face.
func (m *Mesh) FaceAreas() []float64 {
	areas := make([]float64, len(m.Faces))
	for i := range m.Faces {
		a, b, c := m.triangle(i)
		areas[i] = 0.5 * b.Sub(a).Cross(c.Sub(a)).Norm()
	}
	return areas
}

// Area is the total surface area.
func (m *Mesh) Area() float64 {
	var total float64
	for _, a := range m.FaceAreas() {
		total += a
	}
	return total
}

// FaceCentroids returns the centroid of every face.
func (m *Mesh) FaceCentroids() []Vec3 {
	out := make([]Vec3, len(m.Faces))
	for i := range m.Faces {
		a, b, c := m.triangle(i)
		out[i] = a.Add(b).Add(c).Scale(1.0 / 3)
	}
	return out
}

// Centroid is the area-weighted surface centroid. Meshes without surface
// area fall back to the vertex mean.
func (m *Mesh) Centroid() Vec3 {
	areas := m.FaceAreas()
	centroids := m.FaceCentroids()
	var sum Vec3
	var total float64
	for i, a := range areas {
		sum = sum.Add(centroids[i].Scale(a))
		total += a
	}
	if total > 0 {
		return sum.Scale(1 / total)
	}
	if len(m.Vertices) == 0 {
		return Vec3{}
	}
	for _, v := range m.Vertices {
		sum = sum.Add(v)
	}
	return sum.Scale(1 / float64(len(m.Vertices)))
}

// Bounds returns the axis-aligned extent of the vertices.
func (m *Mesh) Bounds() (lo, hi Vec3) {
	if len(m.Vertices) == 0 {
		return Vec3{}, Vec3{}
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = min(lo[i], v[i])
			hi[i] = max(hi[i], v[i])
		}
	}
	return lo, hi
}

// Transformed returns a copy with every vertex mapped by (v - center) * scale.
func (m *Mesh) Transformed(center Vec3, scale float64) *Mesh {
	out := &Mesh{
		Vertices: make([]Vec3, len(m.Vertices)),
		Faces:    make([][3]int, len(m.Faces)),
	}
	for i, v := range m.Vertices {
		out.Vertices[i] = v.Sub(center).Scale(scale)
	}
	copy(out.Faces, m.Faces)
	return out
}

// NewBox builds an axis-aligned box centred at center with outward-facing triangles.
func NewBox(center, size Vec3) *Mesh {
	h := size.Scale(0.5)
	verts := make([]Vec3, 0, 8)
	for i := 0; i < 8; i++ {
		v := Vec3{-h[0], -h[1], -h[2]}
		if i&1 != 0 {
			v[0] = h[0]
		}
		if i&2 != 0 {
			v[1] = h[1]
		}
		if i&4 != 0 {
			v[2] = h[2]
		}
		verts = append(verts, center.Add(v))
	}
	faces := [][3]int{
		{0, 2, 1}, {1, 2, 3}, // -z
		{4, 5, 6}, {5, 7, 6}, // +z
		{0, 1, 4}, {1, 5, 4}, // -y
		{2, 6, 3}, {3, 6, 7}, // +y
		{0, 4, 2}, {2, 4, 6}, // -x
		{1, 3, 5}, {3, 7, 5}, // +x
	}
	return &Mesh{Vertices: verts, Faces: faces}
}

// Merge concatenates meshes into one, returning the source index of every face.
func Merge(meshes []*Mesh) (*Mesh, []int) {
	out := &Mesh{}
	var owner []int
	for idx, m := range meshes {
		base := len(out.Vertices)
		out.Vertices = append(out.Vertices, m.Vertices...)
		for _, f := range m.Faces {
			out.Faces = append(out.Faces, [3]int{f[0] + base, f[1] + base, f[2] + base})
			owner = append(owner, idx)
		}
	}
	return out, owner
}

// Mask is a binary pixel mask in row-major order.
type Mask struct {
	Width, Height int
	Pix           []bool
}

// NewMask allocates an all-false mask.
func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Pix: make([]bool, w*h)}
}

func (m *Mask) Set(x, y int, v bool) { m.Pix[y*m.Width+x] = v }

// Area counts set pixels.
func (m *Mask) Area() int {
	n := 0
	for _, p := range m.Pix {
		if p {
			n++
		}
	}
	return n
}

// NoFace marks a background pixel in a FaceIDMap.
const NoFace int32 = -1

// FaceIDMap stores, per pixel, the index of the visible face or NoFace.
type FaceIDMap struct {
	Width, Height int
	IDs           []int32
}

// NewFaceIDMap allocates a map filled with NoFace.
func NewFaceIDMap(w, h int) *FaceIDMap {
	ids := make([]int32, w*h)
	for i := range ids {
		ids[i] = NoFace
	}
	return &FaceIDMap{Width: w, Height: h, IDs: ids}
}

func (f *FaceIDMap) At(x, y int) int32 { return f.IDs[y*f.Width+x] }
func (f *FaceIDMap) Set(x, y int, id int32) { f.IDs[y*f.Width+x] = id }
