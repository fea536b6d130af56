// Package render rasterizes meshes from fixed camera poses into a lit colour
// image and a per-pixel face-identity map.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/sync/errgroup"

	"lumen-pipeline/internal/geometry"
)

// MaxFaces is the largest face count the 24-bit identity encoding can carry.
const MaxFaces = 1<<24 - 1

const nearPlane = 1e-3

// Camera is a look-at pose aimed at the origin.
type Camera struct {
	Name string
	Eye  geometry.Vec3
	Up   geometry.Vec3
}

// CanonicalCameras are the side, front and three-quarter poses.
var CanonicalCameras = []Camera{
	{Name: "side", Eye: geometry.Vec3{2.5, 0.5, 0}, Up: geometry.Vec3{0, 1, 0}},
	{Name: "front", Eye: geometry.Vec3{0, 0.5, 2.5}, Up: geometry.Vec3{0, 1, 0}},
	{Name: "three_quarter", Eye: geometry.Vec3{1.8, 0.8, 1.8}, Up: geometry.Vec3{0, 1, 0}},
}

// View is one rendered pose.
type View struct {
	Name    string
	Color   *image.RGBA
	FaceIDs *geometry.FaceIDMap
}

// Options configures a Renderer.
type Options struct {
	Resolution int
	// YFov is the vertical field of view in radians.
	YFov    float64
	Cameras []Camera
}

func (o Options) withDefaults() Options {
	if o.Resolution <= 0 {
		o.Resolution = 512
	}
	if o.YFov <= 0 {
		o.YFov = math.Pi / 4
	}
	if len(o.Cameras) == 0 {
		o.Cameras = CanonicalCameras
	}
	return o
}

// Renderer is a software z-buffer rasterizer.
type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer {
	return &Renderer{opts: opts.withDefaults()}
}

// EncodeFaceID packs face index i into an opaque RGB colour. Index 0 maps to
// 0x000001 so that black stays reserved for background.
func EncodeFaceID(i int) color.RGBA {
	v := uint32(i + 1)
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// DecodeFaceID unpacks a colour written by EncodeFaceID. Black and indices at
// or above faceCount decode to NoFace.
func DecodeFaceID(c color.RGBA, faceCount int) int32 {
	v := int(c.R)<<16 | int(c.G)<<8 | int(c.B)
	if v == 0 {
		return geometry.NoFace
	}
	idx := v - 1
	if idx >= faceCount {
		return geometry.NoFace
	}
	return int32(idx)
}

// Normalize returns a copy of mesh centred on its centroid with its largest
// bounding-box extent scaled to one.
func Normalize(mesh *geometry.Mesh) *geometry.Mesh {
	lo, hi := mesh.Bounds()
	extent := max(hi[0]-lo[0], hi[1]-lo[1], hi[2]-lo[2])
	scale := 1.0
	if extent > 0 {
		scale = 1 / extent
	}
	return mesh.Transformed(mesh.Centroid(), scale)
}

// Render centres and unit-scales mesh, then renders every configured camera.
func (r *Renderer) Render(ctx context.Context, mesh *geometry.Mesh) ([]View, error) {
	if mesh == nil || len(mesh.Faces) == 0 {
		return nil, geometry.ErrEmptyMesh
	}
	if len(mesh.Faces) > MaxFaces {
		return nil, fmt.Errorf("render: %d faces exceeds identity encoding limit %d", len(mesh.Faces), MaxFaces)
	}
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	unit := Normalize(mesh)

	views := make([]View, len(r.opts.Cameras))
	g, ctx := errgroup.WithContext(ctx)
	for i, cam := range r.opts.Cameras {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			views[i] = r.renderView(unit, cam)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

type projected struct {
	x, y, z float64
}

func basis(cam Camera) (right, up, forward geometry.Vec3) {
	forward = geometry.Vec3{}.Sub(cam.Eye).Normalize()
	right = forward.Cross(cam.Up).Normalize()
	if right == (geometry.Vec3{}) {
		right = forward.Cross(geometry.Vec3{0, 0, 1}).Normalize()
	}
	up = right.Cross(forward)
	return right, up, forward
}

func (r *Renderer) renderView(mesh *geometry.Mesh, cam Camera) View {
	res := r.opts.Resolution
	right, up, forward := basis(cam)
	focal := float64(res) / 2 / math.Tan(r.opts.YFov/2)

	proj := make([]projected, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		d := v.Sub(cam.Eye)
		z := d.Dot(forward)
		proj[i] = projected{z: z}
		if z > nearPlane {
			proj[i].x = float64(res)/2 + focal*d.Dot(right)/z
			proj[i].y = float64(res)/2 - focal*d.Dot(up)/z
		}
	}

	colorImg := image.NewRGBA(image.Rect(0, 0, res, res))
	idImg := image.NewRGBA(image.Rect(0, 0, res, res))
	for i := range colorImg.Pix {
		colorImg.Pix[i] = 0xff
	}
	depth := make([]float64, res*res)
	for i := range depth {
		depth[i] = math.Inf(1)
	}

	for fi, f := range mesh.Faces {
		p0, p1, p2 := proj[f[0]], proj[f[1]], proj[f[2]]
		if p0.z <= nearPlane || p1.z <= nearPlane || p2.z <= nearPlane {
			continue
		}
		a, b, c := mesh.Vertices[f[0]], mesh.Vertices[f[1]], mesh.Vertices[f[2]]
		n := b.Sub(a).Cross(c.Sub(a)).Normalize()
		shade := 0.25 + 0.75*math.Abs(n.Dot(forward))
		lit := uint8(math.Round(235 * shade))
		shaded := color.RGBA{R: lit, G: lit, B: lit, A: 0xff}
		id := EncodeFaceID(fi)

		rasterize(p0, p1, p2, res, func(x, y int, z float64) {
			k := y*res + x
			if z >= depth[k] {
				return
			}
			depth[k] = z
			colorImg.SetRGBA(x, y, shaded)
			idImg.SetRGBA(x, y, id)
		})
	}

	ids := geometry.NewFaceIDMap(res, res)
	for y := 0; y < res; y++ {
		for x := 0; x < res; x++ {
			ids.Set(x, y, DecodeFaceID(idImg.RGBAAt(x, y), len(mesh.Faces)))
		}
	}
	return View{Name: cam.Name, Color: colorImg, FaceIDs: ids}
}

func edge(a, b projected, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

// rasterize visits every pixel centre covered by the triangle with its
// perspective-correct depth. Both windings are accepted.
func rasterize(p0, p1, p2 projected, res int, plot func(x, y int, z float64)) {
	area := edge(p0, p1, p2.x, p2.y)
	if area == 0 {
		return
	}
	minX := max(0, int(math.Floor(min(p0.x, p1.x, p2.x))))
	maxX := min(res-1, int(math.Ceil(max(p0.x, p1.x, p2.x))))
	minY := max(0, int(math.Floor(min(p0.y, p1.y, p2.y))))
	maxY := min(res-1, int(math.Ceil(max(p0.y, p1.y, p2.y))))

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(p1, p2, px, py) / area
			w1 := edge(p2, p0, px, py) / area
			w2 := edge(p0, p1, px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			invZ := w0/p0.z + w1/p1.z + w2/p2.z
			plot(x, y, 1/invZ)
		}
	}
}
