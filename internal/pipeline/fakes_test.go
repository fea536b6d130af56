package pipeline

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"lumen-pipeline/internal/geometry"
)

type fakeImage struct {
	err   error
	block chan struct{} // when set, SynthesizeImage waits for it to close
	calls atomic.Int32
}

func (f *fakeImage) SynthesizeImage(ctx context.Context, prompt string) (image.Image, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(4, 4, color.RGBA{R: 255, A: 255})
	return img, nil
}

type fakeParts struct {
	meshes []*geometry.Mesh
	err    error
	calls  atomic.Int32
}

func (f *fakeParts) SynthesizeParts(ctx context.Context, img image.Image, n int) ([]*geometry.Mesh, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.meshes, nil
}

type fakeMesher struct {
	mesh    *geometry.Mesh
	err     error
	delay   time.Duration
	unloads atomic.Int32
}

func (f *fakeMesher) SynthesizeMesh(ctx context.Context, img image.Image) (*geometry.Mesh, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.mesh, nil
}

func (f *fakeMesher) Unload(ctx context.Context) error {
	f.unloads.Add(1)
	return nil
}

// fakeSegmenter marks every pixel of every view as the first requested part.
type fakeSegmenter struct {
	err   error
	calls atomic.Int32
}

func (f *fakeSegmenter) Segment(ctx context.Context, img image.Image, names []string) (map[string]*geometry.Mask, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	b := img.Bounds()
	m := geometry.NewMask(b.Dx(), b.Dy())
	for i := range m.Pix {
		m.Pix[i] = true
	}
	return map[string]*geometry.Mask{names[0]: m}, nil
}

type fakeDevice struct {
	allocated uint64
	reclaims  atomic.Int32
}

func (f *fakeDevice) MemoryAllocated(ctx context.Context) (uint64, error) { return f.allocated, nil }

func (f *fakeDevice) Reclaim(ctx context.Context) error {
	f.reclaims.Add(1)
	return nil
}

// partBoxes returns n unit boxes spread along x, the first invalid ones
// replaced by single-vertex placeholders.
func partBoxes(n, invalid int) []*geometry.Mesh {
	out := make([]*geometry.Mesh, n)
	for i := range out {
		if i < invalid {
			out[i] = &geometry.Mesh{Vertices: []geometry.Vec3{{0, 0, 0}}}
			continue
		}
		out[i] = geometry.NewBox(geometry.Vec3{float64(i) * 2, 0, 0}, geometry.Vec3{1, 1, 1})
	}
	return out
}
