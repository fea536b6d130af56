// Package models defines the collaborator model capabilities consumed by the
// pipeline and the registry that owns their handles.
package models

import (
	"context"
	"errors"
	"image"

	"lumen-pipeline/internal/geometry"
)

// Registered model names.
const (
	ImageModel     = "sdxl_turbo"
	PartsModel     = "partcrafter"
	MeshModel      = "hunyuan3d_turbo"
	SegmenterModel = "grounded_sam2"
)

// ErrDeviceOutOfMemory is wrapped by collaborators that ran out of device memory.
var ErrDeviceOutOfMemory = errors.New("device out of memory")

// ImageSynthesizer turns a prompt into a reference image.
type ImageSynthesizer interface {
	SynthesizeImage(ctx context.Context, prompt string) (image.Image, error)
}

// PartMeshSynthesizer returns one mesh per requested part. A mesh with a
// single vertex marks a part that failed to synthesize.
type PartMeshSynthesizer interface {
	SynthesizeParts(ctx context.Context, img image.Image, numParts int) ([]*geometry.Mesh, error)
}

// MeshSynthesizer returns one monolithic mesh for an image.
type MeshSynthesizer interface {
	SynthesizeMesh(ctx context.Context, img image.Image) (*geometry.Mesh, error)
}

// Segmenter returns a binary mask per part name found in img.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, partNames []string) (map[string]*geometry.Mask, error)
}

// Unloader is implemented by handles that hold releasable resources.
type Unloader interface {
	Unload(ctx context.Context) error
}

// DeviceMonitor reports and reclaims accelerator memory.
type DeviceMonitor interface {
	MemoryAllocated(ctx context.Context) (uint64, error)
	Reclaim(ctx context.Context) error
}

// IsOutOfMemory reports whether err signals device memory exhaustion.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrDeviceOutOfMemory)
}
