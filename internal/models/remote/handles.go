package remote

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"net/url"

	"lumen-pipeline/internal/geometry"
	"lumen-pipeline/internal/models"
)

// handle is a named model living on a model server.
type handle struct {
	name   string
	client *Client
}

func (h handle) load(ctx context.Context) error {
	return h.client.call(ctx, http.MethodPost, "/v1/models/"+url.PathEscape(h.name)+"/load", nil, nil)
}

// Unload asks the server to release the model's device memory.
func (h handle) Unload(ctx context.Context) error {
	return h.client.call(ctx, http.MethodPost, "/v1/models/"+url.PathEscape(h.name)+"/unload", nil, nil)
}

// ImageModel is a remote text-to-image model.
type ImageModel struct{ handle }

func NewImageModel(name string, c *Client) *ImageModel {
	return &ImageModel{handle{name: name, client: c}}
}

func (m *ImageModel) SynthesizeImage(ctx context.Context, prompt string) (image.Image, error) {
	var resp imageResponse
	if err := m.client.call(ctx, http.MethodPost, "/v1/images", imageRequest{Prompt: prompt}, &resp); err != nil {
		return nil, err
	}
	return decodePNG(resp.ImagePNG)
}

// PartMeshModel is a remote image-to-part-meshes model.
type PartMeshModel struct{ handle }

func NewPartMeshModel(name string, c *Client) *PartMeshModel {
	return &PartMeshModel{handle{name: name, client: c}}
}

func (m *PartMeshModel) SynthesizeParts(ctx context.Context, img image.Image, numParts int) ([]*geometry.Mesh, error) {
	encoded, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	var resp partMeshResponse
	if err := m.client.call(ctx, http.MethodPost, "/v1/part-meshes", partMeshRequest{ImagePNG: encoded, NumParts: numParts}, &resp); err != nil {
		return nil, err
	}
	for i, mesh := range resp.Meshes {
		if mesh == nil {
			continue
		}
		if err := mesh.Validate(); err != nil {
			return nil, fmt.Errorf("part mesh %d: %w", i, err)
		}
	}
	return resp.Meshes, nil
}

// MeshModel is a remote image-to-mesh model.
type MeshModel struct{ handle }

func NewMeshModel(name string, c *Client) *MeshModel {
	return &MeshModel{handle{name: name, client: c}}
}

func (m *MeshModel) SynthesizeMesh(ctx context.Context, img image.Image) (*geometry.Mesh, error) {
	encoded, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	var resp meshResponse
	if err := m.client.call(ctx, http.MethodPost, "/v1/meshes", meshRequest{ImagePNG: encoded}, &resp); err != nil {
		return nil, err
	}
	if resp.Mesh == nil {
		return nil, geometry.ErrEmptyMesh
	}
	if err := resp.Mesh.Validate(); err != nil {
		return nil, err
	}
	return resp.Mesh, nil
}

// SegmenterModel is a remote open-vocabulary segmenter.
type SegmenterModel struct{ handle }

func NewSegmenterModel(name string, c *Client) *SegmenterModel {
	return &SegmenterModel{handle{name: name, client: c}}
}

func (m *SegmenterModel) Segment(ctx context.Context, img image.Image, partNames []string) (map[string]*geometry.Mask, error) {
	encoded, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	var resp segmentResponse
	if err := m.client.call(ctx, http.MethodPost, "/v1/segment", segmentRequest{ImagePNG: encoded, PartNames: partNames}, &resp); err != nil {
		return nil, err
	}
	masks := make(map[string]*geometry.Mask, len(resp.Masks))
	for name, png := range resp.Masks {
		mask, err := decodeMask(png)
		if err != nil {
			return nil, fmt.Errorf("mask %q: %w", name, err)
		}
		masks[name] = mask
	}
	return masks, nil
}

// Device reports and reclaims accelerator memory on the model server.
type Device struct {
	client *Client
}

func NewDevice(c *Client) *Device { return &Device{client: c} }

func (d *Device) MemoryAllocated(ctx context.Context) (uint64, error) {
	var resp deviceMemoryResponse
	if err := d.client.call(ctx, http.MethodGet, "/v1/device/memory", nil, &resp); err != nil {
		return 0, err
	}
	return resp.AllocatedBytes, nil
}

func (d *Device) Reclaim(ctx context.Context) error {
	return d.client.call(ctx, http.MethodPost, "/v1/device/reclaim", nil, nil)
}

// Factory returns a registry factory that asks the server to load the model
// behind m before handing it out.
func Factory[T interface{ load(context.Context) error }](m T) models.Factory {
	return func(ctx context.Context) (any, error) {
		if err := m.load(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
}

var (
	_ models.ImageSynthesizer    = (*ImageModel)(nil)
	_ models.PartMeshSynthesizer = (*PartMeshModel)(nil)
	_ models.MeshSynthesizer     = (*MeshModel)(nil)
	_ models.Segmenter           = (*SegmenterModel)(nil)
	_ models.Unloader            = (*MeshModel)(nil)
	_ models.DeviceMonitor       = (*Device)(nil)
)
