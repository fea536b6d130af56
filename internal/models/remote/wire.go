package remote

import "lumen-pipeline/internal/geometry"

// Request and response bodies of the model servers. Images and masks travel
// as base64-encoded PNG.

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	ImagePNG string `json:"image_png"`
}

type partMeshRequest struct {
	ImagePNG string `json:"image_png"`
	NumParts int    `json:"num_parts"`
}

type partMeshResponse struct {
	Meshes []*geometry.Mesh `json:"meshes"`
}

type meshRequest struct {
	ImagePNG string `json:"image_png"`
}

type meshResponse struct {
	Mesh *geometry.Mesh `json:"mesh"`
}

type segmentRequest struct {
	ImagePNG  string   `json:"image_png"`
	PartNames []string `json:"part_names"`
}

type segmentResponse struct {
	Masks map[string]string `json:"masks"`
}

type deviceMemoryResponse struct {
	AllocatedBytes uint64 `json:"allocated_bytes"`
	TotalBytes     uint64 `json:"total_bytes"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const errorTypeOutOfMemory = "out_of_memory"
