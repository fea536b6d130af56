package handlers

import (
	"bytes"
	"image/png"
	"net/http"

	"go.uber.org/zap"

	"lumen-pipeline/internal/apperr"
	"lumen-pipeline/internal/models"
	"lumen-pipeline/internal/pipeline"
	"lumen-pipeline/pkg/logging/logging"
)

// ImageDebugHandler renders the reference image the pipeline would start
// from, so prompts can be checked by eye.
type ImageDebugHandler struct {
	Registry      *models.Registry
	Catalogue     *pipeline.Catalogue
	MaxTextLength int
}

func NewImageDebugHandler(reg *models.Registry, cat *pipeline.Catalogue, maxTextLength int) *ImageDebugHandler {
	return &ImageDebugHandler{Registry: reg, Catalogue: cat, MaxTextLength: maxTextLength}
}

// GenerateImage serves POST /debug/generate-image and answers image/png.
func (h *ImageDebugHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	text, err := conceptText(r, h.MaxTextLength)
	if err != nil {
		writeError(w, r, err)
		return
	}

	synth, err := models.Lookup[models.ImageSynthesizer](h.Registry, models.ImageModel)
	if err != nil {
		writeError(w, r, err)
		return
	}

	prompt := pipeline.CanonicalPrompt(text, h.Catalogue.Match(text))
	img, err := synth.SynthesizeImage(r.Context(), prompt)
	if err != nil {
		writeError(w, r, apperr.GenerationFailed(text, err))
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeError(w, r, apperr.GenerationFailed(text, err))
		return
	}
	logging.L(r.Context()).Debug("debug_image_generated", zap.String("prompt", prompt), zap.Int("bytes", buf.Len()))

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
