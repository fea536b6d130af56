package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"lumen-pipeline/internal/apperr"
	"lumen-pipeline/internal/shape"
)

// Generator produces a point cloud for a concept.
type Generator interface {
	Generate(ctx context.Context, text string) (*shape.Result, error)
}

// GenerateHandler serves POST /generate.
type GenerateHandler struct {
	Generator     Generator
	MaxTextLength int
}

func NewGenerateHandler(g Generator, maxTextLength int) *GenerateHandler {
	return &GenerateHandler{Generator: g, MaxTextLength: maxTextLength}
}

type generateRequest struct {
	Text string `json:"text"`
}

// Generate accepts the concept as a JSON body {"text": ...} or as the text
// query parameter.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	text, err := conceptText(r, h.MaxTextLength)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.Generator.Generate(r.Context(), text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func conceptText(r *http.Request, maxLen int) (string, error) {
	text := r.URL.Query().Get("text")
	if text == "" && r.Body != nil {
		var req generateRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return "", apperr.InvalidRequest("request body too large")
		case err != nil && !errors.Is(err, io.EOF):
			return "", apperr.InvalidRequest("request body must be JSON: " + err.Error())
		}
		text = req.Text
	}

	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return "", apperr.InvalidRequest("text must not be empty")
	}
	if maxLen > 0 && n > maxLen {
		return "", apperr.InvalidRequest(fmt.Sprintf("text must be at most %d characters", maxLen))
	}
	return text, nil
}
