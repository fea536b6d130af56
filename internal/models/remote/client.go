package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lumen-pipeline/internal/models"
)

const (
	maxRequestSize  = 32 * 1024 * 1024 // images are inlined
	maxResponseSize = 256 * 1024 * 1024
)

// call sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil). Status 507 and "out_of_memory" errors wrap
// models.ErrDeviceOutOfMemory.
func (c *Client) call(parentCtx context.Context, method, path string, in, out any) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("modelclient: marshal request: %w", err)
		}
		if len(body) > maxRequestSize {
			return fmt.Errorf("modelclient: request too large (%d bytes, max %d)", len(body), maxRequestSize)
		}
	}

	url := c.cfg.BaseURL + path

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("modelclient: build HTTP request: %w", err)
		}
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	}

	resp, err := c.doWithRetry(ctx, body, doOnce)
	if err != nil {
		c.logger.Error("model request failed",
			zap.String("path", path),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.upstreamError(path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
			return fmt.Errorf("modelclient: decode %s response: %w", path, err)
		}
	}

	c.logger.Debug("model request completed",
		zap.String("path", path),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Client) upstreamError(path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	msg := truncate(string(raw), 200)
	errType := ""
	var perr errorResponse
	if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
		msg, errType = perr.Error.Message, perr.Error.Type
	}

	c.logger.Error("model upstream error",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("error_type", errType),
		zap.String("error_message", msg),
	)

	if resp.StatusCode == http.StatusInsufficientStorage || errType == errorTypeOutOfMemory {
		return fmt.Errorf("modelclient: upstream %d: %s: %w", resp.StatusCode, msg, models.ErrDeviceOutOfMemory)
	}
	return fmt.Errorf("modelclient: upstream %d: %s", resp.StatusCode, msg)
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
