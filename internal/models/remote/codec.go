package remote

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"lumen-pipeline/internal/geometry"
)

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodePNG(s string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return img, nil
}

// decodeMask reads a PNG mask; any non-black pixel is set.
func decodeMask(s string) (*geometry.Mask, error) {
	img, err := decodePNG(s)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	m := geometry.NewMask(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y > 0 {
				m.Set(x-b.Min.X, y-b.Min.Y, true)
			}
		}
	}
	return m, nil
}

// encodeMask writes a mask as an 8-bit grayscale PNG (0 or 255).
func encodeMask(m *geometry.Mask) (string, error) {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, on := range m.Pix {
		if on {
			img.Pix[i] = 0xff
		}
	}
	return encodePNG(img)
}
