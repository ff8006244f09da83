// Package imaging shrinks generated images so they fit in an email.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxWidth    = 600
	MaxHeight   = 400
	JPEGQuality = 60
)

var ErrNotDataURL = errors.New("not a base64 data url")

// DecodeDataURL returns the payload and mime type of a "data:<mime>;base64,..." URL.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(dataURL), ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, "", ErrNotDataURL
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, mime, nil
}

// Fit scales w x h down to fit inside maxW x maxH keeping the aspect ratio. Images
// that already fit are returned unchanged.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH > h*maxW {
		nh := h * maxW / w
		return maxW, max(nh, 1)
	}
	nw := w * maxH / h
	return max(nw, 1), maxH
}

// CompressForEmail re-encodes an image data URL as a JPEG no larger than
// MaxWidth x MaxHeight, flattened onto white.
func CompressForEmail(dataURL string) ([]byte, error) {
	data, _, err := DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return Compress(data, MaxWidth, MaxHeight, JPEGQuality)
}

// Compress decodes any registered image format and returns it as a downscaled JPEG.
func Compress(data []byte, maxW, maxH, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxW, maxH)
	if w == 0 {
		return nil, errors.New("image has no pixels")
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// DataURL wraps data into a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
