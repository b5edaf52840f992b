// Package imaging normalizes image payloads crossing the service boundary:
// base64 strings arriving from the generation API and raw photos arriving
// from the chat transport.
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
	"regexp"
	"strings"

	xdraw "golang.org/x/image/draw"
)

var (
	// ErrDecode marks payloads that are not valid base64 or not a valid image.
	ErrDecode = errors.New("image decode failed")
)

var dataURIPrefix = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

// Codec converts image payloads between the wire formats of the chat
// transport and the generation API.
type Codec struct {
	// MaxDimension bounds the longer side of uploaded images.
	MaxDimension int
	// Quality is the JPEG quality for re-encoded uploads.
	Quality int
}

// NewCodec returns a codec with the upload bounds the generation API expects.
func NewCodec() *Codec {
	return &Codec{MaxDimension: 1024, Quality: 85}
}

// DecodeBase64 decodes a base64 image payload. A data-URI prefix
// ("data:image/...;base64,") is stripped, and missing '=' padding is
// repaired before decoding.
func (c *Codec) DecodeBase64(s string) ([]byte, error) {
	clean := dataURIPrefix.ReplaceAllString(strings.TrimSpace(s), "")
	if clean == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if rem := len(clean) % 4; rem != 0 {
		clean += strings.Repeat("=", 4-rem)
	}
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// EncodeForUpload prepares raw photo bytes for the generation API: the image
// is flattened onto a white background (transparency and palette sources
// become opaque RGB), downscaled so neither dimension exceeds MaxDimension,
// re-encoded as JPEG, and returned base64-encoded.
func (c *Codec) EncodeForUpload(raw []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return "", fmt.Errorf("%w: empty image", ErrDecode)
	}

	dw, dh := fitWithin(w, h, c.MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.Quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fitWithin shrinks (w, h) proportionally so both fit in max. Images already
// within bounds keep their size.
func fitWithin(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, maxInt(1, h*max/w)
	}
	return maxInt(1, w*max/h), max
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
