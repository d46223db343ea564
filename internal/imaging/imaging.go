// Package imaging converts raw scanned page images into the canonical
// form the rest of the pipeline consumes: PNG, longest edge capped at
// maxDimension. Raw uploads arrive as PNG, JPEG, TIFF or BMP.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// maxDimension bounds the longest edge of a canonical image. A 300 DPI
// letter/A4 scan (~3500px) passes through untouched; anything larger is
// downscaled before upload and OCR.
const maxDimension = 4096

// Canonicalize decodes a raw page image and re-encodes it as canonical PNG.
// Input that is already PNG and within the dimension cap is returned
// unchanged after a full decode validates it. Decode failures are terminal:
// the same bytes will never decode on retry.
func Canonicalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("invalid image: empty data")
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image: cannot decode: %w", err)
	}

	b := img.Bounds()
	if format == "png" && b.Dx() <= maxDimension && b.Dy() <= maxDimension {
		return raw, nil
	}

	img = shrinkToFit(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode canonical png: %w", err)
	}
	return buf.Bytes(), nil
}

// shrinkToFit scales img down so its longest edge is at most maxDimension,
// preserving aspect ratio. Images already within the cap are returned as-is.
func shrinkToFit(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDimension && h <= maxDimension {
		return img
	}

	scale := float64(maxDimension) / float64(w)
	if h > w {
		scale = float64(maxDimension) / float64(h)
	}
	dw := int(float64(w)*scale + 0.5)
	dh := int(float64(h)*scale + 0.5)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
