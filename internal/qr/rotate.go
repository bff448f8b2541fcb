package qr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// DecodeWithRetry decodes a page image, retrying once at 180 degrees when
// the first pass finds nothing. Decoders are orientation-sensitive, and
// upside-down sheets are the common feeder mistake. Returns the payloads
// and the rotation (0 or 180) that produced them.
func DecodeWithRetry(ctx context.Context, dec Decoder, imagePath string) ([]string, int, error) {
	payloads, err := dec.Decode(ctx, imagePath)
	if err != nil {
		return nil, 0, err
	}
	if len(payloads) > 0 {
		return payloads, 0, nil
	}

	rotated, err := rotate180(imagePath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to rotate page for retry: %w", err)
	}
	defer os.Remove(rotated)

	payloads, err = dec.Decode(ctx, rotated)
	if err != nil {
		return nil, 0, err
	}
	if len(payloads) > 0 {
		return payloads, 180, nil
	}
	return nil, 0, nil
}

// rotate180 writes a half-turn copy of a PNG next to the original and
// returns its path. The caller removes it.
func rotate180(imagePath string) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", err
	}
	src, err := png.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", imagePath, err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(bounds.Max.X-1-x, bounds.Max.Y-1-y, src.At(x, y))
		}
	}

	out, err := os.CreateTemp(filepath.Dir(imagePath), "rot180-*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, dst); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}
