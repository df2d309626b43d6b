// Package imgutil holds the pure pixel-format helpers shared by the capture
// backends: raw RGBA wrapping, BGR conversion for OpenCV-style consumers,
// compressed image decoding, and scaling.
package imgutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for image.Decode
	_ "image/png"

	"golang.org/x/image/draw"
)

// RGBAFromRaw wraps raw RGBA bytes (width*height*4) in an image.RGBA without
// copying
func RGBAFromRaw(data []byte, width, height int) (*image.RGBA, error) {
	expected := width * height * 4
	if len(data) < expected {
		return nil, fmt.Errorf("raw frame is %d bytes, need %d for %dx%d RGBA", len(data), expected, width, height)
	}
	return &image.RGBA{
		Pix:    data[:expected],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

// RGBAToBGR converts raw RGBA bytes to tightly packed BGR, the layout
// OpenCV-style consumers expect
func RGBAToBGR(rgba []byte) []byte {
	pixels := len(rgba) / 4
	out := make([]byte, pixels*3)
	for i := 0; i < pixels; i++ {
		out[i*3+0] = rgba[i*4+2]
		out[i*3+1] = rgba[i*4+1]
		out[i*3+2] = rgba[i*4+0]
	}
	return out
}

// DecodeImage decodes a compressed image (JPEG or PNG) into RGBA
func DecodeImage(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts any image to RGBA, avoiding a copy when possible
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(img.Bounds())
	draw.Copy(out, out.Bounds().Min, img, img.Bounds(), draw.Src, nil)
	return out
}

// Scale resizes an image to the given dimensions using approximate
// bi-linear interpolation
func Scale(img image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}
