// Package frames - First-frame acquisition from video files.
package frames

import (
	"image"

	"github.com/nvr-ai/forklift-safety/images"
)

// Frame is an immutable still taken from a video at its native resolution.
//
// Image and Encoded hold the same pixels; Image feeds inference and rendering,
// Encoded is the lossy form used for transport and display.
type Frame struct {
	// Image is the pixel buffer, exactly Width x Height.
	Image *image.RGBA
	// Encoded is the JPEG encoding of Image.
	Encoded images.Image
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// DataURL returns the encoded frame as a base64 data URL.
func (f *Frame) DataURL() string {
	return f.Encoded.DataURL()
}
