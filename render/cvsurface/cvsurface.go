// Package cvsurface - render.Surface over an OpenCV Mat.
package cvsurface

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/render"
)

// hersheyEm is the pixel height of a Hershey glyph at scale 1.0.
const hersheyEm = 30.0

// Surface draws with gocv primitives onto a BGR Mat.
type Surface struct {
	mat gocv.Mat
}

// New creates a black surface of the given size.
//
// Arguments:
//   - width: The surface width in pixels.
//   - height: The surface height in pixels.
//
// Returns:
//   - *Surface: The surface. Call Close to release the Mat.
func New(width, height int) *Surface {
	return &Surface{mat: gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)}
}

// Mat returns the underlying Mat.
func (s *Surface) Mat() *gocv.Mat {
	return &s.mat
}

// Image converts the surface to an image.Image.
func (s *Surface) Image() (image.Image, error) {
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert surface")
	}
	return img, nil
}

// Encode encodes the surface as JPEG.
func (s *Surface) Encode() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.mat)
	if err != nil {
		return nil, errors.Wrap(err, "encode surface")
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the Mat.
func (s *Surface) Close() error {
	return s.mat.Close()
}

// Bounds returns the surface rectangle.
func (s *Surface) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.mat.Cols(), s.mat.Rows())
}

// DrawImage copies img into the top-left of the surface.
func (s *Surface) DrawImage(img image.Image) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return
	}
	defer src.Close()

	r := src.Size()
	w, h := min(r[1], s.mat.Cols()), min(r[0], s.mat.Rows())
	if w <= 0 || h <= 0 {
		return
	}
	from := src.Region(image.Rect(0, 0, w, h))
	defer from.Close()
	to := s.mat.Region(image.Rect(0, 0, w, h))
	defer to.Close()
	from.CopyTo(&to)
}

// StrokeRect outlines r.
func (s *Surface) StrokeRect(r render.Rect, c color.NRGBA, width float64) {
	thickness := max(1, int(math.Round(width)))
	s.blend(c, func(dst *gocv.Mat, col color.RGBA) {
		gocv.Rectangle(dst, rect(r), col, thickness)
	})
}

// FillRect fills r, blending translucent colours with AddWeighted.
func (s *Surface) FillRect(r render.Rect, c color.NRGBA) {
	s.blend(c, func(dst *gocv.Mat, col color.RGBA) {
		gocv.Rectangle(dst, rect(r), col, -1)
	})
}

// FillText draws text with a Hershey face scaled to the font size.
func (s *Surface) FillText(text string, x, y float64, f render.Font, c color.NRGBA) {
	face, scale, thickness := hershey(f)
	s.blend(c, func(dst *gocv.Mat, col color.RGBA) {
		gocv.PutTextWithParams(dst, text, pt(x, y), face, scale, col, thickness, gocv.LineAA, false)
	})
}

// StrokeText draws text with a heavier line so the fill sits inside it.
func (s *Surface) StrokeText(text string, x, y float64, f render.Font, c color.NRGBA, width float64) {
	face, scale, thickness := hershey(f)
	thickness += max(1, int(math.Round(width)))
	s.blend(c, func(dst *gocv.Mat, col color.RGBA) {
		gocv.PutTextWithParams(dst, text, pt(x, y), face, scale, col, thickness, gocv.LineAA, false)
	})
}

// MeasureText returns the Hershey text width.
func (s *Surface) MeasureText(text string, f render.Font) float64 {
	face, scale, thickness := hershey(f)
	return float64(gocv.GetTextSize(text, face, scale, thickness).X)
}

// blend runs draw directly for opaque colours, or onto a copy that is mixed
// back with the colour's alpha.
func (s *Surface) blend(c color.NRGBA, draw func(dst *gocv.Mat, col color.RGBA)) {
	col := color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
	if c.A == 0xff {
		draw(&s.mat, col)
		return
	}
	if c.A == 0 {
		return
	}

	overlay := s.mat.Clone()
	defer overlay.Close()
	draw(&overlay, col)

	alpha := float64(c.A) / 255
	gocv.AddWeighted(overlay, alpha, s.mat, 1-alpha, 0, &s.mat)
}

func hershey(f render.Font) (gocv.HersheyFont, float64, int) {
	scale := f.Size / hersheyEm
	if f.Bold {
		return gocv.FontHersheyDuplex, scale, max(2, int(math.Round(scale*2)))
	}
	return gocv.FontHersheySimplex, scale, max(1, int(math.Round(scale)))
}

func rect(r render.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)), int(math.Round(r.Y+r.H)),
	).Canon()
}

func pt(x, y float64) image.Point {
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

// Annotate renders the overlay for a frame onto a Mat and returns it as JPEG.
//
// Arguments:
//   - base: The analysed frame.
//   - detections: The kept detections.
//   - personDetected: Whether to draw the brake alert.
//
// Returns:
//   - []byte: The annotated frame as JPEG.
//   - error: An error if the Mat cannot be encoded.
func Annotate(base image.Image, detections []detection.Detection, personDetected bool) ([]byte, error) {
	b := base.Bounds()
	s := New(b.Dx(), b.Dy())
	defer s.Close()

	render.NewOverlay().Render(s, base, detections, personDetected)
	return s.Encode()
}
