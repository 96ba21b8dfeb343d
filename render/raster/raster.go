// Package raster - Pure Go render.Surface over an *image.RGBA.
package raster

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/render"
)

var (
	fontsOnce sync.Once
	regular   *opentype.Font
	bold      *opentype.Font
	fontsErr  error
)

func loadFonts() error {
	fontsOnce.Do(func() {
		regular, fontsErr = opentype.Parse(goregular.TTF)
		if fontsErr != nil {
			return
		}
		bold, fontsErr = opentype.Parse(gobold.TTF)
	})
	return fontsErr
}

// Canvas is a render.Surface backed by an RGBA buffer. A Canvas is not safe
// for concurrent use.
type Canvas struct {
	img   *image.RGBA
	faces map[render.Font]font.Face
}

// NewCanvas creates a transparent canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		img:   image.NewRGBA(image.Rect(0, 0, width, height)),
		faces: make(map[render.Font]font.Face),
	}
}

// Image returns the canvas pixels.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// Close releases the cached font faces.
func (c *Canvas) Close() error {
	for k, f := range c.faces {
		_ = f.Close()
		delete(c.faces, k)
	}
	return nil
}

// Bounds returns the canvas rectangle.
func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// DrawImage composites img over the canvas at the origin.
func (c *Canvas) DrawImage(img image.Image) {
	b := img.Bounds()
	draw.Draw(c.img, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Over)
}

// FillRect blends a solid colour into r.
func (c *Canvas) FillRect(r render.Rect, col color.NRGBA) {
	c.fill(r.X, r.Y, r.X+r.W, r.Y+r.H, col)
}

// StrokeRect draws the four edges of r as bands of the given width centred on
// the path. The bands do not overlap, so translucent strokes blend once.
func (c *Canvas) StrokeRect(r render.Rect, col color.NRGBA, width float64) {
	x0, y0 := math.Min(r.X, r.X+r.W), math.Min(r.Y, r.Y+r.H)
	x1, y1 := math.Max(r.X, r.X+r.W), math.Max(r.Y, r.Y+r.H)
	hw := width / 2

	c.fill(x0-hw, y0-hw, x1+hw, y0+hw, col)
	c.fill(x0-hw, y1-hw, x1+hw, y1+hw, col)
	c.fill(x0-hw, y0+hw, x0+hw, y1-hw, col)
	c.fill(x1-hw, y0+hw, x1+hw, y1-hw, col)
}

func (c *Canvas) fill(x0, y0, x1, y1 float64, col color.NRGBA) {
	rect := image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x1)), int(math.Round(y1)),
	).Intersect(c.img.Bounds())
	if rect.Empty() {
		return
	}
	op := draw.Over
	if col.A == 0xff {
		op = draw.Src
	}
	draw.Draw(c.img, rect, image.NewUniform(col), image.Point{}, op)
}

// FillText draws text with its baseline at (x, y).
func (c *Canvas) FillText(text string, x, y float64, f render.Font, col color.NRGBA) {
	face := c.face(f)
	if face == nil {
		return
	}
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  point(x, y),
	}
	d.DrawString(text)
}

// StrokeText outlines text by stamping it at every integer offset within
// width/2 of the baseline origin.
func (c *Canvas) StrokeText(text string, x, y float64, f render.Font, col color.NRGBA, width float64) {
	r := width / 2
	n := int(math.Ceil(r))
	for dy := -n; dy <= n; dy++ {
		for dx := -n; dx <= n; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if float64(dx*dx+dy*dy) > r*r {
				continue
			}
			c.FillText(text, x+float64(dx), y+float64(dy), f, col)
		}
	}
}

// MeasureText returns the advance width of text in pixels.
func (c *Canvas) MeasureText(text string, f render.Font) float64 {
	face := c.face(f)
	if face == nil {
		return 0
	}
	return float64(font.MeasureString(face, text)) / 64
}

func (c *Canvas) face(f render.Font) font.Face {
	if face, ok := c.faces[f]; ok {
		return face
	}
	if err := loadFonts(); err != nil {
		return nil
	}
	src := regular
	if f.Bold {
		src = bold
	}
	face, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    f.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil
	}
	c.faces[f] = face
	return face
}

func point(x, y float64) fixed.Point26_6 {
	return fixed.Point26_6{
		X: fixed.Int26_6(math.Round(x * 64)),
		Y: fixed.Int26_6(math.Round(y * 64)),
	}
}

// Annotate renders the default overlay onto a copy of base.
//
// Arguments:
//   - base: The analysed frame.
//   - detections: The kept detections.
//   - personDetected: Whether to draw the brake alert.
//
// Returns:
//   - *image.RGBA: A new image the size of base.
//
// @example
// annotated := raster.Annotate(frame.Image, res.Detections, res.PersonDetected)
func Annotate(base image.Image, detections []detection.Detection, personDetected bool) *image.RGBA {
	b := base.Bounds()
	canvas := NewCanvas(b.Dx(), b.Dy())
	defer canvas.Close()

	render.NewOverlay().Render(canvas, base, detections, personDetected)
	return canvas.Image()
}
