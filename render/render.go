// Package render - Detection overlays drawn onto a 2D surface.
package render

import (
	"image"
	"image/color"

	"github.com/nvr-ai/forklift-safety/detection"
)

// Rect is a rectangle in surface coordinates. W and H may be negative or
// zero; backends draw whatever the geometry describes.
type Rect struct {
	X, Y, W, H float64
}

// Font selects a text face.
type Font struct {
	// Size is the em size in pixels.
	Size float64
	// Bold selects the bold weight.
	Bold bool
}

// Surface is a 2D drawing target with canvas-like semantics: operations
// composite in call order and text is positioned by its baseline.
type Surface interface {
	// Bounds returns the drawable area.
	Bounds() image.Rectangle
	// DrawImage draws img at the origin at its natural size.
	DrawImage(img image.Image)
	// StrokeRect outlines r with a line of the given width centred on its edges.
	StrokeRect(r Rect, c color.NRGBA, width float64)
	// FillRect fills r, blending by the colour's alpha.
	FillRect(r Rect, c color.NRGBA)
	// FillText draws text with its baseline starting at (x, y).
	FillText(text string, x, y float64, f Font, c color.NRGBA)
	// StrokeText outlines text with a line of the given width.
	StrokeText(text string, x, y float64, f Font, c color.NRGBA, width float64)
	// MeasureText returns the advance width of text.
	MeasureText(text string, f Font) float64
}

// Style holds the overlay appearance.
type Style struct {
	BoxColor     color.NRGBA
	BoxWidth     float64
	LabelFont    Font
	LabelColor   color.NRGBA
	LabelHeight  float64
	LabelPadding float64
	// LabelOffsetX and LabelOffsetY place the text relative to the box corner.
	LabelOffsetX float64
	LabelOffsetY float64

	AlertFill        color.NRGBA
	AlertText        string
	AlertFont        Font
	AlertTextColor   color.NRGBA
	AlertStrokeColor color.NRGBA
	AlertStrokeWidth float64
	AlertBaseline    float64
}

// DefaultStyle returns the overlay used for forklift alerts.
//
// Returns:
//   - Style: Green 2px boxes with 16px captions on a green tab, and a 40% red
//     wash under a 48px bold "BRAKES TRIGGERED!" banner.
func DefaultStyle() Style {
	return Style{
		BoxColor:     color.NRGBA{R: 0x00, G: 0xff, B: 0x00, A: 0xff},
		BoxWidth:     2,
		LabelFont:    Font{Size: 16},
		LabelColor:   color.NRGBA{A: 0xff},
		LabelHeight:  25,
		LabelPadding: 10,
		LabelOffsetX: 5,
		LabelOffsetY: -7,

		AlertFill:        color.NRGBA{R: 0xff, A: 102},
		AlertText:        "BRAKES TRIGGERED!",
		AlertFont:        Font{Size: 48, Bold: true},
		AlertTextColor:   color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		AlertStrokeColor: color.NRGBA{A: 0xff},
		AlertStrokeWidth: 3,
		AlertBaseline:    80,
	}
}

// Overlay draws detections and the brake alert.
type Overlay struct {
	Style Style
}

// NewOverlay returns an overlay with DefaultStyle.
func NewOverlay() *Overlay {
	return &Overlay{Style: DefaultStyle()}
}

// Render draws base, one box and caption per detection, and the alert when
// personDetected is set. detections is not modified. The same inputs always
// produce the same sequence of surface operations.
//
// Arguments:
//   - s: The surface, sized to base.
//   - base: The analysed frame.
//   - detections: The kept detections, drawn in order.
//   - personDetected: Whether to draw the alert.
//
// @example
// canvas := raster.NewCanvas(frame.Bounds().Dx(), frame.Bounds().Dy())
// render.NewOverlay().Render(canvas, frame, res.Detections, res.PersonDetected)
func (o *Overlay) Render(s Surface, base image.Image, detections []detection.Detection, personDetected bool) {
	st := o.Style

	if base != nil {
		s.DrawImage(base)
	}

	for _, d := range detections {
		b := d.Box
		s.StrokeRect(Rect{X: b.XMin, Y: b.YMin, W: b.XMax - b.XMin, H: b.YMax - b.YMin}, st.BoxColor, st.BoxWidth)

		caption := d.Caption()
		textWidth := s.MeasureText(caption, st.LabelFont)
		s.FillRect(Rect{
			X: b.XMin,
			Y: b.YMin - st.LabelHeight,
			W: textWidth + st.LabelPadding,
			H: st.LabelHeight,
		}, st.BoxColor)
		s.FillText(caption, b.XMin+st.LabelOffsetX, b.YMin+st.LabelOffsetY, st.LabelFont, st.LabelColor)
	}

	if !personDetected {
		return
	}

	bounds := s.Bounds()
	s.FillRect(Rect{
		X: float64(bounds.Min.X),
		Y: float64(bounds.Min.Y),
		W: float64(bounds.Dx()),
		H: float64(bounds.Dy()),
	}, st.AlertFill)

	textWidth := s.MeasureText(st.AlertText, st.AlertFont)
	x := (float64(bounds.Dx()) - textWidth) / 2
	s.StrokeText(st.AlertText, x, st.AlertBaseline, st.AlertFont, st.AlertStrokeColor, st.AlertStrokeWidth)
	s.FillText(st.AlertText, x, st.AlertBaseline, st.AlertFont, st.AlertTextColor)
}
