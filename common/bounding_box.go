package common

import (
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned bounding box in pixel space.
type Box struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

func (b Box) String() string {
	return fmt.Sprintf("(%.1f, %.1f)-(%.1f, %.1f)", b.XMin, b.YMin, b.XMax, b.YMax)
}

// Width returns XMax-XMin, which is negative for an inverted box.
func (b Box) Width() float64 {
	return b.XMax - b.XMin
}

// Height returns YMax-YMin, which is negative for an inverted box.
func (b Box) Height() float64 {
	return b.YMax - b.YMin
}

// Clamped collapses an inverted box to zero width and/or height.
//
// The minimum corner is kept and the maximum corner is moved onto it, so a
// degenerate box still has a defined position and is never dropped.
//
// Returns:
//   - A box with XMax >= XMin and YMax >= YMin.
//
// @example
// b := Box{XMin: 50, YMin: 10, XMax: 20, YMax: 40}.Clamped()
// fmt.Println(b) // (50.0, 10.0)-(50.0, 40.0)
func (b Box) Clamped() Box {
	if b.XMax < b.XMin {
		b.XMax = b.XMin
	}
	if b.YMax < b.YMin {
		b.YMax = b.YMin
	}
	return b
}

// ToRect converts the box to an image.Rectangle.
//
// This loses fractional pixels around the edges; the rectangle is only used by
// pixel backends that address whole pixels.
//
// Returns:
//   - An image.Rectangle with canonicalized coordinates.
//
// @example
// box := Box{XMin: 100.4, YMin: 100.6, XMax: 200.5, YMax: 300.5}
// rect := box.ToRect()
// fmt.Printf("Rectangle: %v\n", rect) // Rectangle: (100,101)-(201,301)
func (b Box) ToRect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.XMin)), int(math.Round(b.YMin)),
		int(math.Round(b.XMax)), int(math.Round(b.YMax)),
	).Canon()
}
