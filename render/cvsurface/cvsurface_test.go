package cvsurface

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/render"
)

func TestOverlayOnMat(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range base.Pix {
		base.Pix[i] = 100
	}

	s := New(320, 240)
	defer s.Close()

	dets := []detection.Detection{{Label: "person", Score: 0.9, Box: common.Box{XMin: 60, YMin: 60, XMax: 200, YMax: 220}}}
	render.NewOverlay().Render(s, base, dets, true)

	img, err := s.Image()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())

	r, g, b, _ := img.At(5, 235).RGBA()
	assert.Greater(t, r>>8, g>>8, "red wash")
	assert.InDelta(t, float64(g>>8), float64(b>>8), 2)

	data, err := s.Encode()
	require.NoError(t, err)
	assert.True(t, len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8)
}

func TestMeasureTextScales(t *testing.T) {
	s := New(10, 10)
	defer s.Close()

	small := s.MeasureText("BRAKES", render.Font{Size: 16})
	large := s.MeasureText("BRAKES", render.Font{Size: 48, Bold: true})
	assert.Positive(t, small)
	assert.Greater(t, large, small)
}

func TestTransparentFillIsNoop(t *testing.T) {
	s := New(4, 4)
	defer s.Close()

	s.FillRect(render.Rect{W: 4, H: 4}, color.NRGBA{R: 255})
	img, err := s.Image()
	require.NoError(t, err)
	r, _, _, _ := img.At(1, 1).RGBA()
	assert.Zero(t, r)
}

func TestAnnotate(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := range base.Pix {
		base.Pix[i] = 200
	}

	data, err := Annotate(base, nil, false)
	require.NoError(t, err)

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 200, mat.Cols())
	assert.Equal(t, 100, mat.Rows())
}
