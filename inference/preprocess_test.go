package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillCHWUnit(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{255, 0, 51, 255})
		}
	}

	data := make([]float32, 3*4*2)
	require.NoError(t, FillCHW(img, data, 4, 2, Unit))

	for i := 0; i < 8; i++ {
		assert.InDelta(t, 1.0, data[i], 1e-6)
		assert.InDelta(t, 0.0, data[8+i], 1e-6)
		assert.InDelta(t, 0.2, data[16+i], 1e-6)
	}
}

func TestFillCHWImageNet(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{0, 0, 0, 255})

	data := make([]float32, 3)
	require.NoError(t, FillCHW(img, data, 1, 1, ImageNet))

	assert.InDelta(t, -0.485/0.229, data[0], 1e-5)
	assert.InDelta(t, -0.456/0.224, data[1], 1e-5)
	assert.InDelta(t, -0.406/0.225, data[2], 1e-5)
}

func TestFillCHWResizes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	data := make([]float32, 3*16*16)
	require.NoError(t, FillCHW(img, data, 16, 16, Unit))
}

func TestFillCHWErrors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	assert.Error(t, FillCHW(img, make([]float32, 10), 4, 4, Unit))
	assert.Error(t, FillCHW(img, make([]float32, 48), 0, 4, Unit))
	assert.Error(t, FillCHW(img, make([]float32, 48), 4, 4, Normalization{}))
}

func TestParseEngine(t *testing.T) {
	e, err := ParseEngine("onnx")
	require.NoError(t, err)
	assert.Equal(t, EngineONNX, e)

	e, err = ParseEngine("remote")
	require.NoError(t, err)
	assert.Equal(t, EngineRemote, e)

	_, err = ParseEngine("tflite")
	assert.Error(t, err)
}
