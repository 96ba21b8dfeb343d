package inference

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
)

// Normalization is the per-channel mean and standard deviation applied after
// scaling pixels to [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the normalization DETR-family models are trained with.
var ImageNet = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Unit leaves pixels in [0, 1].
var Unit = Normalization{
	Mean: [3]float32{0, 0, 0},
	Std:  [3]float32{1, 1, 1},
}

// PrepareInput resizes img and writes it into dst as a normalized CHW tensor.
//
// Arguments:
//   - img: The image to prepare.
//   - dst: The destination tensor, shaped [1, 3, height, width].
//   - width: The model input width.
//   - height: The model input height.
//   - norm: The channel normalization.
//
// Returns:
//   - error: An error if the input preparation fails.
func PrepareInput(img image.Image, dst *ort.Tensor[float32], width, height int, norm Normalization) error {
	return FillCHW(img, dst.GetData(), width, height, norm)
}

// FillCHW resizes img to width x height with Lanczos3 and writes planar RGB
// floats into data.
//
// Arguments:
//   - img: The source image.
//   - data: The destination buffer; it must hold at least 3*width*height floats.
//   - width: The target width.
//   - height: The target height.
//   - norm: The channel normalization.
//
// Returns:
//   - error: An error if the buffer is too small or the size is invalid.
func FillCHW(img image.Image, data []float32, width, height int, norm Normalization) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid input size %dx%d", width, height)
	}
	channelSize := width * height
	if len(data) < channelSize*3 {
		return fmt.Errorf("destination tensor only holds %d floats, needs "+
			"%d (make sure it's the right shape!)", len(data), channelSize*3)
	}
	for c := 0; c < 3; c++ {
		if norm.Std[c] == 0 {
			return fmt.Errorf("zero standard deviation for channel %d", c)
		}
	}

	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
		b = img.Bounds()
	}

	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			red[i] = (float32(r>>8)/255.0 - norm.Mean[0]) / norm.Std[0]
			green[i] = (float32(g>>8)/255.0 - norm.Mean[1]) / norm.Std[1]
			blue[i] = (float32(bl>>8)/255.0 - norm.Mean[2]) / norm.Std[2]
			i++
		}
	}
	return nil
}
