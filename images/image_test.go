package images

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestEncodeJPEG(t *testing.T) {
	enc, err := Encode(solid(64, 48, color.RGBA{200, 30, 30, 255}), FormatJPEG, 0)
	require.NoError(t, err)

	assert.Equal(t, FormatJPEG, enc.Format)
	assert.Equal(t, 64, enc.Width)
	assert.Equal(t, 48, enc.Height)
	assert.True(t, len(enc.Data) > 2 && enc.Data[0] == 0xFF && enc.Data[1] == 0xD8, "JPEG SOI marker")

	decoded, err := enc.Decode()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), decoded.Bounds())
}

func TestEncodeRejectsNilAndUnknownFormat(t *testing.T) {
	_, err := Encode(nil, FormatJPEG, 80)
	assert.Error(t, err)

	_, err = Encode(solid(2, 2, color.RGBA{}), ImageFormat("webp"), 80)
	assert.Error(t, err)
}

func TestDataURLRoundTrip(t *testing.T) {
	enc, err := Encode(solid(16, 8, color.RGBA{0, 0, 255, 255}), FormatPNG, 0)
	require.NoError(t, err)

	url := enc.DataURL()
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	parsed, err := ParseDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, enc, parsed)
}

func TestDataURLEmpty(t *testing.T) {
	assert.Equal(t, "", Image{}.DataURL())
}

func TestParseDataURLErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"hello",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/jpeg,rawbytes",
		"data:image/jpeg;base64,!!!",
		"data:image/jpeg;base64,aGVsbG8=",
	} {
		_, err := ParseDataURL(s)
		assert.Error(t, err, s)
	}
}

func TestChecksum(t *testing.T) {
	a := solid(8, 8, color.RGBA{1, 2, 3, 255})
	b := solid(8, 8, color.RGBA{1, 2, 3, 255})
	assert.Equal(t, Checksum(a), Checksum(b))
	assert.Len(t, Checksum(a), 32)

	b.SetRGBA(7, 7, color.RGBA{1, 2, 4, 255})
	assert.NotEqual(t, Checksum(a), Checksum(b))

	sub := solid(16, 16, color.RGBA{1, 2, 3, 255}).SubImage(image.Rect(4, 4, 12, 12))
	assert.Equal(t, Checksum(a), Checksum(sub))

	assert.Equal(t, "empty", Checksum(nil))
	assert.Equal(t, "empty", Checksum(image.NewRGBA(image.Rectangle{})))
}
