// Package images - Encoded still images and their transport forms.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultJPEGQuality matches the quality browsers use for canvas JPEG exports.
const DefaultJPEGQuality = 92

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// MIMEType returns the media type of the format.
func (f ImageFormat) MIMEType() string {
	return "image/" + string(f)
}

func (f ImageFormat) imaging() (imaging.Format, error) {
	switch f {
	case FormatJPEG:
		return imaging.JPEG, nil
	case FormatPNG:
		return imaging.PNG, nil
	default:
		return 0, fmt.Errorf("unsupported image format: %q", f)
	}
}

// Encode encodes img in the given format.
//
// Arguments:
//   - img: The pixels to encode.
//   - format: The target format.
//   - quality: JPEG quality in [1, 100]; ignored for PNG. Values <= 0 use DefaultJPEGQuality.
//
// Returns:
//   - Image: The encoded image carrying the source dimensions.
//   - error: An error if the format is unsupported or encoding fails.
//
// @example
// enc, err := images.Encode(frame, images.FormatJPEG, 0)
// fmt.Println(enc.DataURL()[:23]) // data:image/jpeg;base64,
func Encode(img image.Image, format ImageFormat, quality int) (Image, error) {
	if img == nil {
		return Image{}, errors.New("image is nil")
	}
	f, err := format.imaging()
	if err != nil {
		return Image{}, err
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(quality)); err != nil {
		return Image{}, errors.Wrapf(err, "encode %s", format)
	}

	b := img.Bounds()
	return Image{
		Format: format,
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Decode decodes the image data.
//
// Returns:
//   - image.Image: The decoded pixels.
//   - error: An error if the data is empty or undecodable.
func (i Image) Decode() (image.Image, error) {
	if len(i.Data) == 0 {
		return nil, errors.New("image data is empty")
	}
	img, err := imaging.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}

// DataURL returns the image as a base64 data URL, e.g. "data:image/jpeg;base64,/9j/...".
func (i Image) DataURL() string {
	if len(i.Data) == 0 {
		return ""
	}
	return "data:" + i.Format.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL parses a base64 data URL produced by DataURL.
//
// Width and Height are filled in from the decoded image header.
//
// Arguments:
//   - s: The data URL.
//
// Returns:
//   - Image: The encoded image.
//   - error: An error if s is not a base64 image data URL.
func ParseDataURL(s string) (Image, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return Image{}, errors.New("not a base64 image data URL")
	}
	format := ImageFormat(strings.TrimSuffix(strings.TrimPrefix(header, "data:image/"), ";base64"))
	if _, err := format.imaging(); err != nil {
		return Image{}, err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, errors.Wrap(err, "decode base64 payload")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, errors.Wrap(err, "read image header")
	}

	return Image{Format: format, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}
