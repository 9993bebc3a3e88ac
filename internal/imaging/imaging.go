package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// ErrDecode is returned when image bytes cannot be decoded
var ErrDecode = errors.New("image could not be decoded")

// Luminance weights and levels are scaled by 1000 so the threshold is exact
const (
	weightR = 299
	weightG = 587
	weightB = 114
	midGray = 128 * 1000

	// contrast is applied as contrastNum/contrastDen (1.5x)
	contrastNum = 3
	contrastDen = 2
)

// Source is an uploaded image owned by a single processing job
type Source struct {
	Name      string
	MediaType string
	Data      []byte
}

// IsImageMediaType reports whether the declared media type is an image type
func IsImageMediaType(mediaType string) bool {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return strings.HasPrefix(mediaType, "image/")
}

// MediaTypeFor guesses a media type from a file name extension
func MediaTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIF-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heix" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mediaType string) bool {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return strings.Contains(mediaType, "heic") || strings.Contains(mediaType, "heif")
}

// Decode decodes image bytes. Every failure wraps ErrDecode.
func Decode(data []byte, mediaType string) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(data) || isHEICMimeType(mediaType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %v", ErrDecode, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, WebP, BMP, TIFF", ErrDecode)
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Normalize converts an image to pure black and white for text recognition.
// Luminance is taken with Rec. 601 weights, stretched around mid-gray and
// binarized at mid-gray. The output is a pure function of the input pixels.
func Normalize(img image.Image) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			gray := weightR*int(c.R) + weightG*int(c.G) + weightB*int(c.B)
			enhanced := (gray-midGray)*contrastNum/contrastDen + midGray

			var v uint8
			if enhanced > midGray {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}

	return out
}

// EncodePNG encodes an image as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Prepare decodes and normalizes an uploaded image
func Prepare(src Source) (*image.Gray, error) {
	img, err := Decode(src.Data, src.MediaType)
	if err != nil {
		return nil, err
	}
	return Normalize(img), nil
}
