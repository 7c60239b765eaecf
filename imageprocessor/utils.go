package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeError reports image bytes that could not be decoded for hashing.
// It is local to the image being processed; callers skip the image and continue.
type DecodeError struct {
	Format FormatType
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" && e.Format != FormatUnknown {
		return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a *DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// DecodeImage turns raw bytes into a BGR Mat. OpenCV is tried first; payloads
// it cannot read (GIF, WebP on some builds) go through Go's image decoders.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), &DecodeError{Err: errors.New("empty payload")}
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !img.Empty() {
		return img, nil
	}
	img.Close()

	mat, goErr := decodeWithGo(data)
	if goErr != nil {
		return gocv.NewMat(), &DecodeError{Format: DetectFormat(data), Err: goErr}
	}
	return mat, nil
}

// decodeWithGo decodes using Go's standard image packages
func decodeWithGo(data []byte) (gocv.Mat, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.NewMat(), err
	}
	return gocvMatFromGoImage(img)
}

// Convert a Go image to a 3-channel BGR Mat
func gocvMatFromGoImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), errors.New("image has no pixels")
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			// Convert from 0-65535 to 0-255
			mat.SetUCharAt3(y, x, 0, uint8(b>>8))
			mat.SetUCharAt3(y, x, 1, uint8(g>>8))
			mat.SetUCharAt3(y, x, 2, uint8(r>>8))
		}
	}

	return mat, nil
}
