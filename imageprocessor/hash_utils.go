package imageprocessor

import (
	"errors"
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"gocv.io/x/gocv"
)

// HashSize is the side of the grid the image is reduced to before hashing
const HashSize = 8

// HashBits is the number of bits in an average hash
const HashBits = HashSize * HashSize

// ComputeAverageHash decodes raw image bytes and returns their 64-bit average hash.
// Undecodable input yields a *DecodeError.
func ComputeAverageHash(data []byte) (uint64, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return 0, err
	}
	defer img.Close()

	return AverageHashFromMat(img)
}

// AverageHashFromMat calculates the average hash of a decoded image.
// Bit i (row-major, most significant first) is set when pixel i of the
// 8x8 grayscale reduction is at or above the mean intensity.
func AverageHashFromMat(img gocv.Mat) (uint64, error) {
	if img.Empty() {
		return 0, &DecodeError{Err: errors.New("cannot compute hash for empty image")}
	}

	// Resize to 8x8
	resized := gocv.NewMat()
	defer resized.Close()

	gocv.Resize(img, &resized, image.Point{X: HashSize, Y: HashSize}, 0, 0, gocv.InterpolationArea)

	// Convert to grayscale if not already
	gray := gocv.NewMat()
	defer gray.Close()

	if resized.Channels() != 1 {
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	} else {
		resized.CopyTo(&gray)
	}

	if gray.Rows() != HashSize || gray.Cols() != HashSize {
		return 0, &DecodeError{Err: fmt.Errorf("unexpected reduced size %dx%d", gray.Cols(), gray.Rows())}
	}

	var sum uint64
	for y := 0; y < HashSize; y++ {
		for x := 0; x < HashSize; x++ {
			sum += uint64(gray.GetUCharAt(y, x))
		}
	}
	mean := float64(sum) / float64(HashBits)

	var hash uint64
	for y := 0; y < HashSize; y++ {
		for x := 0; x < HashSize; x++ {
			hash <<= 1
			if float64(gray.GetUCharAt(y, x)) >= mean {
				hash |= 1
			}
		}
	}

	return hash, nil
}

// HammingDistance returns the number of differing bits between two hashes
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// FormatHash renders a hash as 16 lowercase hex digits
func FormatHash(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// ParseHash parses the 16-digit hex form produced by FormatHash
func ParseHash(s string) (uint64, error) {
	if len(s) != HashBits/4 {
		return 0, fmt.Errorf("invalid hash length %d for %q", len(s), s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return v, nil
}
