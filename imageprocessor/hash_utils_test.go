package imageprocessor

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitImage is dark on the left half and bright on the right half
func splitImage(size int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x >= size/2 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestComputeAverageHash_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, 120, 90))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	data := encodePNG(t, img)

	first, err := ComputeAverageHash(data)
	require.NoError(t, err)
	second, err := ComputeAverageHash(data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestComputeAverageHash_SplitPattern(t *testing.T) {
	data := encodePNG(t, splitImage(64))

	hash, err := ComputeAverageHash(data)
	require.NoError(t, err)

	// Each row reads 00001111
	assert.Equal(t, uint64(0x0F0F0F0F0F0F0F0F), hash)
}

func TestComputeAverageHash_UniformImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 90
	}

	hash, err := ComputeAverageHash(encodePNG(t, img))
	require.NoError(t, err)

	// Every pixel equals the mean, so every bit is set
	assert.Equal(t, ^uint64(0), hash)
}

func TestComputeAverageHash_CorruptData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", encodePNG(t, splitImage(16))[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeAverageHash(tt.data)
			require.Error(t, err)
			assert.True(t, IsDecodeError(err), "expected DecodeError, got %T", err)
		})
	}
}

func TestDecodeWithGo_GIF(t *testing.T) {
	palette := color.Palette{color.Black, color.White}
	img := image.NewPaletted(image.Rect(0, 0, 64, 64), palette)
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			img.SetColorIndex(x, y, 1)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))

	mat, err := decodeWithGo(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	hash, err := AverageHashFromMat(mat)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0F0F0F0F0F0F0F0F), hash)
}

func TestHammingDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		a, b := rng.Uint64(), rng.Uint64()
		d := HammingDistance(a, b)

		assert.Equal(t, d, HammingDistance(b, a))
		assert.Equal(t, 0, HammingDistance(a, a))
		assert.GreaterOrEqual(t, d, 0)
		assert.LessOrEqual(t, d, 64)
	}

	assert.Equal(t, 64, HammingDistance(0, ^uint64(0)))
	assert.Equal(t, 1, HammingDistance(0b1000, 0b1001))
}

func TestFormatAndParseHash(t *testing.T) {
	s := FormatHash(0x0F0F0F0F0F0F0F0F)
	assert.Equal(t, "0f0f0f0f0f0f0f0f", s)

	v, err := ParseHash(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0F0F0F0F0F0F0F0F), v)

	_, err = ParseHash("abc")
	assert.Error(t, err)
	_, err = ParseHash("zzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestIsImageMimeType(t *testing.T) {
	assert.True(t, IsImageMimeType("image/jpeg"))
	assert.True(t, IsImageMimeType("Image/PNG; charset=binary"))
	assert.False(t, IsImageMimeType("application/pdf"))
	assert.False(t, IsImageMimeType(""))
	assert.Equal(t, FormatWEBP, FormatFromMimeType("image/webp"))
	assert.Equal(t, FormatUnknown, FormatFromMimeType("image/x-unknown"))
}
