package imageprocessor

import (
	"bytes"
	"image"
	"strings"
)

// FormatType represents a known image format type
type FormatType string

// Known image format constants
const (
	FormatUnknown FormatType = "unknown"
	FormatJPEG    FormatType = "jpeg"
	FormatPNG     FormatType = "png"
	FormatGIF     FormatType = "gif"
	FormatTIFF    FormatType = "tiff"
	FormatBMP     FormatType = "bmp"
	FormatWEBP    FormatType = "webp"
	FormatHEIC    FormatType = "heic"
)

// Map of MIME types to format types
var mimeFormats = map[string]FormatType{
	"image/jpeg":  FormatJPEG,
	"image/jpg":   FormatJPEG,
	"image/pjpeg": FormatJPEG,
	"image/png":   FormatPNG,
	"image/gif":   FormatGIF,
	"image/tiff":  FormatTIFF,
	"image/bmp":   FormatBMP,
	"image/webp":  FormatWEBP,
	"image/heic":  FormatHEIC,
	"image/heif":  FormatHEIC,
}

// IsImageMimeType reports whether a declared MIME type names an image.
// Parameters such as "; charset=" are ignored.
func IsImageMimeType(mimeType string) bool {
	return strings.HasPrefix(normalizeMime(mimeType), "image/")
}

// FormatFromMimeType returns the format for a MIME type
func FormatFromMimeType(mimeType string) FormatType {
	format, ok := mimeFormats[normalizeMime(mimeType)]
	if !ok {
		return FormatUnknown
	}
	return format
}

// DetectFormat sniffs the image format from its header bytes
func DetectFormat(data []byte) FormatType {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return FormatUnknown
	}
	return FormatType(name)
}

func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
