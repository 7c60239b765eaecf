package scanner

import (
	"path/filepath"
	"strings"
)

// IsImageFile checks if a file extension belongs to a web image format
func IsImageFile(path string) bool {
	switch GetFileFormat(path) {
	case "jpg", "jpeg", "png", "gif", "bmp", "webp", "tif", "tiff":
		return true
	default:
		return false
	}
}

// GetFileFormat returns the lowercase file extension without the dot
func GetFileFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
