// Package imageprocessor decodes uploaded images and computes the 64-bit
// average hashes used for similarity search.
package imageprocessor
