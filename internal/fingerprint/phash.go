// Package fingerprint computes perceptual hashes for images and videos.
//
// The image hash is a classic DCT pHash: the image is reduced to a 32x32
// grayscale grid, transformed with a 2-D discrete cosine transform, and the
// top-left 8x8 low-frequency block (minus the DC term) is thresholded
// against its own mean to produce a 64-bit value. Visually similar images
// land within a few bits of each other regardless of scaling or
// recompression artifacts.
package fingerprint

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"babylog/pkg/models"
)

const (
	// hashSize is the downsampled edge length fed into the DCT.
	hashSize = 32
	// blockSize is the low-frequency block retained from the DCT output.
	blockSize = 8
)

// ImageHash computes the 64-bit perceptual hash of an image.
func ImageHash(img image.Image) uint64 {
	small := imaging.Grayscale(imaging.Resize(img, hashSize, hashSize, imaging.Lanczos))

	var vals [hashSize][hashSize]float64
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			// Grayscale image, so R carries the luminance.
			vals[x][y] = float64(small.NRGBAAt(x, y).R)
		}
	}

	dct := applyDCT(&vals)

	// Mean of the low-frequency block, excluding the DC term.
	var total float64
	for y := 0; y < blockSize; y++ {
		for x := 0; x < blockSize; x++ {
			if x == 0 && y == 0 {
				continue
			}
			total += dct[x][y]
		}
	}
	avg := total / float64(blockSize*blockSize-1)

	// One bit per coefficient in a fixed scan order; shift between bits
	// except after the final one.
	var hash uint64
	for y := 0; y < blockSize; y++ {
		for x := 0; x < blockSize; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if dct[x][y] > avg {
				hash |= 1
			}
			if !(x == blockSize-1 && y == blockSize-1) {
				hash <<= 1
			}
		}
	}
	return hash
}

// ImageHashFile computes the perceptual hash of an image file on disk.
func ImageHashFile(path string) (uint64, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open image %s: %w", path, err)
	}
	return ImageHash(img), nil
}

// applyDCT computes the top-left blockSize x blockSize coefficients of the
// 2-D type-II DCT of the input grid.
func applyDCT(input *[hashSize][hashSize]float64) [blockSize][blockSize]float64 {
	var output [blockSize][blockSize]float64

	for u := 0; u < blockSize; u++ {
		for v := 0; v < blockSize; v++ {
			var sum float64
			for i := 0; i < hashSize; i++ {
				for j := 0; j < hashSize; j++ {
					sum += input[i][j] *
						math.Cos(float64(2*i+1)*float64(u)*math.Pi/(2*hashSize)) *
						math.Cos(float64(2*j+1)*float64(v)*math.Pi/(2*hashSize))
				}
			}

			cu := 1.0
			if u == 0 {
				cu = 1 / math.Sqrt2
			}
			cv := 1.0
			if v == 0 {
				cv = 1 / math.Sqrt2
			}
			output[u][v] = 0.25 * cu * cv * sum
		}
	}
	return output
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// VideoHammingDistance returns the mean elementwise Hamming distance between
// two frame-hash sequences of equal length.
func VideoHammingDistance(a, b []uint64) (int, error) {
	if len(a) != len(b) {
		return 0, models.ErrHashLengthMismatch
	}
	if len(a) == 0 {
		return 0, nil
	}
	total := 0
	for i := range a {
		total += HammingDistance(a[i], b[i])
	}
	return total / len(a), nil
}

// Similarity converts a Hamming distance into a percentage where 100 means
// identical hashes.
func Similarity(a, b uint64) float64 {
	return 100 - (float64(HammingDistance(a, b))/64)*100
}

// VideoSimilarity returns the mean frame similarity percentage between two
// frame-hash sequences of equal length.
func VideoSimilarity(a, b []uint64) (float64, error) {
	if len(a) != len(b) {
		return 0, models.ErrHashLengthMismatch
	}
	if len(a) == 0 {
		return 100, nil
	}
	var total float64
	for i := range a {
		total += Similarity(a[i], b[i])
	}
	return total / float64(len(a)), nil
}

// HashToString encodes a hash as a fixed-width uppercase hex string.
func HashToString(hash uint64) string {
	return fmt.Sprintf("%016X", hash)
}

// StringToHash decodes a hash produced by HashToString.
func StringToHash(s string) (uint64, error) {
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidHashString, s)
	}
	return h, nil
}

// VideoHashToString encodes a frame-hash sequence as a comma-joined hex
// string in sample-time order.
func VideoHashToString(hashes []uint64) string {
	parts := make([]string, len(hashes))
	for i, h := range hashes {
		parts[i] = HashToString(h)
	}
	return strings.Join(parts, ",")
}

// StringToVideoHash decodes a sequence produced by VideoHashToString.
func StringToVideoHash(s string) ([]uint64, error) {
	parts := strings.Split(s, ",")
	hashes := make([]uint64, len(parts))
	for i, p := range parts {
		h, err := StringToHash(p)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	return hashes, nil
}

// StringDistance compares two string-encoded fingerprints of the same kind.
// Image fingerprints are single hashes; video fingerprints are comma-joined
// frame sequences compared by mean distance.
func StringDistance(a, b string, isImage bool) (int, error) {
	if isImage {
		ha, err := StringToHash(a)
		if err != nil {
			return 0, err
		}
		hb, err := StringToHash(b)
		if err != nil {
			return 0, err
		}
		return HammingDistance(ha, hb), nil
	}

	va, err := StringToVideoHash(a)
	if err != nil {
		return 0, err
	}
	vb, err := StringToVideoHash(b)
	if err != nil {
		return 0, err
	}
	return VideoHammingDistance(va, vb)
}
