package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
)

// chunkSize is the streaming read size for content hashing, spec.md
// §4.2's 64 KiB.
const chunkSize = 64 * 1024

// contentHash streams r in chunkSize blocks through SHA-256, never
// holding the whole input in memory. For photos, contentHashForPhoto
// passes an orientation-normalized reader so two rotated-but-identical
// images collapse to the same hash.
func contentHash(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// contentHashForPhoto decodes path, applies its EXIF orientation so the
// pixel data is canonicalized before hashing, re-encodes to a
// deterministic in-memory form, and hashes that. This ensures two
// photos that differ only in an EXIF orientation tag but are otherwise
// pixel-identical once rotated collapse to one asset.
func contentHashForPhoto(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode for hash: %w", err)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(imaging.Encode(pw, img, imaging.PNG))
	}()
	defer pr.Close()
	return contentHash(pr)
}

// contentHashForVideo hashes the raw file bytes directly; video frames
// carry no orientation tag in the sense EXIF photos do, so no
// normalization step is needed before hashing.
func contentHashForVideo(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hash: %w", err)
	}
	defer f.Close()
	return contentHash(f)
}

// pHashSize is the side length of the grayscale thumbnail the DCT is
// taken over; 32x32 downsampled to an 8x8 low-frequency DCT block
// yields the standard 64-bit perceptual hash.
const pHashSize = 32

// perceptualHash computes a 64-bit pHash-family fingerprint for img:
// grayscale + downsample to 32x32, 2D DCT, keep the top-left 8x8
// low-frequency block (excluding the DC term), threshold against the
// block's mean. Two images whose low-frequency structure matches
// produce hashes within a small Hamming distance of each other even
// after recompression or minor crops. No pack library implements this;
// it is a self-contained numeric transform, not an ecosystem concern.
func perceptualHash(img image.Image) uint64 {
	small := imaging.Resize(img, pHashSize, pHashSize, imaging.Lanczos)
	gray := imaging.Grayscale(small)

	pixels := make([][]float64, pHashSize)
	for y := 0; y < pHashSize; y++ {
		pixels[y] = make([]float64, pHashSize)
		for x := 0; x < pHashSize; x++ {
			r, _, _, _ := gray.At(x, y).RGBA()
			pixels[y][x] = float64(r >> 8)
		}
	}

	dct := dct2D(pixels)

	const keep = 8
	var sum float64
	vals := make([]float64, 0, keep*keep-1)
	for y := 0; y < keep; y++ {
		for x := 0; x < keep; x++ {
			if x == 0 && y == 0 {
				continue // DC term dominates and carries no structure
			}
			sum += dct[y][x]
			vals = append(vals, dct[y][x])
		}
	}
	mean := sum / float64(len(vals))

	var hash uint64
	i := 0
	for y := 0; y < keep; y++ {
		for x := 0; x < keep; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if dct[y][x] > mean {
				hash |= 1 << uint(i)
			}
			i++
		}
	}
	return hash
}

// dct2D applies a 2D discrete cosine transform (type II) to an NxN
// grid, the standard separable row-then-column formulation.
func dct2D(in [][]float64) [][]float64 {
	n := len(in)
	tmp := make([][]float64, n)
	for i := range tmp {
		tmp[i] = dct1D(in[i])
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	col := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = tmp[y][x]
		}
		transformed := dct1D(col)
		for y := 0; y < n; y++ {
			out[y][x] = transformed[y]
		}
	}
	return out
}

func dct1D(in []float64) []float64 {
	n := len(in)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		c := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			c = math.Sqrt(1.0 / float64(n))
		}
		out[k] = sum * c
	}
	return out
}
