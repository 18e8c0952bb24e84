package ingest

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflib/libraryd/internal/vecmath"
)

func checkerboard(size, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 230})
			} else {
				img.SetGray(x, y, color.Gray{Y: 20})
			}
		}
	}
	return img
}

func solidGray(size int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestPerceptualHash_IdenticalImagesMatchExactly(t *testing.T) {
	img := checkerboard(256, 16)
	h1 := perceptualHash(img)
	h2 := perceptualHash(img)
	assert.Equal(t, h1, h2)
}

func TestPerceptualHash_DifferentStructureIsFarApart(t *testing.T) {
	checker := perceptualHash(checkerboard(256, 16))
	solid := perceptualHash(solidGray(256, 128))

	distance := vecmath.HammingDistance64(checker, solid)
	assert.Greater(t, distance, DefaultThresholdForTest, "a checkerboard and a flat image should not land in the same stack")
}

// DefaultThresholdForTest mirrors duplicates.DefaultThreshold without an
// import cycle (internal/duplicates does not import internal/ingest).
const DefaultThresholdForTest = 8

func TestDCT1D_ConstantInputHasNoACEnergy(t *testing.T) {
	in := make([]float64, 8)
	for i := range in {
		in[i] = 100
	}
	out := dct1D(in)
	for k := 1; k < len(out); k++ {
		assert.InDelta(t, 0, out[k], 1e-9, "a flat signal carries no AC structure")
	}
	assert.Greater(t, out[0], 0.0, "the DC term carries the average level")
}
