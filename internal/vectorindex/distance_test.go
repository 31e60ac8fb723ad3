package vectorindex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 0},
		{name: "unit axes", a: []float32{1, 0}, b: []float32{0, 1}, want: 2},
		{name: "unrolled tail", a: []float32{1, 1, 1, 1, 1}, b: []float32{0, 0, 0, 0, 3}, want: 8},
		{name: "empty", a: []float32{}, b: []float32{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, squaredL2(tt.a, tt.b), 1e-6)
		})
	}
}

func TestNormalizeL2(t *testing.T) {
	in := []float32{3, 4}
	out := normalizeL2(in)

	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
	assert.Equal(t, []float32{3, 4}, in, "input must not be modified")

	zero := normalizeL2([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestNormalizedDistanceTracksCosine(t *testing.T) {
	a := normalizeL2([]float32{1, 2, 3, 4})
	b := normalizeL2([]float32{4, 3, 2, 1})

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	// |a-b|^2 = 2 - 2cos for unit vectors
	assert.InDelta(t, 2-2*dot, float64(squaredL2(a, b)), 1e-5)
	assert.False(t, math.IsNaN(float64(squaredL2(a, b))))
}
