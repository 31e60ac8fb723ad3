package vectorindex

import "math"

// squaredL2 assumes len(a) == len(b).
func squaredL2(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return s0 + s1 + s2 + s3
}

// normalizeL2 returns a unit-length copy of v. A zero vector is returned unchanged.
func normalizeL2(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var norm2 float64
	for _, x := range out {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return out
	}

	inv := float32(1 / math.Sqrt(norm2))
	for i := range out {
		out[i] *= inv
	}
	return out
}
