// Package quality decides whether a detection result is fit for enrollment
// or matching and scores the face crop.
package quality

import (
	"bytes"
	"image"
	"math"

	// registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

const (
	// NeutralScore is returned whenever the crop cannot be scored.
	NeutralScore = 0.5

	// MaxImagePixels bounds width*height of anything that gets fully decoded.
	MaxImagePixels = 50_000_000

	sharpnessNorm = 500.0
	sizeFactor    = 5.0

	sharpnessWeight = 0.4
	exposureWeight  = 0.3
	sizeWeight      = 0.3
)

// Breakdown exposes the three sub-scores behind a combined quality score.
type Breakdown struct {
	Sharpness float64 `json:"sharpness"`
	Exposure  float64 `json:"exposure"`
	Size      float64 `json:"size"`
	Score     float64 `json:"score"`
}

type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the combined quality of region inside img, rounded to two
// decimals. Any failure yields NeutralScore.
func (s *Scorer) Score(img []byte, region domain.BoundingBox) float64 {
	b, ok := s.Breakdown(img, region)
	if !ok {
		return NeutralScore
	}
	return b.Score
}

func (s *Scorer) Breakdown(img []byte, region domain.BoundingBox) (Breakdown, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil || !WithinPixelLimit(cfg) {
		return Breakdown{}, false
	}

	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return Breakdown{}, false
	}

	bounds := decoded.Bounds()
	crop, ok := clampRegion(bounds, region)
	if !ok {
		return Breakdown{}, false
	}

	gray := toGray(decoded, crop)
	w, h := crop.Dx(), crop.Dy()

	sharpness := math.Min(laplacianVariance(gray, w, h)/sharpnessNorm, 1)

	exposure := 1 - math.Abs(mean(gray)-127)/127
	exposure = clamp01(exposure)

	imageArea := float64(bounds.Dx() * bounds.Dy())
	size := math.Min(float64(w*h)/imageArea*sizeFactor, 1)

	combined := sharpnessWeight*sharpness + exposureWeight*exposure + sizeWeight*size

	return Breakdown{
		Sharpness: sharpness,
		Exposure:  exposure,
		Size:      size,
		Score:     math.Round(combined*100) / 100,
	}, true
}

// WithinPixelLimit reports whether an image with header cfg is small enough
// to decode in memory.
func WithinPixelLimit(cfg image.Config) bool {
	return cfg.Width > 0 && cfg.Height > 0 &&
		int64(cfg.Width)*int64(cfg.Height) <= MaxImagePixels
}

// clampRegion converts a box relative to the image origin into absolute
// bounds clipped to the image.
func clampRegion(bounds image.Rectangle, region domain.BoundingBox) (image.Rectangle, bool) {
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return image.Rectangle{}, false
	}

	x := max(0, min(region.X, w-1))
	y := max(0, min(region.Y, h-1))
	rw := min(region.Width, w-x)
	rh := min(region.Height, h-y)
	if rw <= 0 || rh <= 0 {
		return image.Rectangle{}, false
	}

	origin := bounds.Min.Add(image.Pt(x, y))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(rw, rh))}, true
}

// toGray returns BT.601 luma of r in row-major order.
func toGray(img image.Image, r image.Rectangle) []float64 {
	out := make([]float64, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			l := 0.299*float64(cr>>8) + 0.587*float64(cg>>8) + 0.114*float64(cb>>8)
			out = append(out, math.Round(l))
		}
	}
	return out
}

// laplacianVariance applies the 4-neighbour Laplacian with reflected borders
// and returns the variance of the response.
func laplacianVariance(gray []float64, w, h int) float64 {
	at := func(x, y int) float64 {
		return gray[reflect101(y, h)*w+reflect101(x, w)]
	}

	n := float64(w * h)
	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += v
			sumSq += v * v
		}
	}
	m := sum / n
	return math.Max(sumSq/n-m*m, 0)
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - 2 - i
	}
	return i
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
