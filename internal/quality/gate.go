package quality

import (
	"log/slog"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
)

// Decision is either accepted (Region and Quality set) or rejected with Reason.
type Decision struct {
	Accepted  bool
	Region    provider.BoundingBox
	Quality   float64
	Reason    error
	FaceCount int
}

type Gate struct {
	scorer *Scorer
	logger *slog.Logger

	// MinQuality rejects accepted faces scoring below it. Zero keeps the
	// score advisory.
	MinQuality float64
}

func NewGate(scorer *Scorer, minQuality float64, logger *slog.Logger) *Gate {
	if scorer == nil {
		scorer = NewScorer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{scorer: scorer, MinQuality: minQuality, logger: logger}
}

// Evaluate requires exactly one usable face region and scores it.
// Regions with a non-positive width or height are ignored.
func (g *Gate) Evaluate(image []byte, detections []provider.DetectedFace) Decision {
	faces := make([]provider.DetectedFace, 0, len(detections))
	for _, d := range detections {
		if d.BoundingBox.Area() > 0 {
			faces = append(faces, d)
		}
	}

	switch len(faces) {
	case 0:
		return Decision{Reason: domain.ErrNoFaceDetected}
	case 1:
	default:
		return Decision{Reason: domain.MultipleFacesError(len(faces)), FaceCount: len(faces)}
	}

	region := faces[0].BoundingBox
	score := g.scorer.Score(image, region)

	if g.MinQuality > 0 && score < g.MinQuality {
		g.logger.Debug("face rejected by quality gate", "quality", score, "min_quality", g.MinQuality)
		return Decision{Region: region, Quality: score, Reason: domain.ErrLowQualityImage, FaceCount: 1}
	}

	return Decision{Accepted: true, Region: region, Quality: score, FaceCount: 1}
}
