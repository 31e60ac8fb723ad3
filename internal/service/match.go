package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
	"github.com/saturnino-fabrica-de-software/facegate/internal/quality"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

const (
	DefaultThreshold = 0.6
	DefaultTopK      = 1
	MaxTopK          = 50

	unknownName = "Unknown"

	ReasonNoFace  = "no_face"
	ReasonNoMatch = "no_match"
)

type MatchRequest struct {
	Image []byte

	// Threshold is the minimum confidence in [0,1]. Nil uses the service default.
	Threshold *float64

	// TopK is the number of candidates to return. Zero means DefaultTopK.
	TopK int

	ClientIP string
}

type MatchResult struct {
	Matched          bool                      `json:"matched"`
	IdentityID       string                    `json:"user_id,omitempty"`
	Name             string                    `json:"name,omitempty"`
	Confidence       float64                   `json:"confidence"`
	Alternatives     []domain.MatchAlternative `json:"alternatives,omitempty"`
	Reason           string                    `json:"reason,omitempty"`
	ProcessingTimeMs int64                     `json:"processing_time_ms"`
}

type MatchService struct {
	identities IdentityRepositoryInterface
	audits     MatchAuditRepositoryInterface
	index      VectorIndex
	provider   provider.FaceProvider
	gate       *quality.Gate
	threshold  float64
	timeouts   Timeouts
	logger     *slog.Logger
}

func NewMatchService(
	identities IdentityRepositoryInterface,
	audits MatchAuditRepositoryInterface,
	index VectorIndex,
	faceProvider provider.FaceProvider,
	gate *quality.Gate,
	logger *slog.Logger,
) *MatchService {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = quality.NewGate(nil, 0, logger)
	}
	return &MatchService{
		identities: identities,
		audits:     audits,
		index:      index,
		provider:   faceProvider,
		gate:       gate,
		threshold:  DefaultThreshold,
		timeouts:   DefaultTimeouts(),
		logger:     logger,
	}
}

func (s *MatchService) WithThreshold(threshold float64) *MatchService {
	s.threshold = threshold
	return s
}

func (s *MatchService) WithTimeouts(t Timeouts) *MatchService {
	s.timeouts = t
	return s
}

func (s *MatchService) Threshold() float64 {
	return s.threshold
}

// Recognize finds the enrolled identity closest to the face in the image.
// An image without a face is a non-match, not an error.
func (s *MatchService) Recognize(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	start := time.Now()

	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, domain.ErrInvalidThreshold
	}

	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, domain.ErrInvalidTopK
	}

	if len(req.Image) == 0 {
		return nil, domain.ErrInvalidImage
	}

	pctx, cancel := withTimeout(ctx, s.timeouts.Provider)
	faces, err := s.provider.DetectFaces(pctx, req.Image)
	cancel()
	if err != nil {
		return nil, providerError("detect faces", err)
	}

	decision := s.gate.Evaluate(req.Image, faces)
	if !decision.Accepted {
		if errors.Is(decision.Reason, domain.ErrNoFaceDetected) {
			return &MatchResult{
				Reason:           ReasonNoFace,
				ProcessingTimeMs: time.Since(start).Milliseconds(),
			}, nil
		}
		return nil, decision.Reason
	}

	pctx, cancel = withTimeout(ctx, s.timeouts.Provider)
	embedding, err := s.provider.Embed(pctx, req.Image)
	cancel()
	if err != nil {
		return nil, providerError("embed", err)
	}

	maxDistance := float32(1 - threshold)
	results, err := s.index.Search(embedding, topK, &maxDistance)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{Reason: ReasonNoMatch}
	if len(results) > 0 {
		result = s.resolve(ctx, results)
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	s.audit(ctx, req, threshold, topK, results, result)

	return result, nil
}

func (s *MatchService) resolve(ctx context.Context, results []vectorindex.Result) *MatchResult {
	top := results[0]
	rest := results[1:]

	names := make([]string, len(results))
	g, gctx := errgroup.WithContext(ctx)

	for i, r := range results {
		g.Go(func() error {
			names[i] = s.lookupName(gctx, r.IdentityID)
			return nil
		})
	}
	_ = g.Wait()

	result := &MatchResult{
		Matched:    true,
		IdentityID: top.IdentityID,
		Name:       names[0],
		Confidence: confidence(top.Distance),
	}
	if result.Name == "" {
		result.Name = unknownName
	}

	for i, r := range rest {
		name := names[i+1]
		if name == "" {
			continue
		}
		result.Alternatives = append(result.Alternatives, domain.MatchAlternative{
			IdentityID: r.IdentityID,
			Name:       name,
			Confidence: confidence(r.Distance),
		})
	}

	return result
}

// lookupName returns "" when the identity cannot be resolved.
func (s *MatchService) lookupName(ctx context.Context, identityID string) string {
	sctx, cancel := withTimeout(ctx, s.timeouts.Store)
	defer cancel()

	identity, err := s.identities.FindByID(sctx, identityID)
	if err != nil {
		if !errors.Is(err, domain.ErrIdentityNotFound) {
			s.logger.Warn("identity lookup failed", "user_id", identityID, "error", err)
		}
		return ""
	}
	return identity.Name
}

func (s *MatchService) audit(ctx context.Context, req MatchRequest, threshold float64, topK int, results []vectorindex.Result, result *MatchResult) {
	if s.audits == nil {
		return
	}

	entry := &domain.MatchAudit{
		Matched:      result.Matched,
		ResultsCount: len(results),
		Threshold:    threshold,
		TopK:         topK,
		LatencyMs:    result.ProcessingTimeMs,
		ClientIP:     req.ClientIP,
	}
	if result.Matched {
		id, conf := result.IdentityID, result.Confidence
		entry.TopMatchIdentityID = &id
		entry.TopMatchConfidence = &conf
	}

	sctx, cancel := withTimeout(ctx, s.timeouts.Store)
	defer cancel()

	if err := s.audits.Create(sctx, entry); err != nil {
		s.logger.Warn("failed to write match audit", "error", err)
	}
}

func confidence(distance float32) float64 {
	return 1 - float64(distance)
}
