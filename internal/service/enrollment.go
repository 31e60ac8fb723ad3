package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/saturnino-fabrica-de-software/facegate/internal/audit"
	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
	"github.com/saturnino-fabrica-de-software/facegate/internal/quality"
)

const (
	minNameLength = 2
	maxNameLength = 100
)

type EnrollRequest struct {
	Name  string
	Email string
	Phone string
	Notes string
	Image []byte
}

type EnrollResult struct {
	IdentityID       string  `json:"user_id"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	Slot             uint32  `json:"slot_id"`
	QualityScore     float64 `json:"quality_score"`
	ImagePath        string  `json:"image_url,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

type EnrollmentService struct {
	identities IdentityRepositoryInterface
	records    EmbeddingRecordRepositoryInterface
	index      VectorIndex
	provider   provider.FaceProvider
	gate       *quality.Gate
	uploads    ImageStore
	audit      audit.Logger
	timeouts   Timeouts
	logger     *slog.Logger
}

func NewEnrollmentService(
	identities IdentityRepositoryInterface,
	records EmbeddingRecordRepositoryInterface,
	index VectorIndex,
	faceProvider provider.FaceProvider,
	gate *quality.Gate,
	logger *slog.Logger,
) *EnrollmentService {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = quality.NewGate(nil, 0, logger)
	}
	return &EnrollmentService{
		identities: identities,
		records:    records,
		index:      index,
		provider:   faceProvider,
		gate:       gate,
		audit:      &audit.NoOpLogger{},
		timeouts:   DefaultTimeouts(),
		logger:     logger,
	}
}

func (s *EnrollmentService) WithTimeouts(t Timeouts) *EnrollmentService {
	s.timeouts = t
	return s
}

// WithUploads keeps a copy of every enrolled image.
func (s *EnrollmentService) WithUploads(store ImageStore) *EnrollmentService {
	s.uploads = store
	return s
}

// WithAudit records every enrollment outcome.
func (s *EnrollmentService) WithAudit(logger audit.Logger) *EnrollmentService {
	s.audit = logger
	return s
}

// Register enrolls a new identity from a single-face image. Rejections
// before the index insert leave no trace; failures after it leave an
// unreferenced slot that Reconciler cleans up.
func (s *EnrollmentService) Register(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	result, err := s.register(ctx, req)
	s.recordOutcome(ctx, result, err)
	return result, err
}

func (s *EnrollmentService) register(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	start := time.Now()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	if err := validateEnrollment(req); err != nil {
		return nil, err
	}

	decision, err := s.checkFace(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embed(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	if err := s.ensureUnique(ctx, req.Email); err != nil {
		return nil, err
	}

	var imagePath string
	if s.uploads != nil {
		imagePath, err = s.uploads.Save(ctx, req.Image)
		if err != nil {
			return nil, domain.ErrInternal.WithError(fmt.Errorf("save upload: %w", err))
		}
	}

	identityID := domain.NewIdentityID()

	slot, err := s.index.Insert(embedding, identityID)
	if err != nil {
		s.discardUpload(imagePath)
		return nil, err
	}

	identity := &domain.Identity{
		ID:       identityID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		IsActive: true,
	}

	if err := s.createIdentity(ctx, identity); err != nil {
		s.logOrphan(slot, identityID, err)
		s.discardUpload(imagePath)
		if errors.Is(err, domain.ErrDuplicateKey) {
			return nil, domain.ErrDuplicateIdentity.WithError(err)
		}
		return nil, err
	}

	record := &domain.EmbeddingRecord{
		IdentityID:   identityID,
		SlotID:       &slot,
		Model:        s.provider.Model(),
		QualityScore: decision.Quality,
		FaceRegion:   decision.Region,
		Notes:        req.Notes,
		ImagePath:    imagePath,
		Embedding:    embedding,
	}

	if err := s.createRecord(ctx, record); err != nil {
		s.logOrphan(slot, identityID, err)
		s.discardUpload(imagePath)
		return nil, err
	}

	s.logger.Info("identity enrolled",
		"user_id", identityID,
		"slot_id", slot,
		"quality", decision.Quality,
	)

	return &EnrollResult{
		IdentityID:       identityID,
		Name:             identity.Name,
		Email:            identity.Email,
		Slot:             slot,
		QualityScore:     decision.Quality,
		ImagePath:        imagePath,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func validateEnrollment(req EnrollRequest) error {
	nameLen := utf8.RuneCountInString(req.Name)
	if nameLen < minNameLength || nameLen > maxNameLength {
		return domain.ErrValidationFailed.WithDetails(
			fmt.Sprintf("Name must be between %d and %d characters", minNameLength, maxNameLength),
			map[string]any{"field": "name"},
		)
	}

	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return domain.ErrValidationFailed.WithDetails(
			"Invalid email address",
			map[string]any{"field": "email"},
		)
	}

	if len(req.Image) == 0 {
		return domain.ErrInvalidImage
	}

	return nil
}

func (s *EnrollmentService) checkFace(ctx context.Context, image []byte) (quality.Decision, error) {
	pctx, cancel := withTimeout(ctx, s.timeouts.Provider)
	defer cancel()

	faces, err := s.provider.DetectFaces(pctx, image)
	if err != nil {
		return quality.Decision{}, providerError("detect faces", err)
	}

	decision := s.gate.Evaluate(image, faces)
	if !decision.Accepted {
		return decision, decision.Reason
	}
	return decision, nil
}

func (s *EnrollmentService) embed(ctx context.Context, image []byte) ([]float32, error) {
	pctx, cancel := withTimeout(ctx, s.timeouts.Provider)
	defer cancel()

	embedding, err := s.provider.Embed(pctx, image)
	if err != nil {
		return nil, providerError("embed", err)
	}
	return embedding, nil
}

func (s *EnrollmentService) ensureUnique(ctx context.Context, email string) error {
	sctx, cancel := withTimeout(ctx, s.timeouts.Store)
	defer cancel()

	existing, err := s.identities.FindByEmail(sctx, email)
	switch {
	case err == nil && existing != nil:
		return domain.ErrDuplicateIdentity
	case err == nil, errors.Is(err, domain.ErrIdentityNotFound):
		return nil
	default:
		return fmt.Errorf("find identity by email: %w", err)
	}
}

func (s *EnrollmentService) createIdentity(ctx context.Context, identity *domain.Identity) error {
	sctx, cancel := withTimeout(ctx, s.timeouts.Store)
	defer cancel()
	return s.identities.Create(sctx, identity)
}

func (s *EnrollmentService) createRecord(ctx context.Context, record *domain.EmbeddingRecord) error {
	sctx, cancel := withTimeout(ctx, s.timeouts.Store)
	defer cancel()
	return s.records.Create(sctx, record)
}

func (s *EnrollmentService) logOrphan(slot uint32, identityID string, err error) {
	s.logger.Error("index slot left without metadata",
		"slot_id", slot,
		"user_id", identityID,
		"error", err,
	)
}

func (s *EnrollmentService) recordOutcome(ctx context.Context, result *EnrollResult, err error) {
	event := audit.Event{
		EventType: audit.EventIdentityEnrolled,
		Model:     s.provider.Model(),
		Success:   err == nil,
	}

	if err != nil {
		event.EventType = audit.EventEnrollmentRefused
		event.Error = errorCode(err)
		if n, ok := domain.FaceCount(err); ok {
			event.Metadata = map[string]string{"face_count": strconv.Itoa(n)}
		}
	} else {
		event.IdentityID = result.IdentityID
		event.SlotID = &result.Slot
	}

	if aerr := s.audit.Log(ctx, event); aerr != nil {
		s.logger.Warn("failed to write audit event", "event_type", event.EventType, "error", aerr)
	}
}

// errorCode keeps raw error text, which may echo user input, out of audit events.
func errorCode(err error) string {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return "CANCELED"
	}
	return domain.ErrInternal.Code
}

func (s *EnrollmentService) discardUpload(path string) {
	if path == "" || s.uploads == nil {
		return
	}
	if err := s.uploads.Remove(path); err != nil {
		s.logger.Warn("failed to remove upload", "path", path, "error", err)
	}
}
