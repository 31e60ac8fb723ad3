package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	_ "golang.org/x/image/webp"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/quality"
	"github.com/saturnino-fabrica-de-software/facegate/internal/service"
)

const (
	DefaultMaxImageSize = 10 * 1024 * 1024 // 10MB
)

var validImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Enroller is implemented by service.EnrollmentService
type Enroller interface {
	Register(ctx context.Context, req service.EnrollRequest) (*service.EnrollResult, error)
}

// Recognizer is implemented by service.MatchService
type Recognizer interface {
	Recognize(ctx context.Context, req service.MatchRequest) (*service.MatchResult, error)
}

// FaceHandler handles face-related requests
type FaceHandler struct {
	enroller     Enroller
	recognizer   Recognizer
	maxImageSize int64
	logger       *slog.Logger
}

// NewFaceHandler creates a new FaceHandler instance
func NewFaceHandler(enroller Enroller, recognizer Recognizer, maxImageSize int64, logger *slog.Logger) *FaceHandler {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &FaceHandler{
		enroller:     enroller,
		recognizer:   recognizer,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// Register POST /v1/faces/register - enroll a new identity
func (h *FaceHandler) Register(c *fiber.Ctx) error {
	// 1. Extract and validate image
	imageBytes, err := h.extractAndValidateImage(c)
	if err != nil {
		return fmt.Errorf("register face: %w", err)
	}

	// 2. Enroll
	result, err := h.enroller.Register(c.UserContext(), service.EnrollRequest{
		Name:  c.FormValue("name"),
		Email: c.FormValue("email"),
		Phone: c.FormValue("phone"),
		Notes: c.FormValue("notes"),
		Image: imageBytes,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// Recognize POST /v1/faces/recognize - identify the face against enrolled identities
func (h *FaceHandler) Recognize(c *fiber.Ctx) error {
	req := service.MatchRequest{ClientIP: c.IP()}

	if raw := strings.TrimSpace(c.FormValue("threshold")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.ErrInvalidThreshold.WithError(err)
		}
		req.Threshold = &threshold
	}

	if raw := strings.TrimSpace(c.FormValue("top_k")); raw != "" {
		topK, err := strconv.Atoi(raw)
		if err != nil {
			return domain.ErrInvalidTopK.WithError(err)
		}
		if topK == 0 {
			// zero would silently fall back to the default
			return domain.ErrInvalidTopK
		}
		req.TopK = topK
	}

	imageBytes, err := h.extractAndValidateImage(c)
	if err != nil {
		return fmt.Errorf("recognize face: %w", err)
	}
	req.Image = imageBytes

	result, err := h.recognizer.Recognize(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

// extractAndValidateImage extracts and validates the image from the form
func (h *FaceHandler) extractAndValidateImage(c *fiber.Ctx) ([]byte, error) {
	// 1. Extract file
	file, err := c.FormFile("image")
	if err != nil {
		return nil, domain.ErrValidationFailed.
			WithDetails("Image file is required", map[string]any{"field": "image"}).
			WithError(err)
	}

	// 2. Validate size
	if file.Size == 0 {
		return nil, domain.ErrInvalidImage.WithError(errors.New("empty file"))
	}
	if file.Size > h.maxImageSize {
		return nil, domain.ErrInvalidImage.WithError(fmt.Errorf("file size %d exceeds %d bytes", file.Size, h.maxImageSize))
	}

	// 3. Validate Content-Type
	contentType := file.Header.Get("Content-Type")
	if !validImageTypes[contentType] {
		return nil, domain.ErrInvalidImage.WithError(fmt.Errorf("unsupported content type %q", contentType))
	}

	// 4. Read image bytes
	f, err := file.Open()
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	imageBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}

	// 5. Header must decode, and within the pixel budget
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	if !quality.WithinPixelLimit(cfg) {
		return nil, domain.ErrInvalidImage.
			WithDetails("Image dimensions are too large", map[string]any{
				"width":      cfg.Width,
				"height":     cfg.Height,
				"max_pixels": quality.MaxImagePixels,
			}).
			WithError(fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, quality.MaxImagePixels))
	}

	return imageBytes, nil
}
