package domain

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so copies produced by
// WithError or WithDetails still compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
		Err:        err,
	}
}

func (e *AppError) WithDetails(message string, details map[string]any) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    details,
		Err:        e.Err,
	}
}

// MultipleFacesError builds the rejection for an image carrying more than one face.
func MultipleFacesError(count int) *AppError {
	return ErrMultipleFaces.WithDetails(
		fmt.Sprintf("Multiple faces detected (%d), please provide image with single face", count),
		map[string]any{"count": count},
	)
}

// FaceCount extracts the detected face count from a MultipleFacesError.
func FaceCount(err error) (int, bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != ErrMultipleFaces.Code {
		return 0, false
	}
	count, ok := appErr.Details["count"].(int)
	return count, ok
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing API key",
		StatusCode: 401,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrIdentityNotFound = &AppError{
		Code:       "IDENTITY_NOT_FOUND",
		Message:    "Identity not found",
		StatusCode: 404,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}

	// Input rejections
	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		StatusCode: 422,
	}

	ErrNoFaceDetected = &AppError{
		Code:       "NO_FACE_DETECTED",
		Message:    "No face detected in the image",
		StatusCode: 422,
	}

	ErrMultipleFaces = &AppError{
		Code:       "MULTIPLE_FACES",
		Message:    "Multiple faces detected, please provide image with single face",
		StatusCode: 422,
	}

	ErrLowQualityImage = &AppError{
		Code:       "LOW_QUALITY_IMAGE",
		Message:    "Image quality too low for reliable recognition",
		StatusCode: 422,
	}

	ErrDimensionMismatch = &AppError{
		Code:       "DIMENSION_MISMATCH",
		Message:    "Embedding dimension does not match the index",
		StatusCode: 422,
	}

	ErrInvalidEmbedding = &AppError{
		Code:       "INVALID_EMBEDDING",
		Message:    "Embedding contains non-finite values",
		StatusCode: 422,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	ErrInvalidThreshold = &AppError{
		Code:       "INVALID_THRESHOLD",
		Message:    "Threshold must be between 0 and 1",
		StatusCode: 422,
	}

	ErrInvalidTopK = &AppError{
		Code:       "INVALID_TOP_K",
		Message:    "top_k must be between 1 and 50",
		StatusCode: 422,
	}

	// Duplicates
	ErrDuplicateIdentity = &AppError{
		Code:       "DUPLICATE_IDENTITY",
		Message:    "An identity with this email is already enrolled",
		StatusCode: 409,
	}

	ErrDuplicateKey = &AppError{
		Code:       "DUPLICATE_KEY",
		Message:    "Unique key already exists",
		StatusCode: 409,
	}

	// Provider failures
	ErrEmbeddingExtractionFailed = &AppError{
		Code:       "EMBEDDING_EXTRACTION_FAILED",
		Message:    "Could not extract a face embedding from the image",
		StatusCode: 502,
	}

	ErrProviderUnavailable = &AppError{
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    "Face provider is unavailable, try again later",
		StatusCode: 503,
	}

	// Persistence
	ErrIndexPersistence = &AppError{
		Code:       "INDEX_PERSISTENCE_FAILED",
		Message:    "Failed to persist the embedding index",
		StatusCode: 500,
	}
)
