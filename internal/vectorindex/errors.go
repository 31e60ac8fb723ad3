package vectorindex

import (
	"errors"
	"fmt"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

var (
	// ErrDimensionMismatch is returned when a vector length differs from the configured dimension.
	ErrDimensionMismatch = domain.ErrDimensionMismatch

	// ErrNonFinite is returned when a vector holds a NaN or an infinity.
	ErrNonFinite = domain.ErrInvalidEmbedding

	// ErrInvalidK is returned by Search when k < 1.
	ErrInvalidK = errors.New("vectorindex: k must be at least 1")

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("vectorindex: index is closed")

	errCorrupt = errors.New("vectorindex: corrupt artifact")
)

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
}

func nonFiniteError(i int, v float32) error {
	return fmt.Errorf("%w: component %d is %v", ErrNonFinite, i, v)
}

func persistError(op string, err error) error {
	return domain.ErrIndexPersistence.WithError(fmt.Errorf("%s: %w", op, err))
}
