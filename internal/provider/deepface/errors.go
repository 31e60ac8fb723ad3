package deepface

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeepFaceUnavailable = errors.New("deepface service unavailable")
	ErrInvalidResponse     = errors.New("invalid response from deepface")
	ErrNoFaceInResponse    = errors.New("no face data in deepface response")
)

// StatusError is a non-2xx answer from the DeepFace API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deepface returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) clientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// faceNotDetected reports the 4xx answer DeepFace gives when
// enforce_detection is on and the detector found nothing.
func (e *StatusError) faceNotDetected() bool {
	return e.clientError() && strings.Contains(strings.ToLower(e.Body), "face could not be detected")
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.clientError()
}
