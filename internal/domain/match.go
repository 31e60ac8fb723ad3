package domain

import (
	"time"

	"github.com/google/uuid"
)

// MatchAlternative is a ranked candidate after the top match.
type MatchAlternative struct {
	IdentityID string  `json:"user_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// MatchAudit represents an audit log entry for recognize operations
type MatchAudit struct {
	ID                 uuid.UUID `json:"id"`
	Matched            bool      `json:"matched"`
	ResultsCount       int       `json:"results_count"`
	TopMatchIdentityID *string   `json:"top_match_identity_id,omitempty"`
	TopMatchConfidence *float64  `json:"top_match_confidence,omitempty"`
	Threshold          float64   `json:"threshold"`
	TopK               int       `json:"top_k"`
	LatencyMs          int64     `json:"latency_ms"`
	ClientIP           string    `json:"client_ip"`
	CreatedAt          time.Time `json:"created_at"`
}
