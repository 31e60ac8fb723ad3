// Package audit records the lifecycle of biometric data: which identities
// were enrolled, refused, tombstoned or flagged, and when the index was
// rebuilt. Events never carry images, embeddings or contact data.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventIdentityEnrolled  EventType = "IDENTITY_ENROLLED"
	EventEnrollmentRefused EventType = "ENROLLMENT_REFUSED"
	EventSlotTombstoned    EventType = "SLOT_TOMBSTONED"
	EventRecordsFlagged    EventType = "RECORDS_FLAGGED"
	EventIndexRebuilt      EventType = "INDEX_REBUILT"
)

type Event struct {
	ID         uuid.UUID         `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  EventType         `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	SlotID     *uint32           `json:"slot_id,omitempty"`
	Model      string            `json:"model,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Logger is implemented by audit sinks. Implementations must not block the
// caller for long; enrollment emits from the request path.
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// SlogLogger writes events as structured log records under the "audit"
// component. Refusals are logged at warn level.
type SlogLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	l.logger.LogAttrs(ctx, level, "audit_event",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.EventType)),
		slog.Time("occurred_at", event.Timestamp),
		slog.Bool("success", event.Success),
		slog.Group("event", event.attrs()...),
	)
	return nil
}

func (e Event) attrs() []any {
	var attrs []any
	if e.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", e.IdentityID))
	}
	if e.SlotID != nil {
		attrs = append(attrs, slog.Uint64("slot_id", uint64(*e.SlotID)))
	}
	if e.Model != "" {
		attrs = append(attrs, slog.String("model", e.Model))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.Metadata[k]))
	}
	return attrs
}

// NoOpLogger discards every event.
type NoOpLogger struct{}

func (l *NoOpLogger) Log(_ context.Context, _ Event) error {
	return nil
}
