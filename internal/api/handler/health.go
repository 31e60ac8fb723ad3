package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	ServiceName = "FaceGate API"
	Version     = "1.0.0"
)

// IndexStats reports the size of the vector index
type IndexStats interface {
	Size() int
	LiveCount() int
}

// StorePinger reports metadata store connectivity
type StorePinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	index   IndexStats
	store   StorePinger
	model   string
	timeout time.Duration
}

func NewHealthHandler(index IndexStats, store StorePinger, model string) *HealthHandler {
	return &HealthHandler{
		index:   index,
		store:   store,
		model:   model,
		timeout: 2 * time.Second,
	}
}

type HealthResponse struct {
	Status         string `json:"status"`
	IndexSize      int    `json:"index_size"`
	LiveIdentities int    `json:"live_identities"`
	Model          string `json:"model"`
	StoreConnected bool   `json:"store_connected"`
}

type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Docs    string `json:"docs"`
}

// Health GET /v1/health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status: "healthy",
		Model:  h.model,
	}

	if h.index != nil {
		resp.IndexSize = h.index.Size()
		resp.LiveIdentities = h.index.LiveCount()
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
		defer cancel()
		resp.StoreConnected = h.store.Ping(ctx) == nil
	}

	if !resp.StoreConnected {
		resp.Status = "degraded"
	}

	return c.JSON(resp)
}

// Root GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(RootResponse{
		Message: ServiceName,
		Version: Version,
		Docs:    "/docs",
	})
}
