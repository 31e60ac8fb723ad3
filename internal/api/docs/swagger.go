package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
)

// RegisterFaceResponse represents the response for a successful enrollment
type RegisterFaceResponse struct {
	UserID           string  `json:"user_id" example:"3f1c2a9b8e7d4c5a9b0e1f2a3b4c5d6e"`
	Name             string  `json:"name" example:"Ada Lovelace"`
	Email            string  `json:"email" example:"ada@example.com"`
	SlotID           uint32  `json:"slot_id" example:"42"`
	QualityScore     float64 `json:"quality_score" example:"0.87"`
	ImageURL         string  `json:"image_url,omitempty" example:"uploads/0b8e0c8e-7a53-4b0c-9f44-2b1f9d3a8f10.jpg"`
	ProcessingTimeMs int64   `json:"processing_time_ms" example:"412"`
}

// MatchAlternative represents a lower ranked candidate
type MatchAlternative struct {
	UserID     string  `json:"user_id" example:"9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d"`
	Name       string  `json:"name" example:"Grace Hopper"`
	Confidence float64 `json:"confidence" example:"0.71"`
}

// RecognizeFaceResponse represents the response for face recognition
type RecognizeFaceResponse struct {
	Matched          bool               `json:"matched" example:"true"`
	UserID           string             `json:"user_id,omitempty" example:"3f1c2a9b8e7d4c5a9b0e1f2a3b4c5d6e"`
	Name             string             `json:"name,omitempty" example:"Ada Lovelace"`
	Confidence       float64            `json:"confidence" example:"0.93"`
	Alternatives     []MatchAlternative `json:"alternatives,omitempty"`
	Reason           string             `json:"reason,omitempty" example:"no_match"`
	ProcessingTimeMs int64              `json:"processing_time_ms" example:"188"`
}

// HealthResponse represents the service health
type HealthResponse struct {
	Status         string `json:"status" example:"healthy"`
	IndexSize      int    `json:"index_size" example:"1200"`
	LiveIdentities int    `json:"live_identities" example:"1187"`
	Model          string `json:"model" example:"Facenet512"`
	StoreConnected bool   `json:"store_connected" example:"true"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"VALIDATION_FAILED"`
	Message string `json:"message" example:"Request validation failed"`
}

// NewSwagger creates and configures the Swagger documentation
func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "FaceGate Face Recognition API",
		Version:     "v1.0.0",
		Description: "Face enrollment and 1:N identification backed by a persistent vector index",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/faces/register - Enroll identity
		endpoint.New(
			endpoint.POST,
			"/faces/register",
			endpoint.WithTags("Faces"),
			endpoint.WithSummary("Enroll a new identity"),
			endpoint.WithDescription("Multipart form with fields name, email, phone (optional), notes (optional) and image (jpeg, png or webp). The image must contain exactly one face. An email already enrolled is rejected."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RegisterFaceResponse{}, "201", "Identity enrolled"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}, "401", "Unauthorized"),
				response.New(ErrorResponse{Code: "DUPLICATE_IDENTITY", Message: "An identity with this email is already enrolled"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "Request validation failed"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "INVALID_IMAGE", Message: "Invalid image format or corrupted file"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "NO_FACE_DETECTED", Message: "No face detected in image"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "MULTIPLE_FACES", Message: "Multiple faces detected"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Too many requests"}, "429", "Too Many Requests"),
				response.New(ErrorResponse{Code: "EMBEDDING_EXTRACTION_FAILED", Message: "Failed to extract face embedding"}, "502", "Bad Gateway"),
				response.New(ErrorResponse{Code: "PROVIDER_UNAVAILABLE", Message: "Face provider unavailable"}, "503", "Service Unavailable"),
			}),
			endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}}),
		),

		// POST /v1/faces/recognize - Identify face (1:N)
		endpoint.New(
			endpoint.POST,
			"/faces/recognize",
			endpoint.WithTags("Faces"),
			endpoint.WithSummary("Recognize a face"),
			endpoint.WithDescription("Multipart form with image, threshold (0-1, default 0.6) and top_k (1-50, default 1). An image without a face returns matched=false with reason no_face."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RecognizeFaceResponse{}, "200", "Recognition completed"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}, "401", "Unauthorized"),
				response.New(ErrorResponse{Code: "INVALID_THRESHOLD", Message: "Threshold must be between 0 and 1"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "INVALID_TOP_K", Message: "top_k must be between 1 and 50"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "MULTIPLE_FACES", Message: "Multiple faces detected"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "DIMENSION_MISMATCH", Message: "Embedding dimension does not match the index"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Too many requests"}, "429", "Too Many Requests"),
				response.New(ErrorResponse{Code: "PROVIDER_UNAVAILABLE", Message: "Face provider unavailable"}, "503", "Service Unavailable"),
			}),
			endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}}),
		),

		// GET /v1/health - Health check
		endpoint.New(
			endpoint.GET,
			"/health",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Service health"),
			endpoint.WithDescription("Reports index size, live identities, embedding model and metadata store connectivity"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Health report"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
