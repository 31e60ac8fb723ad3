package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderDeepFace    = "deepface"
	ProviderRekognition = "rekognition"
	ProviderMock        = "mock"
)

type Config struct {
	// Server
	Port           int    `envconfig:"PORT" default:"3000"`
	Environment    string `envconfig:"ENV" default:"development"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	LogLevel       string `envconfig:"LOG_LEVEL"`

	// Database
	DatabaseURL  string        `envconfig:"DATABASE_URL" required:"true"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	// Provider
	ProviderType     string        `envconfig:"PROVIDER_TYPE" default:"deepface"`
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	DeepFaceURL      string        `envconfig:"DEEPFACE_URL" default:"http://localhost:5000"`
	DeepFaceModel    string        `envconfig:"DEEPFACE_MODEL" default:"Facenet512"`
	DeepFaceDetector string        `envconfig:"DEEPFACE_DETECTOR" default:"retinaface"`
	AWSRegion        string        `envconfig:"AWS_REGION" default:"us-east-1"`

	// Index
	IndexDir       string  `envconfig:"INDEX_DIR" default:"./faiss_index"`
	IndexDimension int     `envconfig:"INDEX_DIMENSION" default:"512"`
	DistanceMetric string  `envconfig:"FACE_DISTANCE_METRIC" default:"cosine"`
	Threshold      float64 `envconfig:"RECOGNITION_THRESHOLD" default:"0.6"`
	QualityMin     float64 `envconfig:"QUALITY_MIN_SCORE" default:"0"`

	// Uploads
	UploadDir   string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	MaxFileSize int    `envconfig:"MAX_FILE_SIZE" default:"10485760"`

	// Security
	APIKey         string  `envconfig:"API_KEY"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// Backup
	BackupBucket   string `envconfig:"BACKUP_BUCKET"`
	BackupPrefix   string `envconfig:"BACKUP_PREFIX" default:"facegate/index"`
	BackupEndpoint string `envconfig:"BACKUP_ENDPOINT"`
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.ProviderType {
	case ProviderDeepFace, ProviderRekognition, ProviderMock:
	default:
		return fmt.Errorf("invalid PROVIDER_TYPE %q (use: deepface, rekognition, mock)", c.ProviderType)
	}

	switch c.DistanceMetric {
	case "cosine", "euclidean":
	default:
		return fmt.Errorf("invalid FACE_DISTANCE_METRIC %q (use: cosine, euclidean)", c.DistanceMetric)
	}

	if c.IndexDimension <= 0 {
		return fmt.Errorf("INDEX_DIMENSION must be positive, got %d", c.IndexDimension)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("RECOGNITION_THRESHOLD must be in [0,1], got %v", c.Threshold)
	}
	if c.QualityMin < 0 || c.QualityMin > 1 {
		return fmt.Errorf("QUALITY_MIN_SCORE must be in [0,1], got %v", c.QualityMin)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
