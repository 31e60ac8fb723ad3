//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/facegate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/facegate/internal/database"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/facegate/internal/quality"
	"github.com/saturnino-fabrica-de-software/facegate/internal/repository"
	"github.com/saturnino-fabrica-de-software/facegate/internal/service"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

const testAPIKey = "integration-key"

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	// Start PostgreSQL container with pgvector
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "facegate_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Printf("Failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/facegate_test?sslmode=disable", host, port.Port())

	code := func() int {
		defer func() {
			if err := container.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate container: %v\n", err)
			}
		}()

		sqlDB, err := database.OpenSQL(ctx, connStr)
		if err != nil {
			fmt.Printf("Failed to open database: %v\n", err)
			return 1
		}
		migrator, err := database.NewMigrator(sqlDB, "facegate_test")
		if err != nil {
			fmt.Printf("Failed to create migrator: %v\n", err)
			return 1
		}
		if err := migrator.Up(); err != nil {
			fmt.Printf("Failed to run migrations: %v\n", err)
			return 1
		}
		_ = migrator.Close()

		testDB, err = database.Connect(ctx, database.DefaultPoolConfig(connStr))
		if err != nil {
			fmt.Printf("Failed to connect to database: %v\n", err)
			return 1
		}
		defer testDB.Close()

		return m.Run()
	}()

	os.Exit(code)
}

func newTestRouter(t *testing.T) (*Router, *vectorindex.Index) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ix, err := vectorindex.Open(vectorindex.Config{Dir: t.TempDir(), Dimension: mock.DefaultDimension}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	identities := repository.NewIdentityRepository(testDB)
	records := repository.NewEmbeddingRecordRepository(testDB)
	audits := repository.NewMatchAuditRepository(testDB)
	faces := mock.New(mock.DefaultDimension)
	gate := quality.NewGate(quality.NewScorer(), 0, logger)

	router := NewRouter(logger, &Dependencies{
		Enroller:   service.NewEnrollmentService(identities, records, ix, faces, gate, logger),
		Recognizer: service.NewMatchService(identities, audits, ix, faces, gate, logger),
		Index:      ix,
		Store:      testDB,
		Model:      faces.Model(),
		APIKey:     testAPIKey,
		RateLimit:  middleware.RateLimiterConfig{RPS: 1000, Burst: 1000},
	})
	router.Setup()
	t.Cleanup(func() { _ = router.Shutdown() })

	return router, ix
}

func faceImage(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8((i*seed + seed*31) % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path string, fields map[string]string, img []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="face.png"`)
	h.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(img)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	return req
}

func TestIntegration_HealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	resp, err := router.App().Test(httptest.NewRequest("GET", "/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "healthy", result["status"])
	assert.Equal(t, true, result["store_connected"])
	assert.Equal(t, "mock", result["model"])
}

func TestIntegration_RequiresAPIKey(t *testing.T) {
	router, _ := newTestRouter(t)

	req := multipartRequest(t, "/v1/faces/recognize", nil, faceImage(t, 3))
	req.Header.Del("Authorization")

	resp, err := router.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestIntegration_EnrollAndRecognize(t *testing.T) {
	router, ix := newTestRouter(t)
	app := router.App()

	imageA := faceImage(t, 7)
	imageB := faceImage(t, 13)

	register := func(name, email string, img []byte) (*http.Response, map[string]any) {
		resp, err := app.Test(multipartRequest(t, "/v1/faces/register", map[string]string{
			"name":  name,
			"email": email,
		}, img), -1)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp, body
	}

	respA, a := register("Ana Souza", "ana.http@example.com", imageA)
	require.Equal(t, 201, respA.StatusCode, a)
	respB, b := register("Bruno Lima", "bruno.http@example.com", imageB)
	require.Equal(t, 201, respB.StatusCode, b)

	assert.NotEqual(t, a["user_id"], b["user_id"])
	assert.Equal(t, 2, ix.Size())

	t.Run("recognizes enrolled face", func(t *testing.T) {
		resp, err := app.Test(multipartRequest(t, "/v1/faces/recognize", map[string]string{"top_k": "2"}, imageB), -1)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, true, result["matched"])
		assert.Equal(t, b["user_id"], result["user_id"])
		assert.Equal(t, "Bruno Lima", result["name"])
		assert.InDelta(t, 1.0, result["confidence"], 1e-5)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		resp, body := register("Ana Again", "ANA.HTTP@example.com", faceImage(t, 21))
		assert.Equal(t, 409, resp.StatusCode)
		assert.Equal(t, "DUPLICATE_IDENTITY", body["error"].(map[string]any)["code"])
		assert.Equal(t, 2, ix.Size())
	})

	t.Run("records are persisted", func(t *testing.T) {
		records, err := repository.NewEmbeddingRecordRepository(testDB).ListAll(context.Background())
		require.NoError(t, err)

		slots := map[string]uint32{}
		for _, r := range records {
			require.NotNil(t, r.SlotID)
			slots[r.IdentityID] = *r.SlotID
		}
		assert.Equal(t, uint32(a["slot_id"].(float64)), slots[a["user_id"].(string)])
		assert.Equal(t, uint32(b["slot_id"].(float64)), slots[b["user_id"].(string)])
	})
}
