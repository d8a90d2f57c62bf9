package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"audiorelay/internal/engine"
	"audiorelay/internal/observability"
	"audiorelay/internal/platform"
	"audiorelay/internal/platform/youtube"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopSink struct{}

func (noopSink) WriteFrame(sessionID string, payload []byte) error { return nil }
func (noopSink) SendEvent(sessionID, eventType, message string)    {}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()
	registry := platform.NewRegistry()
	extractor := youtube.New()
	registry.Register(extractor)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	manager := engine.New(ctx, registry, noopSink{}, zerolog.Nop(), metrics, 0)
	api := New(manager, extractor, zerolog.Nop())

	return NewRouter(api, manager, reg, zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", resp["status"])
	}
}

func TestPlayEndpointValidRequest(t *testing.T) {
	router := setupTestRouter(t)

	// Valid request shape; playback itself runs async and will fail against
	// a fake URL, but the HTTP response only reflects request acceptance.
	body := `{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`
	req, _ := http.NewRequest(http.MethodPost, "/session/test-session/play", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "playing" {
		t.Fatalf("expected status playing, got %s", resp.Status)
	}
}

func TestPlayEndpointMissingURL(t *testing.T) {
	router := setupTestRouter(t)

	body := `{}`
	req, _ := http.NewRequest(http.MethodPost, "/session/test-session/play", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The control plane always answers HTTP 200 for domain errors (§6);
	// only the response body's status field carries the rejection.
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "error" {
		t.Fatalf("expected status error, got %s", resp.Status)
	}
}

func TestPlayEndpointInvalidFormat(t *testing.T) {
	router := setupTestRouter(t)

	body := `{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "format": "mp3"}`
	req, _ := http.NewRequest(http.MethodPost, "/session/test-session/play", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "error" {
		t.Fatalf("expected status error for unknown format, got %s", resp.Status)
	}
}

func TestStopEndpointIsIdempotent(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodPost, "/session/test-session/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "stopped" || resp.SessionID != "test-session" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPauseEndpointNoSession(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodPost, "/session/nonexistent/pause", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "error" || resp.Message != "session not found" {
		t.Fatalf("expected session not found error, got %+v", resp)
	}
}

func TestStatusEndpointNoSession(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/session/nonexistent/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp StatusResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "not_found" {
		t.Fatalf("expected status not_found, got %s", resp.Status)
	}
}

func TestMetadataEndpointMissingURL(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/metadata", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestPlaylistEndpointMissingURL(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/playlist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestSearchEndpointMissingQuery(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/search", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestMetadataEndpointUnsupportedURL(t *testing.T) {
	router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/metadata?url=https://example.com/not-a-video", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unsupported URL, got %d", w.Code)
	}
}
