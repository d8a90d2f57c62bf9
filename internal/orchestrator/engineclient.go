package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// EngineClient talks to the engine's control-plane HTTP API. It is the
// Resolver implementation used in production (delegating to /search).
type EngineClient struct {
	baseURL string
	http    *http.Client
}

// NewEngineClient builds a client against the engine's control-plane
// listener at baseURL (e.g. "http://127.0.0.1:8180").
func NewEngineClient(baseURL string) *EngineClient {
	return &EngineClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type playBody struct {
	URL      string  `json:"url"`
	Format   string  `json:"format"`
	StartAt  float64 `json:"start_at,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type sessionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// Play asks the engine to start (or restart) sessionID.
func (e *EngineClient) Play(ctx context.Context, sessionID, url, format string, startAtSec, durationHint float64) error {
	resp, err := e.postJSON(ctx, fmt.Sprintf("/session/%s/play", sessionID), playBody{
		URL: url, Format: format, StartAt: startAtSec, Duration: durationHint,
	})
	if err != nil {
		return err
	}
	if resp.Status != "playing" {
		return fmt.Errorf("engine rejected play: %s", resp.Message)
	}
	return nil
}

// Stop is fire-and-forget; the engine treats it as idempotent.
func (e *EngineClient) Stop(ctx context.Context, sessionID string) {
	e.postJSON(ctx, fmt.Sprintf("/session/%s/stop", sessionID), nil)
}

// Pause flips the engine-side pause gate for sessionID.
func (e *EngineClient) Pause(ctx context.Context, sessionID string) error {
	resp, err := e.postJSON(ctx, fmt.Sprintf("/session/%s/pause", sessionID), nil)
	if err != nil {
		return err
	}
	if resp.Status != "paused" {
		return fmt.Errorf("engine rejected pause: %s", resp.Message)
	}
	return nil
}

// Resume flips the engine-side pause gate back without re-extracting.
func (e *EngineClient) Resume(ctx context.Context, sessionID string) error {
	resp, err := e.postJSON(ctx, fmt.Sprintf("/session/%s/resume", sessionID), nil)
	if err != nil {
		return err
	}
	if resp.Status != "playing" {
		return fmt.Errorf("engine rejected resume: %s", resp.Message)
	}
	return nil
}

// Search resolves a free-text query, implementing the Resolver interface.
func (e *EngineClient) Search(ctx context.Context, query string, limit int) ([]SearchCandidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine search request: %w", err)
	}
	defer drainAndClose(resp.Body)

	var body struct {
		Results []struct {
			URL      string `json:"url"`
			Title    string `json:"title"`
			Duration int    `json:"duration"`
			Channel  string `json:"channel"`
		} `json:"results"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("engine search failed: %s", body.Error)
	}

	candidates := make([]SearchCandidate, len(body.Results))
	for i, r := range body.Results {
		candidates[i] = SearchCandidate{URL: r.URL, Title: r.Title, Duration: r.Duration, Channel: r.Channel}
	}
	return candidates, nil
}

func (e *EngineClient) postJSON(ctx context.Context, path string, body interface{}) (sessionResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return sessionResponse{}, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, reader)
	if err != nil {
		return sessionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return sessionResponse{}, fmt.Errorf("engine request %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return sessionResponse{}, fmt.Errorf("decode engine response: %w", err)
	}
	return out, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
