// Package httpapi implements the engine's control-plane HTTP surface:
// play/stop/pause/resume/status per session, plus metadata/playlist/search
// introspection, independent of the audio transport socket.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"audiorelay/internal/engine"
	"audiorelay/internal/platform/youtube"
	"audiorelay/internal/transcode"
)

// API holds the dependencies every handler needs.
type API struct {
	manager  *engine.Manager
	searcher *youtube.Extractor
	log      zerolog.Logger
}

// New creates an API bound to manager for playback control and searcher for
// metadata/playlist/search introspection.
func New(manager *engine.Manager, searcher *youtube.Extractor, log zerolog.Logger) *API {
	return &API{manager: manager, searcher: searcher, log: log}
}

// PlayRequest is the body of POST /session/:id/play.
type PlayRequest struct {
	URL      string  `json:"url" binding:"required"`
	Format   string  `json:"format"`
	StartAt  float64 `json:"start_at"`
	Duration float64 `json:"duration"`
}

// Response is the uniform envelope every session endpoint returns: HTTP 200
// even for domain errors, with the cause carried in Message.
type Response struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// StatusResponse is the body of GET /session/:id/status.
type StatusResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	BytesSent int64  `json:"bytes_sent"`
}

func parseFormat(raw string) (transcode.Format, error) {
	switch transcode.Format(raw) {
	case "", transcode.FormatPCM:
		return transcode.FormatPCM, nil
	case transcode.FormatOpusContainer:
		return transcode.FormatOpusContainer, nil
	case transcode.FormatRawOpus:
		return transcode.FormatRawOpus, nil
	default:
		return "", fmt.Errorf("unknown format %q", raw)
	}
}

// Play starts (or restarts) playback for the session id in the URL path.
func (a *API) Play(c *gin.Context) {
	sessionID := c.Param("id")

	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, Response{Status: "error", SessionID: sessionID, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	format, err := parseFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusOK, Response{Status: "error", SessionID: sessionID, Message: err.Error()})
		return
	}

	a.log.Info().Str("session_id", sessionID).Str("url", req.URL).Str("format", string(format)).Msg("play")
	if err := a.manager.Play(sessionID, req.URL, format, req.StartAt, req.Duration); err != nil {
		c.JSON(http.StatusOK, Response{Status: "error", SessionID: sessionID, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{Status: "playing", SessionID: sessionID})
}

// Stop is idempotent regardless of whether a session is active.
func (a *API) Stop(c *gin.Context) {
	sessionID := c.Param("id")
	a.manager.Stop(sessionID)
	c.JSON(http.StatusOK, Response{Status: "stopped", SessionID: sessionID})
}

// Pause withholds further frames without tearing the pipeline down.
func (a *API) Pause(c *gin.Context) {
	sessionID := c.Param("id")
	if err := a.manager.Pause(sessionID); err != nil {
		c.JSON(http.StatusOK, Response{Status: "error", SessionID: sessionID, Message: responseMessage(err)})
		return
	}
	c.JSON(http.StatusOK, Response{Status: "paused", SessionID: sessionID})
}

// Resume continues a paused session without re-extracting.
func (a *API) Resume(c *gin.Context) {
	sessionID := c.Param("id")
	if err := a.manager.Resume(sessionID); err != nil {
		c.JSON(http.StatusOK, Response{Status: "error", SessionID: sessionID, Message: responseMessage(err)})
		return
	}
	c.JSON(http.StatusOK, Response{Status: "playing", SessionID: sessionID})
}

// Status reports the current engine-side state for a session.
func (a *API) Status(c *gin.Context) {
	sessionID := c.Param("id")
	state, bytesSent, err := a.manager.Status(sessionID)
	if err != nil {
		c.JSON(http.StatusOK, StatusResponse{SessionID: sessionID, Status: "not_found"})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{SessionID: sessionID, Status: state.String(), BytesSent: bytesSent})
}

func responseMessage(err error) string {
	if errors.Is(err, engine.ErrSessionNotFound) {
		return "session not found"
	}
	return err.Error()
}

// MetadataResponse is the body of GET /metadata.
type MetadataResponse struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Duration   int    `json:"duration"`
	Thumbnail  string `json:"thumbnail"`
	IsPlaylist bool   `json:"is_playlist"`
	Error      string `json:"error,omitempty"`
}

// Metadata extracts title/duration/thumbnail for url without starting
// playback, for queue entries that still need resolving.
func (a *API) Metadata(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, MetadataResponse{Error: "url query parameter is required"})
		return
	}

	if !a.searcher.CanHandle(url) {
		c.JSON(http.StatusBadRequest, MetadataResponse{URL: url, Error: "unsupported URL"})
		return
	}

	isPlaylist := a.searcher.IsPlaylist(url)
	meta, err := a.searcher.ExtractMetadata(c.Request.Context(), url)
	if err != nil {
		c.JSON(http.StatusInternalServerError, MetadataResponse{URL: url, Error: fmt.Sprintf("failed to extract metadata: %v", err)})
		return
	}

	c.JSON(http.StatusOK, MetadataResponse{
		URL:        url,
		Title:      meta.Title,
		Duration:   meta.Duration,
		Thumbnail:  meta.Thumbnail,
		IsPlaylist: isPlaylist,
	})
}

// PlaylistEntry is one track within a PlaylistResponse.
type PlaylistEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
}

// PlaylistResponse is the body of GET /playlist.
type PlaylistResponse struct {
	URL     string          `json:"url"`
	Count   int             `json:"count"`
	Entries []PlaylistEntry `json:"entries"`
	Error   string          `json:"error,omitempty"`
}

// Playlist expands a playlist URL into its member track URLs.
func (a *API) Playlist(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, PlaylistResponse{Error: "url query parameter is required"})
		return
	}
	if !a.searcher.CanHandle(url) || !a.searcher.IsPlaylist(url) {
		c.JSON(http.StatusBadRequest, PlaylistResponse{URL: url, Error: "URL is not a supported playlist"})
		return
	}

	entries, err := a.searcher.ExtractPlaylist(c.Request.Context(), url)
	if err != nil {
		c.JSON(http.StatusInternalServerError, PlaylistResponse{URL: url, Error: fmt.Sprintf("failed to extract playlist: %v", err)})
		return
	}

	apiEntries := make([]PlaylistEntry, len(entries))
	for i, e := range entries {
		apiEntries[i] = PlaylistEntry{URL: e.URL, Title: e.Title, Duration: e.Duration, Thumbnail: e.Thumbnail}
	}

	c.JSON(http.StatusOK, PlaylistResponse{URL: url, Count: len(apiEntries), Entries: apiEntries})
}

// SearchResult is one hit within a SearchResponse.
type SearchResult struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

// SearchResponse is the body of GET /search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Count   int            `json:"count"`
	Results []SearchResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// Search resolves a free-text query to candidate track URLs, used by the
// orchestrator's deferred search-token resolution.
func (a *API) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, SearchResponse{Error: "q query parameter is required"})
		return
	}

	results, err := a.searcher.Search(c.Request.Context(), query, 5)
	if err != nil {
		c.JSON(http.StatusInternalServerError, SearchResponse{Query: query, Error: fmt.Sprintf("search failed: %v", err)})
		return
	}

	apiResults := make([]SearchResult, len(results))
	for i, r := range results {
		apiResults[i] = SearchResult{ID: r.ID, URL: r.URL, Title: r.Title, Duration: r.Duration, Thumbnail: r.Thumbnail, Channel: r.Channel}
	}

	c.JSON(http.StatusOK, SearchResponse{Query: query, Count: len(apiResults), Results: apiResults})
}
