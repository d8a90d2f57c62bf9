// Package youtube implements platform.StreamExtractor by shelling out to
// yt-dlp, the same subprocess-driven approach used for every extraction
// source in this module.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// extractTimeout bounds every yt-dlp invocation per the engine's extraction
// contract: a subprocess that never terminates must not wedge a session.
const extractTimeout = 30 * time.Second

// Config holds YouTube extractor configuration.
type Config struct {
	// CookiesFromBrowser extracts cookies from browser (e.g., "firefox", "chrome", "safari").
	CookiesFromBrowser string
	// CookiesFile is the path to a cookies.txt file (alternative to browser cookies).
	CookiesFile string
}

var config Config

const (
	defaultCookiesPath = "/app/secrets/youtube_cookies.txt"
	runtimeCookiesPath = "/tmp/yt-cookies.txt"
)

// SetConfig sets the YouTube extractor configuration.
func SetConfig(c Config) {
	config = c
}

// LoadConfigFromEnv loads configuration from environment variables.
func LoadConfigFromEnv() {
	config.CookiesFromBrowser = os.Getenv("YT_COOKIES_BROWSER")
	config.CookiesFile = os.Getenv("YT_COOKIES_FILE")
}

func getCookieArgs(log zerolog.Logger) []string {
	cookiesFile := strings.TrimSpace(config.CookiesFile)
	if cookiesFile != "" {
		log.Debug().Str("cookies_file", cookiesFile).Msg("using cookies file")
		return []string{"--cookies", prepareCookieFile(cookiesFile)}
	}

	cookiesFromBrowser := strings.TrimSpace(config.CookiesFromBrowser)
	if cookiesFromBrowser != "" {
		log.Debug().Str("browser", cookiesFromBrowser).Msg("using cookies from browser")
		return []string{"--cookies-from-browser", cookiesFromBrowser}
	}

	if _, err := os.Stat(defaultCookiesPath); err == nil {
		log.Debug().Str("cookies_file", defaultCookiesPath).Msg("using default cookies file")
		return []string{"--cookies", prepareCookieFile(defaultCookiesPath)}
	}

	return nil
}

func prepareCookieFile(sourcePath string) string {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return sourcePath
	}
	if err := os.WriteFile(runtimeCookiesPath, data, 0o600); err != nil {
		return sourcePath
	}
	return runtimeCookiesPath
}

// Extractor implements platform.StreamExtractor for YouTube.
// Single Responsibility: only handles YouTube stream extraction.
type Extractor struct {
	log zerolog.Logger
}

// New creates a new YouTube extractor with a no-op logger. Use NewWithLogger
// to wire it into the engine's structured log stream.
func New() *Extractor {
	return &Extractor{log: zerolog.Nop()}
}

// NewWithLogger creates a YouTube extractor that logs through log.
func NewWithLogger(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("extractor", "youtube").Logger()}
}

// Name returns the platform name.
func (e *Extractor) Name() string {
	return "youtube"
}

// CanHandle returns true if the URL is a YouTube URL.
func (e *Extractor) CanHandle(url string) bool {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "youtube.com") || strings.Contains(trimmed, "youtu.be") {
		return true
	}
	return isYouTubeID(trimmed)
}

// ExtractStreamURL extracts the direct audio stream URL from a YouTube URL,
// bounded by extractTimeout and cancelled promptly if ctx is cancelled.
func (e *Extractor) ExtractStreamURL(ctx context.Context, youtubeURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	youtubeURL = normalizeYouTubeURL(youtubeURL)
	args := []string{
		"--ignore-config",
		"--no-playlist",          // single video only
		"--no-warnings",          // suppress warnings for speed
		"--no-check-certificate", // skip SSL verification (faster)
		"--socket-timeout", "10", // shorter timeout
	}

	args = append(args, getJsRuntimeArgs()...)
	args = append(args, getCookieArgs(e.log)...)

	// Try common audio format selectors first.
	formatSelectors := []string{"bestaudio/best", "bestaudio", "best"}
	for _, selector := range formatSelectors {
		formatArgs := append(append([]string{}, args...), "-f", selector, "--get-url", youtubeURL)
		url, err := runYtDlpGetURL(ctx, formatArgs)
		if err == nil {
			return url, nil
		}
	}

	// Fallback: no format selector (may return multiple URLs).
	fallbackArgs := append(append([]string{}, args...), "--get-url", youtubeURL)
	return runYtDlpGetURL(ctx, fallbackArgs)
}

func getJsRuntimeArgs() []string {
	if _, err := exec.LookPath("node"); err == nil {
		return []string{"--js-runtimes", "node"}
	}
	if _, err := exec.LookPath("deno"); err == nil {
		return []string{"--js-runtimes", "deno"}
	}
	return nil
}

// Metadata holds the JSON output from yt-dlp.
type Metadata struct {
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
}

// ExtractMetadata extracts track metadata without downloading.
func (e *Extractor) ExtractMetadata(ctx context.Context, youtubeURL string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	youtubeURL = normalizeYouTubeURL(youtubeURL)
	args := []string{
		"--ignore-config",
		"--no-playlist",
		"--no-warnings",
		"--no-check-certificate",
		"--socket-timeout", "10",
		"-j", // JSON output
		"--skip-download",
	}

	args = append(args, getJsRuntimeArgs()...)
	args = append(args, getCookieArgs(e.log)...)
	args = append(args, youtubeURL)

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	var meta Metadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if meta.Thumbnail == "" {
		if videoID := extractYouTubeID(youtubeURL); videoID != "" {
			meta.Thumbnail = "https://i.ytimg.com/vi/" + videoID + "/mqdefault.jpg"
		}
	}

	return &meta, nil
}

// IsPlaylist checks if the URL is a YouTube playlist.
func (e *Extractor) IsPlaylist(youtubeURL string) bool {
	youtubeURL = normalizeYouTubeURL(youtubeURL)
	return strings.Contains(youtubeURL, "list=")
}

// PlaylistEntry represents a single video in a playlist.
type PlaylistEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
}

// ExtractPlaylist extracts all videos from a YouTube playlist.
func (e *Extractor) ExtractPlaylist(ctx context.Context, playlistURL string) ([]PlaylistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	playlistURL = normalizeYouTubeURL(playlistURL)
	args := []string{
		"--ignore-config",
		"--yes-playlist",
		"--flat-playlist", // don't download, just list
		"--no-warnings",
		"--no-check-certificate",
		"--socket-timeout", "15",
		"-j", // JSON output per entry
	}

	args = append(args, getJsRuntimeArgs()...)
	args = append(args, getCookieArgs(e.log)...)
	args = append(args, playlistURL)

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	// yt-dlp outputs one JSON object per line for --flat-playlist.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	entries := make([]PlaylistEntry, 0, len(lines))

	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Duration  int    `json:"duration"`
			Thumbnail string `json:"thumbnail"`
			URL       string `json:"url"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip malformed entries
		}

		url := entry.URL
		if url == "" && entry.ID != "" {
			url = "https://www.youtube.com/watch?v=" + entry.ID
		}

		// YouTube thumbnails have predictable URLs when the id is known.
		thumbnail := entry.Thumbnail
		if thumbnail == "" && entry.ID != "" {
			thumbnail = "https://i.ytimg.com/vi/" + entry.ID + "/mqdefault.jpg"
		}

		entries = append(entries, PlaylistEntry{
			URL:       url,
			Title:     entry.Title,
			Duration:  entry.Duration,
			Thumbnail: thumbnail,
		})
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no videos found in playlist")
	}

	return entries, nil
}

func runYtDlpGetURL(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return "", fmt.Errorf("yt-dlp returned empty URL")
	}

	// Prefer the audio-only URL when multiple URLs are returned.
	for _, line := range lines {
		if strings.Contains(line, "mime=audio") || strings.Contains(line, "audio/") {
			return strings.TrimSpace(line), nil
		}
	}

	return strings.TrimSpace(lines[0]), nil
}

func isYouTubeID(value string) bool {
	if len(value) != 11 {
		return false
	}
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

func normalizeYouTubeURL(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "youtube.com") || strings.Contains(trimmed, "youtu.be") {
		return trimmed
	}
	if isYouTubeID(trimmed) {
		return "https://www.youtube.com/watch?v=" + trimmed
	}
	return trimmed
}

func extractYouTubeID(value string) string {
	if isYouTubeID(value) {
		return value
	}
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/.*[?&]v=([a-zA-Z0-9_-]{11})`),
	}
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(value)
		if len(match) > 1 {
			return match[1]
		}
	}
	return ""
}

// SearchResult represents a single search result, and is also the shape the
// §4.2 deferred-resolution scorer consumes.
type SearchResult struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

// Search searches YouTube for videos matching the query.
func (e *Extractor) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}

	searchQuery := fmt.Sprintf("ytsearch%d:%s", limit, query)

	args := []string{
		"--ignore-config",
		"--flat-playlist",
		"--no-warnings",
		"--no-check-certificate",
		"--socket-timeout", "10",
		"-j",
	}

	args = append(args, getJsRuntimeArgs()...)
	args = append(args, getCookieArgs(e.log)...)
	args = append(args, searchQuery)

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp search failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	results := make([]SearchResult, 0, len(lines))

	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Duration  int    `json:"duration"`
			Thumbnail string `json:"thumbnail"`
			Channel   string `json:"channel"`
			Uploader  string `json:"uploader"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		url := "https://www.youtube.com/watch?v=" + entry.ID

		thumbnail := entry.Thumbnail
		if thumbnail == "" && entry.ID != "" {
			thumbnail = "https://i.ytimg.com/vi/" + entry.ID + "/mqdefault.jpg"
		}

		channel := entry.Channel
		if channel == "" {
			channel = entry.Uploader
		}

		results = append(results, SearchResult{
			ID:        entry.ID,
			URL:       url,
			Title:     entry.Title,
			Duration:  entry.Duration,
			Thumbnail: thumbnail,
			Channel:   channel,
		})
	}

	return results, nil
}
