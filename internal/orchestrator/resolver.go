package orchestrator

import (
	"context"
	"math"
	"strings"
)

// SearchCandidate is one yt-dlp search hit, the same shape the control
// plane's /search endpoint returns.
type SearchCandidate struct {
	URL      string
	Title    string
	Duration int
	Channel  string
}

// Resolver looks up candidates for a deferred search token. The control
// plane's /search handler is the concrete implementation in production.
type Resolver interface {
	Search(ctx context.Context, query string, limit int) ([]SearchCandidate, error)
}

var lowQualityMarkers = []string{
	"cover", "remix", "karaoke", "instrumental", "reaction", "tutorial",
	"nightcore", "sped up", "slowed", "bass boosted", "lofi", "8d audio",
}

// score implements the §4.2 candidate scoring: duration proximity, title
// quality markers, and a penalty for suspiciously long candidates.
func score(query string, expectedDuration int, c SearchCandidate) int {
	total := 0

	if expectedDuration > 0 {
		delta := int(math.Abs(float64(c.Duration - expectedDuration)))
		switch {
		case delta <= 3:
			total += 50
		case delta <= 10:
			total += 30
		case delta <= 30:
			total += 10
		default:
			total -= 20
		}
	}

	title := strings.ToLower(c.Title)
	switch {
	case strings.Contains(title, "official audio"):
		total += 15
	case strings.Contains(title, "official"):
		total += 10
	case strings.Contains(title, "audio"):
		total += 5
	}

	q := strings.ToLower(query)
	for _, marker := range lowQualityMarkers {
		if strings.Contains(title, marker) && !strings.Contains(q, marker) {
			total -= 15
			break
		}
	}

	if c.Duration > 600 && expectedDuration > 0 && expectedDuration < 600 {
		total -= 25
	}

	return total
}

// Resolve picks the best-scoring candidate for query, or ErrNoCandidates if
// the resolver returned nothing. expectedDuration is 0 when unknown.
func Resolve(ctx context.Context, resolver Resolver, query string, expectedDuration int) (SearchCandidate, error) {
	candidates, err := resolver.Search(ctx, query, 5)
	if err != nil {
		return SearchCandidate{}, err
	}
	if len(candidates) == 0 {
		return SearchCandidate{}, ErrNoCandidates
	}

	best := candidates[0]
	bestScore := score(query, expectedDuration, best)
	for _, c := range candidates[1:] {
		s := score(query, expectedDuration, c)
		if s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, nil
}
