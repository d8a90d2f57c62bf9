package orchestrator

import (
	"context"
	"testing"
)

type stubResolver struct {
	candidates []SearchCandidate
	err        error
}

func (s stubResolver) Search(ctx context.Context, query string, limit int) ([]SearchCandidate, error) {
	return s.candidates, s.err
}

func TestResolvePrefersOfficialAudioOverCover(t *testing.T) {
	resolver := stubResolver{candidates: []SearchCandidate{
		{Title: "Weezer - Buddy Holly (Cover)", Duration: 150},
		{Title: "Weezer - Buddy Holly (Official Audio)", Duration: 152},
	}}

	best, err := Resolve(context.Background(), resolver, "weezer buddy holly", 152)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best.Title != "Weezer - Buddy Holly (Official Audio)" {
		t.Fatalf("expected official audio candidate, got %q", best.Title)
	}
}

func TestResolvePenalizesLowQualityMarkerNotInQuery(t *testing.T) {
	resolver := stubResolver{candidates: []SearchCandidate{
		{Title: "Song Title (Nightcore)", Duration: 100},
		{Title: "Song Title", Duration: 100},
	}}

	best, err := Resolve(context.Background(), resolver, "song title", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best.Title != "Song Title" {
		t.Fatalf("expected plain title preferred over nightcore, got %q", best.Title)
	}
}

func TestResolveAllowsMarkerExplicitlyRequested(t *testing.T) {
	resolver := stubResolver{candidates: []SearchCandidate{
		{Title: "Song Title (Nightcore Remix)", Duration: 100},
	}}

	best, err := Resolve(context.Background(), resolver, "song title nightcore remix", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best.Title != "Song Title (Nightcore Remix)" {
		t.Fatalf("expected only candidate returned, got %q", best.Title)
	}
}

func TestResolveNoCandidatesReturnsSentinel(t *testing.T) {
	resolver := stubResolver{candidates: nil}
	_, err := Resolve(context.Background(), resolver, "nothing", 0)
	if err != ErrNoCandidates {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestResolvePropagatesSearchError(t *testing.T) {
	sentinel := ErrQueueEmpty // reuse an existing sentinel error value for identity comparison
	resolver := stubResolver{err: sentinel}
	_, err := Resolve(context.Background(), resolver, "query", 0)
	if err != sentinel {
		t.Fatalf("expected propagated error, got %v", err)
	}
}

func TestResolvePenalizesSuspiciouslyLongCandidate(t *testing.T) {
	resolver := stubResolver{candidates: []SearchCandidate{
		{Title: "Official Audio", Duration: 4000},
		{Title: "Official Audio", Duration: 180},
	}}

	best, err := Resolve(context.Background(), resolver, "song", 175)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best.Duration != 180 {
		t.Fatalf("expected the short, duration-proximate candidate to win, got duration %d", best.Duration)
	}
}
