package deps

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCheckAllReportsMissingDependencies(t *testing.T) {
	c := NewChecker("definitely-not-a-real-binary-xyz")
	err := c.CheckAll()
	if err == nil {
		t.Fatal("expected an error for a missing dependency")
	}
	var missingErr *MissingDepsError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected *MissingDepsError, got %T", err)
	}
	if len(missingErr.Dependencies) != 1 || missingErr.Dependencies[0] != "definitely-not-a-real-binary-xyz" {
		t.Fatalf("unexpected missing dependencies: %v", missingErr.Dependencies)
	}
}

func TestCheckAllPassesWhenEverythingAvailable(t *testing.T) {
	c := NewChecker("sh")
	if err := c.CheckAll(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckAndLogReturnsSameErrorShapeAsCheckAll(t *testing.T) {
	c := NewChecker("definitely-not-a-real-binary-xyz")
	err := c.CheckAndLog(zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for a missing dependency")
	}
	var missingErr *MissingDepsError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected *MissingDepsError, got %T", err)
	}
}
