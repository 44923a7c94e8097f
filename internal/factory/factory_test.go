package factory

import (
	"testing"
	"time"
)

func TestSecondsToDuration(t *testing.T) {
	if got := secondsToDuration(300); got != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", got)
	}
	if got := secondsToDuration(0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
