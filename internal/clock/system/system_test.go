package system

import (
	"testing"
	"time"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
)

var (
	_ harvest.Clock  = (*Clock)(nil)
	_ pipeline.Clock = Clock{}
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// Upstream timestamps carry second precision; a post stamped with the
// clock's own time must land exactly on a cutoff computed from it.
func TestClockMatchesUpstreamTimestamps(t *testing.T) {
	t.Parallel()

	now := New().Now()
	parsed, err := harvest.ParseTimestamp(now.Format(harvest.TimestampLayout))
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(now.Truncate(time.Second)) {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, now)
	}

	cutoff := now.Truncate(time.Second).Add(-24 * time.Hour)
	boundary := cutoff.Format(harvest.TimestampLayout)
	created, err := harvest.ParseTimestamp(boundary)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if created.Before(cutoff) {
		t.Fatalf("boundary %v parsed before cutoff %v", created, cutoff)
	}
}

func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}
