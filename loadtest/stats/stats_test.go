package stats

import (
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	samples := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}

	s := Summarize(samples)
	if s.N != 100 {
		t.Fatalf("N = %d, want 100", s.N)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P95 != 95*time.Millisecond {
		t.Errorf("P95 = %v, want 95ms", s.P95)
	}
	if s.P99 != 99*time.Millisecond {
		t.Errorf("P99 = %v, want 99ms", s.P99)
	}
	if s.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", s.Max)
	}
	if samples[0] != 100*time.Millisecond {
		t.Error("Summarize reordered its input")
	}
}

func TestSummarize_Empty(t *testing.T) {
	if s := Summarize(nil); s.N != 0 {
		t.Fatalf("N = %d, want 0", s.N)
	}
}
