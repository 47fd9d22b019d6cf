// Package stats aggregates latency samples from many simulated participants
// and prints a percentile summary.
package stats

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// Collector is safe for concurrent use by many client goroutines.
type Collector struct {
	mu        sync.Mutex
	connects  []time.Duration
	posts     []time.Duration
	delivered []time.Duration
	errors    int
	startTime time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a joined and streaming participant.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connects = append(c.connects, d)
	c.mu.Unlock()
}

// AddPost records the latency of a POST /messages round trip.
func (c *Collector) AddPost(d time.Duration) {
	c.mu.Lock()
	c.posts = append(c.posts, d)
	c.mu.Unlock()
}

// AddDelivery records the time from posting a message to receiving its
// message_created frame on another participant's stream.
func (c *Collector) AddDelivery(d time.Duration) {
	c.mu.Lock()
	c.delivered = append(c.delivered, d)
	c.mu.Unlock()
}

func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the summary to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Printf("Connections:  %d\n", len(c.connects))
	fmt.Printf("Posts:        %d\n", len(c.posts))
	fmt.Printf("Deliveries:   %d\n", len(c.delivered))
	fmt.Printf("Errors:       %d\n", c.errors)

	for _, s := range []struct {
		title   string
		samples []time.Duration
	}{
		{"Join + Connect Latency", c.connects},
		{"Post Latency", c.posts},
		{"Delivery Latency", c.delivered},
	} {
		if len(s.samples) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", s.title)
		fmt.Println(" ", Summarize(s.samples))
	}
	fmt.Println()
}

// Summary holds the distribution of a sample set.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

func (s Summary) String() string {
	r := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		r(s.Avg), r(s.P50), r(s.P95), r(s.P99), r(s.Max), s.N)
}

// Summarize computes the distribution of samples without modifying it.
func Summarize(samples []time.Duration) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	rank := func(p float64) time.Duration {
		return sorted[int(math.Ceil(float64(n)*p))-1]
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: sorted[n/2],
		P95: rank(0.95),
		P99: rank(0.99),
		Max: sorted[n-1],
	}
}
