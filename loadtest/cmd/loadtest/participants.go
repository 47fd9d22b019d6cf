package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whisper/chatroom/loadtest/client"
	"github.com/whisper/chatroom/loadtest/stats"
)

// rampOptions controls how participants are brought online.
type rampOptions struct {
	api         string
	ws          string
	prefix      string
	count       int
	rampUp      time.Duration
	concurrency int
}

// joinAll registers count participants and opens their streams, spreading
// the launches over rampUp. It returns the participants that made it.
func joinAll(ctx context.Context, opts rampOptions, collector *stats.Collector) []*client.Client {
	interval := opts.rampUp / time.Duration(opts.count)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, opts.count)

	sem := make(chan struct{}, opts.concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [ramp] online: %d/%d  errors: %d\n",
					collector.ConnectionCount(), opts.count, collector.ErrorCount())
			case <-progressStop:
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

launch:
	for i := 0; i < opts.count; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			start := time.Now()
			c := client.New(opts.api, fmt.Sprintf("%s-%05d", opts.prefix, n))
			if err := c.Join(connCtx); err != nil {
				collector.AddError()
				return
			}
			if err := c.Connect(connCtx, opts.ws); err != nil {
				collector.AddError()
				_ = c.Leave(context.Background())
				return
			}
			collector.AddConnect(time.Since(start))

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	close(progressStop)
	progressWg.Wait()
	return clients
}

// keepAlive pings every stream at interval until ctx is done so the
// participants are not swept.
func keepAlive(ctx context.Context, clients []*client.Client, interval time.Duration, collector *stats.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range clients {
				if err := c.Ping(); err != nil {
					collector.AddError()
				}
			}
		}
	}
}

// leaveAll closes every stream and logs the participants off.
func leaveAll(clients []*client.Client) {
	fmt.Printf("\nLogging off %d participants...\n", len(clients))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 50)
	for _, c := range clients {
		wg.Add(1)
		sem <- struct{}{}
		go func(c *client.Client) {
			defer wg.Done()
			defer func() { <-sem }()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Leave(ctx)
			_ = c.Close()
		}(c)
	}
	wg.Wait()
}
