package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/chatroom/loadtest/stats"
)

// runSaturate brings N participants online with open streams and holds them,
// pinging each stream so the sweeper keeps them. It reports how many streams
// the server dropped during the hold.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	api := fs.String("api", "http://localhost:8080", "HTTP API base URL")
	wsURL := fs.String("url", "ws://localhost:8080/ws", "Push stream URL")
	count := fs.Int("participants", 1000, "Number of participants to bring online")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all participants are online")
	ping := fs.Duration("ping", 3*time.Second, "Stream ping interval; keep below INACTIVITY_THRESHOLD")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous join attempts during ramp-up")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d participants via %s (ramp=%s, hold=%s, ping=%s)\n",
		*count, *api, *rampUp, *hold, *ping)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	fmt.Println("\n--- Ramp-up phase ---")
	rampStart := time.Now()
	clients := joinAll(ctx, rampOptions{
		api: *api, ws: *wsURL, prefix: "sat", count: *count, rampUp: *rampUp, concurrency: *concurrency,
	}, collector)
	fmt.Printf("\nRamp-up complete: %d/%d online in %s (%d errors)\n",
		len(clients), *count, time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	aliveCtx, stopPings := context.WithCancel(ctx)
	go keepAlive(aliveCtx, clients, *ping, collector)

	dropped := 0
	if ctx.Err() == nil {
		fmt.Println("\n--- Hold phase ---")
		holdTimer := time.NewTimer(*hold)
		status := time.NewTicker(5 * time.Second)

	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-status.C:
				dropped = countClosed(clients)
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", len(clients)-dropped, len(clients), dropped)
			}
		}
		holdTimer.Stop()
		status.Stop()
		dropped = countClosed(clients)
	}
	stopPings()

	fmt.Println("\n--- Cleanup ---")
	leaveAll(clients)

	if dropped > 0 {
		fmt.Printf("\nStreams dropped during hold: %d\n", dropped)
	}
	collector.Report()
}
