package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/whisper/chatroom/loadtest/client"
	"github.com/whisper/chatroom/loadtest/stats"
)

// runRoom brings N participants online, then has each post a broadcast every
// interval. Every stream measures how long a message takes from the post
// until its message_created frame arrives.
func runRoom(args []string) {
	fs := flag.NewFlagSet("room", flag.ExitOnError)
	api := fs.String("api", "http://localhost:8080", "HTTP API base URL")
	wsURL := fs.String("url", "ws://localhost:8080/ws", "Push stream URL")
	count := fs.Int("participants", 50, "Number of participants")
	rampUp := fs.Duration("ramp", 5*time.Second, "Ramp-up duration")
	duration := fs.Duration("duration", 30*time.Second, "How long participants keep posting")
	interval := fs.Duration("msg-interval", 2*time.Second, "Interval between posts per participant")
	msgSize := fs.Int("msg-size", 64, "Padding added to each message body in bytes")
	ping := fs.Duration("ping", 3*time.Second, "Stream ping interval")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous join attempts during ramp-up")
	fs.Parse(args)

	fmt.Printf("Room test: %d participants via %s (duration=%s, interval=%s, msg-size=%d)\n",
		*count, *api, *duration, *interval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	// Post start times keyed by message text, filled in before the post so
	// a frame that beats the HTTP response still finds its entry.
	var sent sync.Map
	var received atomic.Int64

	fmt.Println("\n--- Phase 1: Join ---")
	clients := joinAll(ctx, rampOptions{
		api: *api, ws: *wsURL, prefix: "room", count: *count, rampUp: *rampUp, concurrency: *concurrency,
	}, collector)
	fmt.Printf("Online: %d/%d\n", len(clients), *count)

	for _, c := range clients {
		self := c.Name()
		c.On(client.TypeMessageCreated, func(f client.Frame) {
			if f.Message == nil || f.Message.From == self {
				return
			}
			if v, ok := sent.Load(f.Message.Text); ok {
				collector.AddDelivery(time.Since(v.(time.Time)))
				received.Add(1)
			}
		})
	}

	aliveCtx, stopPings := context.WithCancel(ctx)
	go keepAlive(aliveCtx, clients, *ping, collector)

	fmt.Println("\n--- Phase 2: Post ---")
	postCtx, cancel := context.WithTimeout(ctx, *duration)
	padding := strings.Repeat("x", *msgSize)
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for n := 0; ; n++ {
				select {
				case <-postCtx.Done():
					return
				case <-ticker.C:
				}
				text := strings.TrimSpace(fmt.Sprintf("%s #%d %s", c.Name(), n, padding))
				start := time.Now()
				sent.Store(text, start)
				if _, err := c.Post(postCtx, client.Broadcast, text, client.KindMessage); err != nil {
					if postCtx.Err() == nil {
						collector.AddError()
					}
					continue
				}
				collector.AddPost(time.Since(start))
			}
		}(c)
	}
	wg.Wait()
	cancel()

	// Let in-flight frames land.
	time.Sleep(time.Second)
	stopPings()

	var posts int64
	for _, c := range clients {
		posts += int64(c.GetMetrics().Posts)
	}
	expected := posts * int64(max(len(clients)-1, 0))
	fmt.Printf("\nDelivered %d of %d expected frames\n", received.Load(), expected)

	leaveAll(clients)
	collector.Report()
}

// countClosed returns how many participants lost their stream.
func countClosed(clients []*client.Client) int {
	closed := 0
	for _, c := range clients {
		select {
		case <-c.Done():
			closed++
		default:
		}
	}
	return closed
}
