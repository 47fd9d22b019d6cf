// Package main implements a standalone end-to-end test for the chat room
// server. It walks the full participant journey against a running stack:
// health, join, push stream, broadcast and private visibility, edit and
// delete, heartbeats, logoff, rate limiting and inactivity eviction.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-api http://localhost:8080] [-url ws://localhost:8080/ws] [-sweep-wait 30s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/whisper/chatroom/loadtest/client"
)

type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func pass(name, detail string) scenarioResult { return scenarioResult{name, resultPass, detail} }

func fail(name string, format string, args ...any) scenarioResult {
	return scenarioResult{name, resultFail, fmt.Sprintf(format, args...)}
}

func info(name string, format string, args ...any) scenarioResult {
	return scenarioResult{name, resultInfo, fmt.Sprintf(format, args...)}
}

// env carries the run-wide settings.
type env struct {
	api, ws string
	run     string // unique per run so names never collide with earlier runs
}

func (e env) participant(role string) *client.Client {
	return client.New(e.api, fmt.Sprintf("e2e-%s-%s", e.run, role))
}

func main() {
	api := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	wsURL := flag.String("url", "ws://localhost:8080/ws", "Push stream URL")
	timeout := flag.Duration("timeout", 90*time.Second, "Global test timeout")
	sweepWait := flag.Duration("sweep-wait", 0, "Wait this long for an idle participant to be swept (0 skips)")
	flag.Parse()

	fmt.Println("=== Chat Room E2E Test ===")
	fmt.Printf("API: %s  Stream: %s\n\n", *api, *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e := env{api: *api, ws: *wsURL, run: fmt.Sprintf("%x", time.Now().UnixNano())[:10]}

	results := []scenarioResult{scenarioHealth(ctx, e)}
	results = append(results, scenarioRoom(ctx, e)...)
	results = append(results, scenarioRateLimiting(ctx, e))
	if *sweepWait > 0 {
		results = append(results, scenarioInactivity(ctx, e, *sweepWait))
	}

	fmt.Println()
	passed, failed, infos := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()
		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			infos++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, passed+failed)
	if infos > 0 {
		fmt.Printf(", %d info", infos)
	}
	fmt.Println(" ===")
	if failed > 0 {
		os.Exit(1)
	}
}

func scenarioHealth(ctx context.Context, e env) scenarioResult {
	name := "Health and metrics"

	body, err := httpGetBody(ctx, e.api+"/health")
	if err != nil {
		return fail(name, "/health: %v", err)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		return fail(name, "/health: unexpected body %s", body)
	}

	metricsBody, err := httpGetBody(ctx, e.api+"/metrics")
	if err != nil {
		return fail(name, "/metrics: %v", err)
	}
	if !strings.Contains(string(metricsBody), "chatroom_http_request_duration_seconds") {
		return fail(name, "/metrics: missing chatroom_http_request_duration_seconds")
	}
	return pass(name, "")
}

// frames collects stream frames of one type.
func frames(c *client.Client, frameType string) chan client.Frame {
	ch := make(chan client.Frame, 16)
	c.On(frameType, func(f client.Frame) {
		select {
		case ch <- f:
		default:
		}
	})
	return ch
}

// await waits for a frame matching ok.
func await(ctx context.Context, ch chan client.Frame, ok func(client.Frame) bool) (client.Frame, error) {
	wait, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case f := <-ch:
			if ok(f) {
				return f, nil
			}
		case <-wait.Done():
			return client.Frame{}, errors.New("timeout waiting for frame")
		}
	}
}

// absent reports an error if a frame matching ok arrives within a short grace.
func absent(ch chan client.Frame, ok func(client.Frame) bool) error {
	grace := time.After(500 * time.Millisecond)
	for {
		select {
		case f := <-ch:
			if ok(f) {
				return fmt.Errorf("unexpected %s frame", f.Type)
			}
		case <-grace:
			return nil
		}
	}
}

func byText(text string) func(client.Frame) bool {
	return func(f client.Frame) bool { return f.Message != nil && f.Message.Text == text }
}

func byID(id string) func(client.Frame) bool {
	return func(f client.Frame) bool { return f.Message != nil && f.Message.ID == id }
}

func statusOf(err error) int {
	var se *client.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// scenarioRoom runs the main journey with three participants sharing state,
// so the scenarios are reported as a group.
func scenarioRoom(ctx context.Context, e env) []scenarioResult {
	names := []string{
		"Join and stream",
		"Broadcast and private visibility",
		"Edit and delete",
		"Heartbeat",
		"Logoff",
	}
	skipped := func(from int, reason string) []scenarioResult {
		out := make([]scenarioResult, 0, len(names)-from)
		for _, n := range names[from:] {
			out = append(out, fail(n, "skipped: %s", reason))
		}
		return out
	}
	var results []scenarioResult

	// --- Join and stream ---
	ana, bob, cid := e.participant("ana"), e.participant("bob"), e.participant("cid")
	for _, c := range []*client.Client{ana, bob, cid} {
		defer c.Close()
		defer c.Leave(context.Background())
	}

	if err := ana.Join(ctx); err != nil {
		return append(results, fail(names[0], "ana join: %v", err))
	}
	if err := ana.Join(ctx); statusOf(err) != http.StatusConflict {
		return append(results, fail(names[0], "duplicate join: want 409, got %v", err))
	}
	if err := ana.Connect(ctx, e.ws); err != nil {
		return append(results, fail(names[0], "ana stream: %v", err))
	}
	anaJoins := frames(ana, client.TypeParticipantJoined)
	for _, c := range []*client.Client{bob, cid} {
		if err := c.Join(ctx); err != nil {
			return append(results, fail(names[0], "%s join: %v", c.Name(), err))
		}
		if err := c.Connect(ctx, e.ws); err != nil {
			return append(results, fail(names[0], "%s stream: %v", c.Name(), err))
		}
	}
	if _, err := await(ctx, anaJoins, func(f client.Frame) bool {
		return f.Participant != nil && f.Participant.Name == cid.Name()
	}); err != nil {
		return append(results, fail(names[0], "ana did not see cid join: %v", err))
	}
	results = append(results, pass(names[0], "3 participants streaming"))

	// --- Broadcast and private visibility ---
	bobCreated := frames(bob, client.TypeMessageCreated)
	cidCreated := frames(cid, client.TypeMessageCreated)

	hello := "hello room " + e.run
	if _, err := ana.Post(ctx, client.Broadcast, hello, client.KindMessage); err != nil {
		return append(results, append([]scenarioResult{fail(names[1], "broadcast: %v", err)}, skipped(2, "broadcast failed")...)...)
	}
	if _, err := await(ctx, bobCreated, byText(hello)); err != nil {
		return append(results, append([]scenarioResult{fail(names[1], "bob missed broadcast: %v", err)}, skipped(2, "broadcast failed")...)...)
	}
	if _, err := await(ctx, cidCreated, byText(hello)); err != nil {
		return append(results, append([]scenarioResult{fail(names[1], "cid missed broadcast: %v", err)}, skipped(2, "broadcast failed")...)...)
	}

	secret := "for bob only " + e.run
	priv, err := ana.Post(ctx, bob.Name(), secret, client.KindPrivate)
	if err != nil {
		return append(results, append([]scenarioResult{fail(names[1], "private: %v", err)}, skipped(2, "private failed")...)...)
	}
	privResult := func() scenarioResult {
		if _, err := await(ctx, bobCreated, byID(priv.ID)); err != nil {
			return fail(names[1], "bob missed private message: %v", err)
		}
		if err := absent(cidCreated, byID(priv.ID)); err != nil {
			return fail(names[1], "cid stream: %v", err)
		}
		if _, err := cid.Get(ctx, priv.ID); statusOf(err) != http.StatusNotFound {
			return fail(names[1], "cid GET private: want 404, got %v", err)
		}
		list, err := cid.Messages(ctx, 0)
		if err != nil {
			return fail(names[1], "cid list: %v", err)
		}
		for _, m := range list {
			if m.ID == priv.ID {
				return fail(names[1], "cid list contains the private message")
			}
		}
		if _, err := ana.Post(ctx, client.Broadcast, "x", client.KindPrivate); statusOf(err) != http.StatusUnprocessableEntity {
			return fail(names[1], "private to all: want 422, got %v", err)
		}
		return pass(names[1], fmt.Sprintf("cid sees %d messages", len(list)))
	}()
	results = append(results, privResult)

	// --- Edit and delete ---
	editResult := func() scenarioResult {
		updated := frames(bob, client.TypeMessageUpdated)
		deleted := frames(bob, client.TypeMessageDeleted)

		edited, err := ana.Edit(ctx, priv.ID, secret+" (edited)")
		if err != nil {
			return fail(names[2], "edit: %v", err)
		}
		if _, err := await(ctx, updated, byText(edited.Text)); err != nil {
			return fail(names[2], "bob missed update: %v", err)
		}
		if _, err := bob.Edit(ctx, priv.ID, "hijack"); statusOf(err) != http.StatusForbidden {
			return fail(names[2], "edit by recipient: want 403, got %v", err)
		}
		if err := ana.Delete(ctx, priv.ID); err != nil {
			return fail(names[2], "delete: %v", err)
		}
		if _, err := await(ctx, deleted, byID(priv.ID)); err != nil {
			return fail(names[2], "bob missed delete: %v", err)
		}
		if err := ana.Delete(ctx, priv.ID); statusOf(err) != http.StatusNotFound {
			return fail(names[2], "second delete: want 404, got %v", err)
		}
		return pass(names[2], "")
	}()
	results = append(results, editResult)

	// --- Heartbeat ---
	hbResult := func() scenarioResult {
		pongs := frames(ana, client.TypePong)
		if err := ana.Ping(); err != nil {
			return fail(names[3], "ping: %v", err)
		}
		if _, err := await(ctx, pongs, func(client.Frame) bool { return true }); err != nil {
			return fail(names[3], "pong: %v", err)
		}
		if err := ana.Heartbeat(ctx); err != nil {
			return fail(names[3], "POST /status: %v", err)
		}
		return pass(names[3], "stream and HTTP")
	}()
	results = append(results, hbResult)

	// --- Logoff ---
	leaveResult := func() scenarioResult {
		lefts := frames(ana, client.TypeParticipantLeft)
		if err := bob.Leave(ctx); err != nil {
			return fail(names[4], "leave: %v", err)
		}
		if _, err := await(ctx, lefts, func(f client.Frame) bool {
			return f.Participant != nil && f.Participant.Name == bob.Name()
		}); err != nil {
			return fail(names[4], "ana missed leave: %v", err)
		}
		select {
		case <-bob.Done():
		case <-time.After(5 * time.Second):
			return fail(names[4], "bob's stream stayed open")
		}
		if err := bob.Heartbeat(ctx); statusOf(err) != http.StatusNotFound {
			return fail(names[4], "heartbeat after leave: want 404, got %v", err)
		}
		return pass(names[4], "")
	}()
	return append(results, leaveResult)
}

func scenarioRateLimiting(ctx context.Context, e env) scenarioResult {
	name := "Rate limiting"

	c := e.participant("burst")
	defer c.Leave(context.Background())
	if err := c.Join(ctx); err != nil {
		return info(name, "setup failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		_, err := c.Post(ctx, client.Broadcast, fmt.Sprintf("burst %d", i+1), client.KindMessage)
		if statusOf(err) == http.StatusTooManyRequests {
			return pass(name, fmt.Sprintf("limited after %d posts", i))
		}
		if err != nil {
			return info(name, "post %d: %v", i+1, err)
		}
	}
	return info(name, "10 posts accepted; RATE_LIMIT_ENABLED is probably off")
}

func scenarioInactivity(ctx context.Context, e env, wait time.Duration) scenarioResult {
	name := "Inactivity eviction"

	idle, watcher := e.participant("idle"), e.participant("watcher")
	defer watcher.Close()
	defer watcher.Leave(context.Background())
	if err := idle.Join(ctx); err != nil {
		return fail(name, "idle join: %v", err)
	}
	if err := watcher.Join(ctx); err != nil {
		return fail(name, "watcher join: %v", err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if err := watcher.Heartbeat(ctx); err != nil {
			return fail(name, "watcher heartbeat: %v", err)
		}
		online, err := watcher.Participants(ctx)
		if err != nil {
			return fail(name, "list participants: %v", err)
		}
		if !slices.Contains(online, idle.Name()) {
			msgs, err := watcher.Messages(ctx, 0)
			if err != nil {
				return fail(name, "list messages: %v", err)
			}
			for _, m := range msgs {
				if m.From == idle.Name() && m.Type == "status" && strings.Contains(m.Text, "left") {
					return pass(name, "evicted with leave notice")
				}
			}
			return fail(name, "evicted without a leave notice")
		}
		select {
		case <-ctx.Done():
			return fail(name, "interrupted")
		case <-time.After(2 * time.Second):
		}
	}
	return fail(name, "idle participant still online after %s", wait)
}

func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
