// Package httpapi exposes the room over HTTP. Routes are served by chi; the
// requester is named by the User header.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
)

// Participants is the directory surface used by the handlers.
// *chat.Directory implements it.
type Participants interface {
	Register(ctx context.Context, name string) (chat.Participant, error)
	Touch(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) (chat.Participant, error)
	ListAll(ctx context.Context) ([]chat.Participant, error)
}

// Messages is the message log surface used by the handlers. *chat.Log
// implements it.
type Messages interface {
	Append(ctx context.Context, d chat.Draft) (chat.Message, error)
	Get(ctx context.Context, id string) (chat.Message, error)
	Edit(ctx context.Context, id, editor string, d chat.Draft) (chat.Message, error)
	Delete(ctx context.Context, id, requester string) error
	ListFor(ctx context.Context, name string, limit int) ([]chat.Message, error)
}

// Limiter throttles message posts. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
	RetryAfter(ctx context.Context, identifier string) time.Duration
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	StoreBackend   string // reported by /health

	// Limiter, when set, throttles POST /messages per sender.
	Limiter Limiter
	// Stream, when set, is mounted at /ws.
	Stream http.Handler
}

// API holds the handler dependencies.
type API struct {
	participants Participants
	messages     Messages
	store        Pinger
	opts         Options
	logger       *slog.Logger
}

// New creates an API over the given directory, log and store.
func New(participants Participants, messages Messages, store Pinger, opts Options, logger *slog.Logger) *API {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &API{
		participants: participants,
		messages:     messages,
		store:        store,
		opts:         opts,
		logger:       logger.With("component", "httpapi"),
	}
}

// Routes builds the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "User"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if a.opts.Stream != nil {
		// The stream outlives any request timeout.
		r.Method(http.MethodGet, "/ws", a.opts.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.opts.RequestTimeout))

		r.Route("/participants", func(r chi.Router) {
			r.Post("/", a.registerParticipant)
			r.Get("/", a.listParticipants)
			r.Delete("/", a.removeParticipant)
		})
		r.Post("/status", a.heartbeat)

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", a.postMessage)
			r.Get("/", a.listMessages)
			r.Get("/{id}", a.getMessage)
			r.Put("/{id}", a.editMessage)
			r.Delete("/{id}", a.deleteMessage)
		})
	})

	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Backend string `json:"backend,omitempty"`
}

// health handles GET /health.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "unavailable",
			Store:   "unreachable",
			Backend: a.opts.StoreBackend,
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "ok", Backend: a.opts.StoreBackend})
}
