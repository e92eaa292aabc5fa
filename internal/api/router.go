package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/govease-queue/internal/logger/sl"
	"github.com/hackgods/govease-queue/internal/token"
)

const requestTimeout = 10 * time.Second

// QueueService is the part of token.Service the HTTP layer uses.
type QueueService interface {
	CreateToken(ctx context.Context, d token.Draft) (*token.Token, error)
	GetToken(ctx context.Context, id uuid.UUID) (*token.Token, error)
	ListTokens(ctx context.Context, f token.Filter) ([]token.Token, error)
	ApproveToken(ctx context.Context, id uuid.UUID) (*token.Token, error)
	RejectToken(ctx context.Context, id uuid.UUID) (*token.Token, error)
	ClearToken(ctx context.Context, id uuid.UUID) (*token.Token, error)
	ServeNext(ctx context.Context, centerID, department string) (*token.Token, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target token.Status) (*token.Token, error)
	TokenProgress(ctx context.Context, id uuid.UUID) (token.Progress, error)
	QueueStats(ctx context.Context, centerID string) (token.QueueStats, error)
	PendingByCenter(ctx context.Context) (map[string]int, error)
	ResolveQR(ctx context.Context, code string) (*token.QRCode, error)
	CreateQRCodes(ctx context.Context, centerID string, count int) ([]token.QRCode, error)
	ListQRCodes(ctx context.Context, centerID string) ([]token.QRCode, error)
	ToggleQR(ctx context.Context, code string) (*token.QRCode, error)
	ListCenters(ctx context.Context) ([]token.Center, error)
	GetCenter(ctx context.Context, id string) (*token.Center, error)
	UpsertCenter(ctx context.Context, c token.Center) (*token.Center, error)
	Ping(ctx context.Context) error
}

var _ QueueService = (*token.Service)(nil)

type RouterConfig struct {
	Service QueueService
	Redis   *redis.Client
	Log     *slog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{svc: cfg.Service, log: log.With(sl.Module("http.handlers"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(EchoRequestID)
	r.Use(Logging(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "requested resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed here")
	})

	health := NewHealthHandler(cfg.Service, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/centers", func(r chi.Router) {
		r.Get("/", h.listCenters)
		r.Get("/pending", h.pendingByCenter)
		r.Get("/{id}", h.getCenter)
		r.Get("/{id}/stats", h.centerStats)
	})

	r.Route("/tokens", func(r chi.Router) {
		r.Post("/", h.createToken)
		r.Get("/", h.listTokens)
		r.Get("/{id}", h.getToken)
		r.Get("/{id}/progress", h.tokenProgress)
	})

	r.Get("/qr/{code}", h.resolveQR)

	r.Route("/admin", func(r chi.Router) {
		r.Put("/centers/{id}", h.upsertCenter)
		r.Patch("/centers/{id}/next", h.serveNext)

		r.Get("/tokens", h.listTokens)
		r.Patch("/tokens/{id}", h.updateTokenStatus)
		r.Patch("/tokens/{id}/approve", h.transition(token.EventApprove))
		r.Patch("/tokens/{id}/reject", h.transition(token.EventReject))
		r.Patch("/tokens/{id}/clear", h.transition(token.EventClear))

		r.Get("/qrs", h.listQRCodes)
		r.Post("/qrs", h.createQRCodes)
		r.Patch("/qrs/{code}/toggle", h.toggleQR)
	})

	return r
}
