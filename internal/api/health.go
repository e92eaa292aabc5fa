package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   pinger
	redis   *redis.Client
	env     string
	version string
}

// NewHealthHandler checks store on readiness, and redis when it is not nil.
func NewHealthHandler(store pinger, redis *redis.Client, env, version string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		redis:   redis,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness reports "error" (503) when the store is down and "degraded" when
// only Redis is. Without Redis, token numbering still holds through the store.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	storeCtx, storeCancel := context.WithTimeout(ctx, time.Second)
	err := h.store.Ping(storeCtx)
	storeCancel()
	if err != nil {
		deps["store"] = "down"
		status = "error"
	} else {
		deps["store"] = "ok"
	}

	if h.redis == nil {
		deps["redis"] = "disabled"
	} else {
		redisCtx, redisCancel := context.WithTimeout(ctx, time.Second)
		err = h.redis.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			deps["redis"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps["redis"] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}
