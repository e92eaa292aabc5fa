package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/hackgods/govease-queue/internal/logger/sl"
	"github.com/hackgods/govease-queue/internal/token"
)

type handlers struct {
	svc QueueService
	log *slog.Logger
}

// Tokens

func (h *handlers) createToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	t, err := h.svc.CreateToken(r.Context(), req.Draft())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, t)
}

func (h *handlers) listTokens(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	tokens, err := h.svc.ListTokens(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, tokens)
}

func (h *handlers) getToken(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}

	t, err := h.svc.GetToken(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, t)
}

func (h *handlers) tokenProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}

	p, err := h.svc.TokenProgress(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, p)
}

func (h *handlers) transition(ev token.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tokenID(w, r)
		if !ok {
			return
		}

		var (
			t   *token.Token
			err error
		)
		switch ev {
		case token.EventApprove:
			t, err = h.svc.ApproveToken(r.Context(), id)
		case token.EventReject:
			t, err = h.svc.RejectToken(r.Context(), id)
		default:
			t, err = h.svc.ClearToken(r.Context(), id)
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, t)
	}
}

func (h *handlers) serveNext(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.ServeNext(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("department"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, t)
}

func (h *handlers) updateTokenStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	t, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, t)
}

// Centers

func (h *handlers) listCenters(w http.ResponseWriter, r *http.Request) {
	centers, err := h.svc.ListCenters(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, centers)
}

func (h *handlers) getCenter(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCenter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

func (h *handlers) centerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.QueueStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (h *handlers) pendingByCenter(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.PendingByCenter(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, counts)
}

func (h *handlers) upsertCenter(w http.ResponseWriter, r *http.Request) {
	var req CenterRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	c, err := h.svc.UpsertCenter(r.Context(), token.Center{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		Code:        req.Code,
		Type:        req.Type,
		Address:     req.Address,
		Departments: req.Departments,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// QR codes

func (h *handlers) resolveQR(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.ResolveQR(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, QRResolution{Code: q.Code, CenterID: q.CenterID, Active: q.Active})
}

func (h *handlers) listQRCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.svc.ListQRCodes(r.Context(), r.URL.Query().Get("centerId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, codes)
}

func (h *handlers) createQRCodes(w http.ResponseWriter, r *http.Request) {
	var req CreateQRCodesRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	codes, err := h.svc.CreateQRCodes(r.Context(), req.CenterID, req.Count)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, codes)
}

func (h *handlers) toggleQR(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.ToggleQR(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, q)
}

// Helpers

func tokenID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_token_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(r *http.Request) (token.Filter, error) {
	q := r.URL.Query()
	f := token.Filter{
		CenterID:   q.Get("centerId"),
		Department: q.Get("department"),
		Status:     token.Status(q.Get("status")),
		CreatedBy:  q.Get("createdBy"),
	}

	switch order := q.Get("order"); order {
	case "", "oldest":
	case "newest":
		f.NewestFirst = true
	default:
		return f, fmt.Errorf("order must be newest or oldest, got %q", order)
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
		}
		f.Limit = limit
	}
	return f, nil
}

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, token.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, token.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, token.ErrQRInactive):
		return http.StatusForbidden, "qr_inactive"
	case errors.Is(err, token.ErrQRMismatch):
		return http.StatusConflict, "qr_mismatch"
	case errors.Is(err, token.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)

	log := h.log.With(
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		sl.Err(err),
	)
	details := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("code", code))
		details = http.StatusText(status)
	} else {
		log.Debug("request rejected", slog.String("code", code))
	}

	writeError(w, r, status, code, details)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	writeJSON(w, r, status, ErrorResponse{Error: code, Details: details})
}
