// Package api is the thin HTTP boundary that translates requests into
// lifecycle.Controller operations: credential resolution, rate limiting,
// and response shaping (spec.md §6).
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucidarc/observatory/internal/apierr"
	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/httpserver"
	"github.com/lucidarc/observatory/internal/job"
	"github.com/lucidarc/observatory/internal/lifecycle"
	"github.com/lucidarc/observatory/internal/ratelimit"
)

// Handler provides HTTP handlers for the /v1/analyze surface.
type Handler struct {
	logger     *slog.Logger
	resolver   *credential.Resolver
	limiter    *ratelimit.Limiter
	controller *lifecycle.Controller
}

// NewHandler creates an api Handler.
func NewHandler(logger *slog.Logger, resolver *credential.Resolver, limiter *ratelimit.Limiter, controller *lifecycle.Controller) *Handler {
	return &Handler{logger: logger, resolver: resolver, limiter: limiter, controller: controller}
}

// Routes returns a chi.Router with the analysis endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSubmit)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

// authenticate resolves the caller's credential and enforces its rate
// limit, writing the X-RateLimit-* / Retry-After headers on every response
// that gets a rate-limit decision (spec.md §6); a credential or limiter error
// is answered without them. It returns false if the request should stop
// here (the response has already been written).
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (credential.Credential, bool) {
	cred, err := h.resolver.Resolve(r.Context(), r)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return credential.Credential{}, false
	}

	decision, err := h.limiter.Check(r.Context(), cred.Tier, cred.Fingerprint)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return credential.Credential{}, false
	}

	writeRateLimitHeaders(w, decision)
	if !decision.Allowed {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindRateLimited, "rate limit exceeded"))
		return credential.Credential{}, false
	}

	return cred, true
}

func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.RetryAfter).Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
}

type submitRequest struct {
	ConversationText string        `json:"conversation_text" validate:"required"`
	Options          submitOptions `json:"options"`
}

type submitOptions struct {
	PatternTypes []string `json:"pattern_types" validate:"omitempty,dive,oneof=dialectic themes sentiment"`
	CallbackURL  string   `json:"callback_url" validate:"omitempty,url"`
	Priority     string   `json:"priority" validate:"omitempty,oneof=normal high"`
}

type submitResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	result, err := h.controller.Submit(r.Context(), cred, lifecycle.SubmitPayload{
		ConversationText: req.ConversationText,
		PatternTypes:     req.Options.PatternTypes,
		CallbackURL:      req.Options.CallbackURL,
		Priority:         req.Options.Priority,
	})
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusAccepted, submitResponse{
		ID:        result.ID,
		Status:    string(result.Status),
		ExpiresAt: result.ExpiresAt,
	})
}

type jobResponse struct {
	ID        uuid.UUID     `json:"id"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Result    *job.Result   `json:"result,omitempty"`
	Error     *job.JobError `json:"error,omitempty"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidInput, "invalid job id"))
		return
	}

	view, err := h.controller.Get(r.Context(), cred, id)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, toJobResponse(view))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidInput, "invalid job id"))
		return
	}

	status, err := h.controller.Cancel(r.Context(), cred, id)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	cursorParams, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidInput, err.Error()))
		return
	}

	var status *job.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := job.Status(s)
		status = &st
	}

	page, err := h.controller.List(r.Context(), cred, lifecycle.ListPayload{Status: status, Cursor: cursorParams})
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	items := make([]jobResponse, len(page.Items))
	for i, v := range page.Items {
		items[i] = toJobResponse(v)
	}

	httpserver.Respond(w, http.StatusOK, httpserver.CursorPage[jobResponse]{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func toJobResponse(v lifecycle.JobView) jobResponse {
	return jobResponse{
		ID:        v.ID,
		Status:    string(v.Status),
		CreatedAt: v.CreatedAt,
		ExpiresAt: v.ExpiresAt,
		Result:    v.Result,
		Error:     v.Error,
	}
}
