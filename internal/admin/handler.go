// Package admin is the Observatory's credential-issuance surface: login
// (local or SSO) plus issue/list/revoke/relabel for API credentials
// (spec.md §11). It is the "admin path" that §3 says issues credentials,
// kept deliberately thin — no role hierarchy, no tenant scoping.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucidarc/observatory/internal/admin/auth"
	"github.com/lucidarc/observatory/internal/apierr"
	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/httpserver"
)

// Handler serves the /admin surface.
type Handler struct {
	logger      *slog.Logger
	sessions    *auth.SessionManager
	localAdmin  auth.LocalAdmin
	oidc        *auth.OIDCAuthenticator // nil when SSO is not configured
	credentials *credential.Store
	resolver    *credential.Resolver
}

// NewHandler creates an admin Handler. oidc may be nil if SSO login isn't
// configured, in which case only local login is available.
func NewHandler(logger *slog.Logger, sessions *auth.SessionManager, localAdmin auth.LocalAdmin, oidc *auth.OIDCAuthenticator, credentials *credential.Store, resolver *credential.Resolver) *Handler {
	return &Handler{
		logger:      logger,
		sessions:    sessions,
		localAdmin:  localAdmin,
		oidc:        oidc,
		credentials: credentials,
		resolver:    resolver,
	}
}

// Routes returns a chi.Router with the admin login and credential-management
// endpoints mounted under /admin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/login", h.handleLocalLogin)
	if h.oidc != nil {
		r.Get("/login/sso", h.handleSSOStart)
		r.Get("/login/sso/callback", h.handleSSOCallback)
	}
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSession)
		r.Post("/credentials", h.handleIssueCredential)
		r.Get("/credentials", h.handleListCredentials)
		r.Delete("/credentials/{id}", h.handleRevokeCredential)
		r.Patch("/credentials/{id}", h.handleRelabelCredential)
	})

	return r
}

// requireSession gates the credential-management routes on a valid admin
// session cookie.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.sessions.ValidateCookie(r); err != nil {
			httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindUnauthorized, "admin session required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Status string `json:"status"`
}

func (h *Handler) handleLocalLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	if err := h.localAdmin.Authenticate(req.Username, req.Password); err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidCredential, "invalid username or password"))
		return
	}

	if err := h.sessions.IssueCookie(w, auth.Claims{Subject: req.Username, Method: "local"}); err != nil {
		h.logger.Error("admin login: issuing session cookie", "error", err)
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	httpserver.Respond(w, http.StatusOK, loginResponse{Status: "ok"})
}

// ssoStateCookie carries the OAuth2 state parameter across the redirect.
const ssoStateCookie = "observatory_admin_sso_state"

func (h *Handler) handleSSOStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ssoStateCookie,
		Value:    state,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})
	http.Redirect(w, r, h.oidc.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(ssoStateCookie)
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindUnauthorized, "invalid SSO state"))
		return
	}

	claims, err := h.oidc.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn("admin SSO login failed", "error", err)
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindUnauthorized, "SSO login failed"))
		return
	}

	if err := h.sessions.IssueCookie(w, auth.Claims{Subject: claims.Subject, Email: claims.Email, Method: "oidc"}); err != nil {
		h.logger.Error("admin SSO login: issuing session cookie", "error", err)
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	httpserver.Respond(w, http.StatusOK, loginResponse{Status: "ok"})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	httpserver.Respond(w, http.StatusOK, loginResponse{Status: "ok"})
}

type issueCredentialRequest struct {
	Tier      string  `json:"tier" validate:"required,oneof=api_key partner"`
	Label     string  `json:"label" validate:"required,min=1,max=200"`
	ExpiresAt *string `json:"expires_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type issueCredentialResponse struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Tier      string    `json:"tier"`
	Label     string    `json:"label"`
	ExpiresAt *string   `json:"expires_at,omitempty"`
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidInput, "expires_at must be RFC3339"))
			return
		}
		expiresAt = &parsed
	}

	raw, rec, err := h.credentials.Issue(r.Context(), credential.Tier(req.Tier), req.Label, expiresAt)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	resp := issueCredentialResponse{
		ID:    rec.ID,
		Key:   raw,
		Tier:  string(rec.Tier),
		Label: rec.Label,
	}
	if rec.ExpiresAt != nil {
		s := rec.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	httpserver.Respond(w, http.StatusCreated, resp)
}

type credentialResponse struct {
	ID         uuid.UUID `json:"id"`
	Tier       string    `json:"tier"`
	Label      string    `json:"label"`
	Revoked    bool      `json:"revoked"`
	ExpiresAt  *string   `json:"expires_at,omitempty"`
	LastUsedAt *string   `json:"last_used_at,omitempty"`
}

func (h *Handler) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	records, err := h.credentials.List(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	out := make([]credentialResponse, len(records))
	for i, rec := range records {
		out[i] = credentialResponse{ID: rec.ID, Tier: string(rec.Tier), Label: rec.Label, Revoked: rec.Revoked}
		if rec.ExpiresAt != nil {
			s := rec.ExpiresAt.Format(time.RFC3339)
			out[i].ExpiresAt = &s
		}
		if rec.LastUsedAt != nil {
			s := rec.LastUsedAt.Format("2006-01-02T15:04:05Z07:00")
			out[i].LastUsedAt = &s
		}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"credentials": out})
}

func (h *Handler) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidInput, "invalid credential id"))
		return
	}

	keyHash, err := h.credentials.Revoke(r.Context(), id)
	if err != nil {
		if err == credential.ErrNotFound {
			httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindNotFound, "credential not found"))
			return
		}
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	h.resolver.InvalidateHash(keyHash)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type relabelCredentialRequest struct {
	Label string `json:"label" validate:"required,min=1,max=200"`
}

func (h *Handler) handleRelabelCredential(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindInvalidInput, "invalid credential id"))
		return
	}

	var req relabelCredentialRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	if err := h.credentials.Relabel(r.Context(), id, req.Label); err != nil {
		if err == credential.ErrNotFound {
			httpserver.RespondAPIError(w, h.logger, apierr.New(apierr.KindNotFound, "credential not found"))
			return
		}
		httpserver.RespondAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
