package admin

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lucidarc/observatory/internal/admin/auth"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	sessions, err := auth.NewSessionManager("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	hash, err := auth.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return NewHandler(slog.Default(), sessions, auth.LocalAdmin{Username: "root", PasswordHash: hash}, nil, nil, nil)
}

func TestHandleLocalLoginSucceedsAndSetsCookie(t *testing.T) {
	h := testHandler(t)
	body, _ := json.Marshal(loginRequest{Username: "root", Password: "correct horse battery staple"})

	req := httptest.NewRequest("POST", "/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleLocalLogin(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.CookieName {
		t.Fatalf("expected a %s cookie to be set, got %v", auth.CookieName, cookies)
	}
}

func TestHandleLocalLoginRejectsWrongPassword(t *testing.T) {
	h := testHandler(t)
	body, _ := json.Marshal(loginRequest{Username: "root", Password: "wrong"})

	req := httptest.NewRequest("POST", "/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleLocalLogin(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireSessionRejectsMissingCookie(t *testing.T) {
	h := testHandler(t)
	called := false
	wrapped := h.requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest("GET", "/admin/credentials", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if called {
		t.Error("expected the wrapped handler not to run without a session cookie")
	}
	if rec.Code != 403 {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
