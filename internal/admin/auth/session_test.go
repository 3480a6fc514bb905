package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func testSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	return sm
}

func TestNewSessionManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewSessionManager("too-short", time.Hour); err == nil {
		t.Fatal("expected an error for a secret shorter than 32 bytes")
	}
}

func TestIssueAndValidateToken(t *testing.T) {
	sm := testSessionManager(t)
	claims := Claims{Subject: "root", Email: "root@example.com", Method: "local"}

	token, err := sm.IssueToken(claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	got, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if got.Subject != claims.Subject || got.Method != claims.Method {
		t.Errorf("ValidateToken() = %+v, want %+v", got, claims)
	}
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	sm := testSessionManager(t)
	token, err := sm.IssueToken(Claims{Subject: "root", Method: "local"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := sm.ValidateToken(token + "tampered"); err == nil {
		t.Fatal("expected an error for a tampered token")
	}
}

func TestIssueAndValidateCookie(t *testing.T) {
	sm := testSessionManager(t)
	rec := httptest.NewRecorder()
	claims := Claims{Subject: "root", Method: "local"}

	if err := sm.IssueCookie(rec, claims); err != nil {
		t.Fatalf("IssueCookie() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/admin/credentials", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	got, err := sm.ValidateCookie(req)
	if err != nil {
		t.Fatalf("ValidateCookie() error = %v", err)
	}
	if got.Subject != claims.Subject {
		t.Errorf("ValidateCookie() subject = %q, want %q", got.Subject, claims.Subject)
	}
}
