package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &Service{DB: db, Now: func() time.Time { return now }}, &now
}

func TestCreateAdminValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.CreateAdmin(ctx, "not-an-email", "longenoughpassword"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for email, got %v", err)
	}
	if _, err := s.CreateAdmin(ctx, "a@b.co", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for password, got %v", err)
	}
	if _, err := s.CreateAdmin(ctx, " Admin@Example.com ", "longenoughpassword"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateAdmin(ctx, "admin@example.com", "longenoughpassword"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	s, now := newTestService(t)
	ctx := context.Background()
	if _, err := s.CreateAdmin(ctx, "admin@example.com", "correct horse battery"); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 1; i < MaxFailedLogins; i++ {
		if _, err := s.Login(ctx, "admin@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := s.Login(ctx, "admin@example.com", "wrong"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock on attempt %d, got %v", MaxFailedLogins, err)
	}
	if _, err := s.Login(ctx, "admin@example.com", "correct horse battery"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected locked account to refuse the right password, got %v", err)
	}

	*now = now.Add(LockoutDuration + time.Second)
	u, err := s.Login(ctx, "ADMIN@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login after lockout: %v", err)
	}
	if u.FailedAttempts != 0 || u.LastLoginAt == nil {
		t.Fatalf("unexpected user after login: %+v", u)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Login(context.Background(), "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("secret")
	tok, err := j.Sign(42)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := j.Verify(tok)
	if err != nil || id != 42 {
		t.Fatalf("verify: %d %v", id, err)
	}
	if _, err := NewJWT("other").Verify(tok); err == nil {
		t.Fatalf("expected verification with another secret to fail")
	}
}

func TestRequireAuth(t *testing.T) {
	j := NewJWT("secret")
	h := RequireAuth(j)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		_, _ = fmt.Fprintf(w, "%d", id)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	tok, _ := j.Sign(7)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "7" {
		t.Fatalf("expected 200 with user id, got %d %q", rec.Code, rec.Body.String())
	}
}
