package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/config"
	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, cfg config.AuthConfig, subject string, roles []string) string {
	t.Helper()
	now := time.Now()
	claims := struct {
		Roles []string `json:"roles"`
		jwt.RegisteredClaims
	}{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tokenStr
}

func TestJWTAuthAndRBAC(t *testing.T) {
	authCfg := config.AuthConfig{
		Enabled:     true,
		JWTSecret:   "test-secret",
		Issuer:      "lotlinkdrive",
		Audience:    "lotlinkdrive",
		PublicPaths: []string{"/healthz"},
		RBAC: map[string][]string{
			"/api/v1/runs": {"admin"},
		},
	}

	var gotSubject string
	h := JWTAuth(authCfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ai, ok := AuthFromContext(r.Context()); ok {
			gotSubject = ai.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	// 无 token 拒绝
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dealers/d1/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// 公共路径放行
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for public path, got %d", rec.Code)
	}

	// 合法 token 放行并注入 ctx
	token := signTestToken(t, authCfg, "u-1", []string{"staff"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dealers/d1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if gotSubject != "u-1" {
		t.Fatalf("expected subject u-1 in ctx, got %q", gotSubject)
	}

	// RBAC：缺少 admin 角色的 token 访问 /api/v1/runs 前缀被拒
	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs/r1/rollback", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing role, got %d", rec.Code)
	}

	adminToken := signTestToken(t, authCfg, "u-2", []string{"admin"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs/r1/rollback", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d", rec.Code)
	}
}

func TestJWTAuthRejectsWrongSecret(t *testing.T) {
	authCfg := config.AuthConfig{Enabled: true, JWTSecret: "right-secret"}
	badCfg := config.AuthConfig{Enabled: true, JWTSecret: "wrong-secret"}

	token := signTestToken(t, badCfg, "u-1", nil)
	h := JWTAuth(authCfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dealers/d1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestChainOrderAndRecovery(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = Recovery(nil)(h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected middleware order: %v", order)
	}
}
