package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func token(t *testing.T, typ service.TokenType, userID int, perms ...model.Permission) string {
	t.Helper()
	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = string(p)
	}
	claims := service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TokenType:        typ,
		UserID:           userID,
		Permissions:      codes,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/", handlers...)
	return r
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func TestRequireStaffJWT(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: secret})

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantCode   response.ErrCode
	}{
		{"missing token", "", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"garbage token", "Bearer nope", "", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"student token", "Bearer " + token(t, service.TokenTypeStudent, 7), "", http.StatusForbidden, response.ErrStaffAccessOnly},
		{"staff token", "Bearer " + token(t, service.TokenTypeStaff, 3), "", http.StatusNoContent, ""},
		{"staff token in query", "", token(t, service.TokenTypeStaff, 3), http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(RequireStaffJWT(auth))
			target := "/"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if got := errorCode(t, w); got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
			}
		})
	}
}

func TestRequireStudentWSAuth(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: secret})
	r := newEngine(RequireStudentWSAuth(auth))

	req := httptest.NewRequest(http.MethodGet, "/?token="+token(t, service.TokenTypeStudent, 11), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	// the header is not consulted for upgrades
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, service.TokenTypeStudent, 11))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: secret})

	tests := []struct {
		name       string
		perms      []model.Permission
		require    gin.HandlerFunc
		wantStatus int
	}{
		{"granted", []model.Permission{model.PermissionExamsGrade}, RequirePermission(model.PermissionExamsGrade), http.StatusNoContent},
		{"missing", []model.Permission{model.PermissionExamsRead}, RequirePermission(model.PermissionExamsManage), http.StatusForbidden},
		{"any of", []model.Permission{model.PermissionExamsManage}, RequireAnyPermission(model.PermissionExamsRead, model.PermissionExamsManage), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(RequireStaffJWT(auth), tt.require)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token(t, service.TokenTypeStaff, 1, tt.perms...))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	t.Run("without claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		newEngine(RequirePermission(model.PermissionExamsRead)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if got := rl.allow("ip:10.0.0.1"); got != want {
			t.Fatalf("request %d: allow = %v, want %v", i, got, want)
		}
	}
	if !rl.allow("ip:10.0.0.2") {
		t.Error("other visitors must have their own bucket")
	}

	now = now.Add(time.Minute)
	if !rl.allow("ip:10.0.0.1") {
		t.Error("bucket should refill after the interval")
	}

	now = now.Add(4 * time.Minute)
	rl.cleanup()
	if len(rl.visitors) != 0 {
		t.Errorf("stale visitors kept: %d", len(rl.visitors))
	}
}

func TestRateLimiter_KeysByUser(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: secret})
	rl := NewRateLimiter(1, time.Minute)
	r := newEngine(RequireStudentJWT(auth), rl.Middleware())

	do := func(userID int) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, service.TokenTypeStudent, userID))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if got := do(1); got != http.StatusNoContent {
		t.Fatalf("first request = %d", got)
	}
	if got := do(1); got != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", got)
	}
	// same IP, different student
	if got := do(2); got != http.StatusNoContent {
		t.Errorf("other student = %d, want 204", got)
	}
}
