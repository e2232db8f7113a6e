package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/models"
)

const testSecret = "unit-test-secret"

func signTestJWT(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestParseJWTRoundTrip(t *testing.T) {
	token := signTestJWT(t, Claims{
		Username: "alice",
		Groups:   []string{"researchers"},
		Tier:     "standard",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	id, err := ParseJWT(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Username != "alice" || id.Tier != "standard" || len(id.Groups) != 1 {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseJWTRejectsBadTokens(t *testing.T) {
	expired := signTestJWT(t, Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	cases := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", signTestJWT(t, Claims{Username: "alice"}), "other-secret"},
		{"expired", expired, testSecret},
		{"garbage", "not.a.jwt", testSecret},
		{"empty secret", signTestJWT(t, Claims{Username: "alice"}), ""},
	}
	for _, tc := range cases {
		if _, err := ParseJWT(tc.token, tc.secret); err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func newMiddlewareRouter(t *testing.T, cfg config.IdentityConfig) (*gin.Engine, *credential.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.Credential{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	store := credential.NewStore(db, nil)

	r := gin.New()
	r.Use(Middleware(store, cfg))
	r.GET("/whoami", func(c *gin.Context) {
		id, _ := FromGinContext(c)
		c.JSON(http.StatusOK, gin.H{"username": id.Username, "source": id.Source})
	})
	return r, store
}

func TestMiddlewareResolvesCredentialBearer(t *testing.T) {
	r, store := newMiddlewareRouter(t, config.IdentityConfig{JWTSecret: testSecret})
	issued, errIssue := store.Issue(context.Background(), credential.IssueParams{
		Username: "alice",
		Kind:     models.CredentialKindAPIKey,
		Name:     "laptop",
	})
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Plaintext)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"username":"alice"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestMiddlewareResolvesJWTBearer(t *testing.T) {
	r, _ := newMiddlewareRouter(t, config.IdentityConfig{JWTSecret: testSecret})
	token := signTestJWT(t, Claims{
		Username: "bob",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"source":"jwt"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestMiddlewareRejectsMissingAndBadBearers(t *testing.T) {
	r, _ := newMiddlewareRouter(t, config.IdentityConfig{JWTSecret: testSecret})

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer mg-unknown", "Bearer not.a.jwt"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestMiddlewareTrustedHeaders(t *testing.T) {
	// Disabled by default.
	r, _ := newMiddlewareRouter(t, config.IdentityConfig{JWTSecret: testSecret})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Forwarded-User", "eve")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("forwarded headers must be ignored unless enabled, got %d", w.Code)
	}

	r, _ = newMiddlewareRouter(t, config.IdentityConfig{JWTSecret: testSecret, TrustedHeaders: true})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Forwarded-User", "carol")
	req.Header.Set("X-Forwarded-Groups", "researchers, staff")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"username":"carol"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
