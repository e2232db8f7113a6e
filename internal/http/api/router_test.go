package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/discovery"
	"github.com/modelgate/modelgate/internal/enforce"
	"github.com/modelgate/modelgate/internal/models"
	"github.com/modelgate/modelgate/internal/policy"
)

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	store  *credential.Store
	gate   *enforce.Gatekeeper
	notify *int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	errMigrate := db.AutoMigrate(
		&models.Model{},
		&models.AccessPolicy{},
		&models.Subscription{},
		&models.Credential{},
	)
	if errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	store := credential.NewStore(db, nil)
	gate := enforce.NewGatekeeper()
	enforcer := enforce.NewEnforcer(gate, enforce.NewManager(config.RedisConfig{}, nil, nil))

	notified := 0
	r := gin.New()
	Register(r, Deps{
		DB:          db,
		Credentials: store,
		Discovery:   discovery.NewService(db, gate, config.ProbeConfig{}),
		Enforcer:    enforcer,
		Identity: config.IdentityConfig{
			TrustedHeaders: true,
			AdminGroup:     "modelgate-admins",
		},
		Notify: func() { notified++ },
	})
	return &testEnv{router: r, db: db, store: store, gate: gate, notify: &notified}
}

func (env *testEnv) do(t *testing.T, method, path, user, groups string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-Forwarded-User", user)
		req.Header.Set("X-Forwarded-Groups", groups)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) doBearer(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+bearer)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Issue a key as alice.
	w := env.do(t, http.MethodPost, "/v2/api-keys", "alice", "researchers", gin.H{"name": "laptop"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if created.Key == "" {
		t.Fatalf("issuance response must carry the plaintext once")
	}

	// The key itself authenticates.
	w = env.doBearer(t, http.MethodGet, "/v2/api-keys", created.Key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list with issued key: expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), created.Key) {
		t.Fatalf("listing must never echo the plaintext")
	}

	// Revoke, then the key stops validating.
	w = env.do(t, http.MethodDelete, "/v2/api-keys/"+created.ID, "alice", "researchers", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d: %s", w.Code, w.Body.String())
	}
	w = env.doBearer(t, http.MethodGet, "/v2/api-keys", created.Key, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key must stop authenticating, got %d", w.Code)
	}

	// Revoking again through the owner still succeeds as a no-op.
	w = env.do(t, http.MethodDelete, "/v2/api-keys/"+created.ID, "alice", "researchers", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second revoke: expected 204, got %d", w.Code)
	}
}

func TestTokenIssueAndBulkRevoke(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/tokens", "alice", "researchers", gin.H{"expiration": "30m"})
	if w.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var issued struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &issued); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if issued.Token == "" || issued.ExpiresAt == "" {
		t.Fatalf("token issuance must return the secret and its expiry: %s", w.Body.String())
	}

	// Below the minimum expiration is rejected, an empty body is not.
	w = env.do(t, http.MethodPost, "/v1/tokens", "alice", "researchers", gin.H{"expiration": "1m"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("sub-minimum expiration: expected 400, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/v1/tokens", "alice", "researchers", nil)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"expires_at"`) {
		t.Fatalf("default expiration issue: expected 201 with expiry, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodDelete, "/v1/tokens", "alice", "researchers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke all: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"revoked":2`) {
		t.Fatalf("expected both tokens revoked, got %s", w.Body.String())
	}

	w = env.doBearer(t, http.MethodGet, "/v2/api-keys", issued.Token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token must stop authenticating, got %d", w.Code)
	}
}

func TestIssuanceDurationWireFormats(t *testing.T) {
	env := newTestEnv(t)

	// expiresIn on an API key must produce an expiring key.
	w := env.do(t, http.MethodPost, "/v2/api-keys", "alice", "researchers", gin.H{
		"name": "expiring", "expiresIn": "1h",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ExpiresAt *string `json:"expires_at"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if created.ExpiresAt == nil {
		t.Fatalf("expiresIn was ignored: key issued as permanent: %s", w.Body.String())
	}

	// The snake-case alias and the days suffix both work.
	w = env.do(t, http.MethodPost, "/v2/api-keys", "alice", "researchers", gin.H{
		"name": "expiring-alias", "expires_in": "2d",
	})
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"expires_at":"`) {
		t.Fatalf("expires_in alias: expected 201 with expiry, got %d: %s", w.Code, w.Body.String())
	}

	// A bare number on token issuance means seconds.
	w = env.do(t, http.MethodPost, "/v1/tokens", "alice", "researchers", gin.H{"expiration": 3600})
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"expires_at":"`) {
		t.Fatalf("numeric expiration: expected 201 with expiry, got %d: %s", w.Code, w.Body.String())
	}

	// Negative and garbage durations are rejected.
	w = env.do(t, http.MethodPost, "/v2/api-keys", "alice", "researchers", gin.H{
		"name": "bad", "expiresIn": "-1h",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative expiresIn: expected 400, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/v2/api-keys", "alice", "researchers", gin.H{
		"name": "bad", "expiresIn": "soon",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("garbage expiresIn: expected 400, got %d", w.Code)
	}
}

func TestValidateCallbackResolvesIssuedKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v2/api-keys", "alice", "researchers,premium-users", gin.H{"name": "callback"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Key string `json:"key"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}

	w = env.do(t, http.MethodPost, "/v1/validate", "gateway", "enforcers", gin.H{"key": created.Key})
	if w.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var verdict struct {
		Valid    bool     `json:"valid"`
		Username string   `json:"username"`
		Groups   []string `json:"groups"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &verdict); errDecode != nil {
		t.Fatalf("decode verdict: %v", errDecode)
	}
	if !verdict.Valid || verdict.Username != "alice" || len(verdict.Groups) != 2 {
		t.Fatalf("unexpected verdict: %s", w.Body.String())
	}

	// Any invalid key answers 200 with valid=false and nothing else.
	w = env.do(t, http.MethodPost, "/v1/validate", "gateway", "enforcers", gin.H{"key": "mg-notarealkey"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"valid":false`) {
		t.Fatalf("invalid key: expected 200 valid=false, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "username") {
		t.Fatalf("denial must not leak identity fields: %s", w.Body.String())
	}
}

func TestAdmissionEndpointGatesByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.gate.Swap(policy.DesiredSet{
		AccessRules: []models.GeneratedAccessRule{{
			RuleKey:   policy.RuleKey("research", "llama-3"),
			ModelName: "llama-3",
			Groups:    models.StringList{"researchers"},
			ManagedBy: models.ManagedBy,
		}},
		QuotaRules: []models.GeneratedQuotaRule{{
			RuleKey:     policy.RuleKey("research-quota", "llama-3"),
			ModelName:   "llama-3",
			OwnerGroup:  "researchers",
			LimitValue:  1,
			LimitWindow: "1m",
			ManagedBy:   models.ManagedBy,
		}},
	})

	w := env.do(t, http.MethodGet, "/v1/admission/llama-3", "mallory", "marketing", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong group: expected 403, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/admission/llama-3", "alice", "researchers", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("admitted request: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/admission/llama-3", "alice", "researchers", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted window: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("quota denial must carry Retry-After")
	}
}

func TestAdminDeclarationsRequireGroupAndNotify(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/admin/models", "alice", "researchers", gin.H{
		"name": "llama-3", "ref_kind": "LLMBackend", "ref_name": "llama-backend",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin must be rejected, got %d", w.Code)
	}
	if *env.notify != 0 {
		t.Fatalf("rejected write must not notify")
	}

	w = env.do(t, http.MethodPost, "/v1/admin/models", "root", "modelgate-admins", gin.H{
		"name": "llama-3", "ref_kind": "LLMBackend", "ref_name": "llama-backend",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/v1/admin/access-policies", "root", "modelgate-admins", gin.H{
		"name": "research", "model_refs": []string{"llama-3"}, "allowed_groups": []string{"researchers"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("admin policy create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/v1/admin/subscriptions", "root", "modelgate-admins", gin.H{
		"name": "research-quota", "model_refs": []string{"llama-3"}, "owner_group": "researchers", "limit_value": 10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("admin subscription create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if *env.notify != 3 {
		t.Fatalf("each declaration write must notify, got %d", *env.notify)
	}

	// Duplicate declaration conflicts.
	w = env.do(t, http.MethodPost, "/v1/admin/models", "root", "modelgate-admins", gin.H{
		"name": "llama-3", "ref_kind": "LLMBackend", "ref_name": "llama-backend",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate model: expected 409, got %d", w.Code)
	}

	// Delete notifies too.
	w = env.do(t, http.MethodDelete, "/v1/admin/subscriptions/research-quota", "root", "modelgate-admins", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete subscription: expected 204, got %d", w.Code)
	}
	if *env.notify != 4 {
		t.Fatalf("delete must notify, got %d", *env.notify)
	}
}

func TestAdminPolicyListingFilters(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []gin.H{
		{"name": "research", "model_refs": []string{"llama-3"}, "allowed_groups": []string{"researchers"}},
		{"name": "marketing", "model_refs": []string{"qwen-2"}, "allowed_groups": []string{"marketing"}},
	} {
		w := env.do(t, http.MethodPost, "/v1/admin/access-policies", "root", "modelgate-admins", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("create policy: expected 201, got %d: %s", w.Code, w.Body.String())
		}
	}

	w := env.do(t, http.MethodGet, "/v1/admin/access-policies?group=researchers", "root", "modelgate-admins", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"research"`) || strings.Contains(w.Body.String(), `"marketing"`) {
		t.Fatalf("group filter not applied: %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/admin/access-policies?model=qwen-2", "root", "modelgate-admins", nil)
	if !strings.Contains(w.Body.String(), `"marketing"`) || strings.Contains(w.Body.String(), `"research"`) {
		t.Fatalf("model filter not applied: %s", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
