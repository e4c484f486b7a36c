package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service/impl"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
	"github.com/jrjohn/arcana-plugin-runtime/internal/testutil/mocks"
	apperrors "github.com/jrjohn/arcana-plugin-runtime/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeManager struct {
	plugins  map[string]api.LoadedPlugin
	errs     []api.PluginError
	registry *registry.Registry
	calls    []string
	failWith error
}

func newFakeManager() *fakeManager {
	now := time.Now()
	return &fakeManager{
		plugins: map[string]api.LoadedPlugin{
			"greeter": {ID: "greeter", Manifest: &api.Manifest{Name: "greeter", Version: "1.0.0"}, Status: api.StatusActive, LoadedAt: now, ActivatedAt: &now},
			"audit":   {ID: "audit", Manifest: &api.Manifest{Name: "audit", Version: "0.2.0"}, Status: api.StatusLoaded, LoadedAt: now},
		},
		errs: []api.PluginError{
			api.NewPluginError("broken", api.PhaseLoad, api.KindManifest, errors.New("missing version")),
		},
		registry: registry.New(),
	}
}

func (m *fakeManager) Plugins() []api.LoadedPlugin {
	out := []api.LoadedPlugin{m.plugins["audit"], m.plugins["greeter"]}
	return out
}

func (m *fakeManager) Plugin(id string) (api.LoadedPlugin, bool) {
	p, ok := m.plugins[id]
	return p, ok
}

func (m *fakeManager) GetErrors() []api.PluginError { return m.errs }

func (m *fakeManager) ErrorsFor(id string) []api.PluginError {
	var out []api.PluginError
	for _, pe := range m.errs {
		if pe.PluginID == id {
			out = append(out, pe)
		}
	}
	return out
}

func (m *fakeManager) transition(op, id string, to api.Status) error {
	m.calls = append(m.calls, op+":"+id)
	if m.failWith != nil {
		return m.failWith
	}
	p, ok := m.plugins[id]
	if !ok {
		return apperrors.ErrPluginNotFound.WithMessagef("plugin %s not found", id)
	}
	p.Status = to
	m.plugins[id] = p
	return nil
}

func (m *fakeManager) Activate(_ context.Context, id string) error {
	return m.transition("activate", id, api.StatusActive)
}

func (m *fakeManager) Deactivate(_ context.Context, id string) error {
	return m.transition("deactivate", id, api.StatusInactive)
}

func (m *fakeManager) Unload(_ context.Context, id string) error {
	if err := m.transition("unload", id, api.StatusUnloaded); err != nil {
		return err
	}
	delete(m.plugins, id)
	return nil
}

func (m *fakeManager) Reload(context.Context) error {
	m.calls = append(m.calls, "reload")
	return m.failWith
}

func (m *fakeManager) Registry() registry.Reader { return m.registry }

type testEnv struct {
	router   *gin.Engine
	manager  *fakeManager
	jwt      *security.JWTProvider
	breakers *resilience.CircuitBreakerRegistry
}

func setupEnv(t *testing.T, limiter *resilience.KeyedLimiter) *testEnv {
	t.Helper()

	jwtProvider := security.NewJWTProvider(&config.JWTConfig{
		Secret:              "test-secret-key-for-testing-purposes-only",
		AccessTokenDuration: 15 * time.Minute,
		Issuer:              "test",
	})
	auth := middleware.NewAuthMiddleware(jwtProvider)
	breakers := resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig("hooks"), zaptest.NewLogger(t))
	m := newFakeManager()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	authenticator := security.NewAuthenticator(
		&config.AdminConfig{Username: "admin", PasswordHash: string(hash)},
		security.NewPasswordHasher(bcrypt.MinCost),
		jwtProvider,
	)

	router := gin.New()
	v1 := router.Group("/api/v1")
	NewPluginController(m, breakers, auth, limiter).RegisterRoutes(v1)
	NewAuthController(authenticator, limiter).RegisterRoutes(v1)

	return &testEnv{router: router, manager: m, jwt: jwtProvider, breakers: breakers}
}

func (e *testEnv) token(t *testing.T, role string) string {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken("tester", role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// Plugin Controller Tests
func TestPluginController_List(t *testing.T) {
	env := setupEnv(t, nil)
	token := env.token(t, "viewer")

	w := env.do(http.MethodGet, "/api/v1/plugins", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["data"], 2)

	w = env.do(http.MethodGet, "/api/v1/plugins?status=active", token, nil)
	data := decodeBody(t, w)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "greeter", data[0].(map[string]any)["id"])

	w = env.do(http.MethodGet, "/api/v1/plugins", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPluginController_Get(t *testing.T) {
	env := setupEnv(t, nil)
	token := env.token(t, "viewer")

	w := env.do(http.MethodGet, "/api/v1/plugins/greeter", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "active", data["status"])
	assert.NotNil(t, data["queries"])

	w = env.do(http.MethodGet, "/api/v1/plugins/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CodePluginNotFound, decodeBody(t, w)["code"])
}

func TestPluginController_Errors(t *testing.T) {
	env := setupEnv(t, nil)
	token := env.token(t, "viewer")

	w := env.do(http.MethodGet, "/api/v1/plugins/errors", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["data"], 1)

	w = env.do(http.MethodGet, "/api/v1/plugins/broken/errors", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "manifest", data[0].(map[string]any)["kind"])

	w = env.do(http.MethodGet, "/api/v1/plugins/greeter/errors", token, nil)
	assert.Empty(t, decodeBody(t, w)["data"])
}

func TestPluginController_RegistryAndBreakers(t *testing.T) {
	env := setupEnv(t, nil)
	token := env.token(t, "viewer")

	w := env.do(http.MethodGet, "/api/v1/plugins/registry", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w)["data"], "graphql")

	env.breakers.Get("greeter:pre:user.create:beforeCreate")
	w = env.do(http.MethodGet, "/api/v1/plugins/breakers", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "CLOSED", data[0].(map[string]any)["state"])
}

func TestPluginController_Transitions(t *testing.T) {
	env := setupEnv(t, nil)
	admin := env.token(t, security.RoleAdmin)

	w := env.do(http.MethodPost, "/api/v1/plugins/audit/activate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decodeBody(t, w)["data"].(map[string]any)["status"])

	w = env.do(http.MethodPost, "/api/v1/plugins/audit/deactivate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/plugins/audit", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/api/v1/plugins/reload", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"activate:audit", "deactivate:audit", "unload:audit", "reload"}, env.manager.calls)
}

func TestPluginController_TransitionErrors(t *testing.T) {
	env := setupEnv(t, nil)
	admin := env.token(t, security.RoleAdmin)

	w := env.do(http.MethodPost, "/api/v1/plugins/missing/activate", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.manager.failWith = apperrors.ErrLifecycle.WithMessage("cannot activate plugin greeter while it is active")
	w = env.do(http.MethodPost, "/api/v1/plugins/greeter/activate", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeLifecycleError, decodeBody(t, w)["code"])

	env.manager.failWith = errors.New("disk on fire")
	w = env.do(http.MethodPost, "/api/v1/plugins/reload", admin, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to reload plugins", decodeBody(t, w)["message"])
}

func TestPluginController_MutationsRequireAdmin(t *testing.T) {
	env := setupEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/plugins/audit/activate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/plugins/audit/activate", env.token(t, "viewer"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Empty(t, env.manager.calls)
}

func TestPluginController_Health(t *testing.T) {
	env := setupEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/plugins/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, float64(2), data["total_plugins"])
	assert.Equal(t, float64(1), data["error_count"])

	cb := env.breakers.Get("greeter:post:order.paid:notify")
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("fail") })
	}
	w = env.do(http.MethodGet, "/api/v1/plugins/health", "", nil)
	assert.Equal(t, "degraded", decodeBody(t, w)["data"].(map[string]any)["status"])

	for _, path := range []string{"/api/v1/plugins/health/ready", "/api/v1/plugins/health/live"} {
		assert.Equal(t, http.StatusOK, env.do(http.MethodGet, path, "", nil).Code)
	}
}

func TestPluginController_RateLimited(t *testing.T) {
	limiter := resilience.NewKeyedLimiter(&resilience.RateLimiterConfig{Rate: 1, Period: time.Hour, BurstSize: 1})
	env := setupEnv(t, limiter)
	admin := env.token(t, security.RoleAdmin)

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/plugins/reload", admin, nil).Code)
	w := env.do(http.MethodPost, "/api/v1/plugins/reload", admin, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

// Auth Controller Tests
func TestAuthController_Login(t *testing.T) {
	env := setupEnv(t, nil)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "s3cret"})
	w := env.do(http.MethodPost, "/api/v1/auth/login", "", body)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "Bearer", data["token_type"])
	assert.Equal(t, float64(900), data["expires_in"])

	claims, err := env.jwt.ValidateAccessToken(data["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, security.RoleAdmin, claims.Role)
}

func TestAuthController_LoginFailures(t *testing.T) {
	env := setupEnv(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"wrong password", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"wrong user", `{"username":"root","password":"s3cret"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"admin"}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/v1/auth/login", "", []byte(tt.body))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

// Audit Controller Tests
func TestAuditController(t *testing.T) {
	jwtProvider := security.NewJWTProvider(&config.JWTConfig{Secret: "test", AccessTokenDuration: time.Hour})
	auditDAO := mocks.NewMockPluginAuditDAO()
	svc := impl.NewPluginAuditService(auditDAO, nil, zaptest.NewLogger(t))

	ctx := context.Background()
	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", From: api.StatusDiscovered, To: api.StatusLoaded, At: time.Now()})
	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", From: api.StatusLoaded, To: api.StatusActive, At: time.Now()})
	svc.OnError(ctx, api.NewPluginError("greeter", api.PhaseDispatch, api.KindHook, errors.New("boom")))

	router := gin.New()
	NewAuditController(svc, middleware.NewAuthMiddleware(jwtProvider)).RegisterRoutes(router.Group("/api/v1"))
	token, err := jwtProvider.GenerateAccessToken("tester", "viewer")
	require.NoError(t, err)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		return w
	}

	w := get("/api/v1/audit/plugins")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["data"], 1)

	w = get("/api/v1/audit/plugins/greeter")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decodeBody(t, w)["data"].(map[string]any)["status"])

	assert.Equal(t, http.StatusNotFound, get("/api/v1/audit/plugins/missing").Code)

	w = get("/api/v1/audit/plugins/greeter/transitions?size=1")
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody(t, w)["data"].(map[string]any)
	assert.Len(t, page["items"], 1)
	assert.Equal(t, float64(2), page["page_info"].(map[string]any)["total_items"])
	assert.Equal(t, "active", page["items"].([]any)[0].(map[string]any)["to"])

	w = get("/api/v1/audit/errors")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["data"].(map[string]any)["items"], 1)

	assert.Equal(t, http.StatusBadRequest, get("/api/v1/audit/transitions?size=1000").Code)
}
