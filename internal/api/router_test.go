package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/silveridc/verigate/internal/api"
	"github.com/silveridc/verigate/internal/api/handler"
	mw "github.com/silveridc/verigate/internal/api/middleware"
	"github.com/silveridc/verigate/internal/audit"
	"github.com/silveridc/verigate/internal/captcha"
	"github.com/silveridc/verigate/internal/config"
	"github.com/silveridc/verigate/internal/keys"
	"github.com/silveridc/verigate/internal/metrics"
	"github.com/silveridc/verigate/internal/settings"
	"github.com/silveridc/verigate/internal/store"
	"github.com/silveridc/verigate/internal/ticket"
	"github.com/silveridc/verigate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- in-memory store covering the full interface ---

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	keys     []*models.ApiKey
	tickets  map[string]*models.Ticket
	settings map[string]string
	logs     []*models.CallLog
}

func newMemStore() *memStore {
	return &memStore{
		tickets:  make(map[string]*models.Ticket),
		settings: make(map[string]string),
	}
}

func (m *memStore) Ping(_ context.Context) error { return nil }

func (m *memStore) ListActiveKeys(_ context.Context) ([]*models.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*models.ApiKey
	for _, k := range m.keys {
		if k.Active() {
			active = append(active, k)
		}
	}
	return active, nil
}

func (m *memStore) ListKeys(_ context.Context) ([]*models.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ApiKey(nil), m.keys...), nil
}

func (m *memStore) GetKey(_ context.Context, id int64) (*models.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) CountKeys(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.keys)), nil
}

func (m *memStore) CreateKey(_ context.Context, secret, ipWhitelist string) (*models.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Secret == secret {
			return nil, store.ErrDuplicateKey
		}
	}
	m.nextID++
	key := &models.ApiKey{
		ID:          m.nextID,
		Secret:      secret,
		Status:      models.KeyStatusActive,
		IPWhitelist: ipWhitelist,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.keys = append(m.keys, key)
	return key, nil
}

func (m *memStore) UpdateKeySecret(_ context.Context, id int64, secret string) (*models.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			k.Secret = secret
			k.UpdatedAt = time.Now()
			return k, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpdateKeyStatus(_ context.Context, id int64, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			k.Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) DeleteKey(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.keys {
		if k.ID == id {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) TouchKeyLastAction(_ context.Context, _ int64) error { return nil }

func (m *memStore) CreateTicket(_ context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.Token] = &cp
	return nil
}

func (m *memStore) GetTicketByToken(_ context.Context, token string, now time.Time) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[token]
	if !ok || !t.ExpireAt.After(now) {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) FindTicketByToken(_ context.Context, token string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) MarkTicketVerified(_ context.Context, token, code string, now time.Time) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[token]
	if !ok || t.State != models.TicketPending || !t.ExpireAt.After(now) {
		return nil, store.ErrNotFound
	}
	t.State = models.TicketVerified
	t.Code = code
	at := now
	t.VerifiedAt = &at
	cp := *t
	return &cp, nil
}

func (m *memStore) ConsumeTicket(_ context.Context, groupID, code string, now time.Time) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.GroupID == groupID && t.Code == code && t.State == models.TicketVerified && t.ExpireAt.After(now) {
			t.State = models.TicketUsed
			at := now
			t.UsedAt = &at
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) FindTicketByCode(_ context.Context, groupID, code string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.GroupID == groupID && t.Code == code {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) DeleteExpiredTickets(_ context.Context, now time.Time, ownerKeyID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for token, t := range m.tickets {
		if !t.ExpireAt.After(now) && (ownerKeyID == 0 || t.OwnerKeyID == ownerKeyID) {
			delete(m.tickets, token)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) GetSetting(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[name]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) UpsertSetting(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[name] = value
	return nil
}

func (m *memStore) ListSettings(_ context.Context) ([]*models.Setting, error) { return nil, nil }

func (m *memStore) CreateCallLog(_ context.Context, log *models.CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

// --- in-memory cache ---

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	counts  map[string]int64
	denied  map[string]bool
}

func newMemCache() *memCache {
	return &memCache{
		entries: make(map[string][]byte),
		counts:  make(map[string]int64),
		denied:  make(map[string]bool),
	}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCache) Deny(_ context.Context, credential string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied[credential] = true
	return nil
}

func (c *memCache) IsDenied(_ context.Context, credential string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.denied[credential], nil
}

// --- fake verifier ---

type passVerifier struct{ passed bool }

func (v passVerifier) Verify(_ context.Context, _ captcha.Proof) (bool, error) {
	return v.passed, nil
}

// --- fixture ---

const (
	defaultSecret = "default-key-secret-1234567890"
	tenantSecret  = "tenant-key-secret-1234567890"
)

type fixture struct {
	router http.Handler
	store  *memStore
	cache  *memCache
}

func newFixture(t *testing.T, verifier captcha.Verifier) *fixture {
	t.Helper()

	ms := newMemStore()
	mc := newMemCache()

	keySvc := keys.NewService(ms)
	require.NoError(t, keySvc.Bootstrap(context.Background(), []string{defaultSecret, tenantSecret}))

	captchaCfg := config.CaptchaConfig{ID: "cap-id", Key: "cap-key", APIServer: "https://example.com"}
	verifyCfg := config.VerifyConfig{CodeTTL: 5 * time.Minute, TokenSalt: "test-salt"}
	settingsSvc := settings.NewService(ms, mc, captchaCfg, verifyCfg)

	ticketSvc := ticket.NewService(ms, verifier, settingsSvc)
	m := metrics.New()

	deps := api.Dependencies{
		Auth:      mw.NewAuth(keySvc),
		AdminAuth: mw.NewAdminAuth(keySvc, mc),
		RateLimit: mw.NewRateLimit(mc, 1000),
		Audit:     audit.NewRecorder(ms),
		Metrics:   m,

		Verify: handler.NewVerifyHandler(ticketSvc, keySvc, m, ""),
		Admin:  handler.NewAdminHandler(keySvc, settingsSvc, mc),

		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}

	return &fixture{router: api.NewRouter(deps), store: ms, cache: mc}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, payload any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var parsed map[string]any
	if len(w.Body.Bytes()) > 0 && w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func data(body map[string]any) map[string]any {
	d, _ := body["data"].(map[string]any)
	return d
}

// ========================================
// Full verification flow
// ========================================

func TestFlow_CreateStatusCallbackCheck(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	// Create a ticket.
	w, body := f.do(t, "POST", "/api/v1/verify/create", tenantSecret,
		map[string]string{"group_id": "1001", "user_id": "42"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	token := data(body)["ticket"].(string)
	assert.NotEmpty(t, token)
	assert.Contains(t, data(body)["url"], "/v/"+token)
	assert.Greater(t, data(body)["expire"].(float64), float64(0))

	// Page poll: pending, captcha id exposed, no code.
	w, body = f.do(t, "GET", "/api/v1/verify/"+token+"/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, data(body)["verified"])
	assert.Equal(t, "cap-id", data(body)["captcha_id"])
	assert.NotContains(t, data(body), "code")

	// Provider callback.
	w, body = f.do(t, "POST", "/api/v1/verify/callback", "", map[string]string{
		"ticket": token, "lot_number": "lot", "captcha_output": "out",
		"pass_token": "pass", "gen_time": "1700000000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	code := data(body)["code"].(string)
	assert.Len(t, code, 6)

	// Status now exposes the code.
	w, body = f.do(t, "GET", "/api/v1/verify/"+token+"/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data(body)["verified"])
	assert.Equal(t, code, data(body)["code"])

	// Consume the code.
	w, body = f.do(t, "POST", "/api/v1/verify/check", tenantSecret,
		map[string]string{"group_id": "1001", "code": code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "42", data(body)["user_id"])
	assert.Equal(t, "1001", data(body)["group_id"])

	// A second consume fails with a diagnostic reason.
	w, body = f.do(t, "POST", "/api/v1/verify/check", tenantSecret,
		map[string]string{"group_id": "1001", "code": code})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "code invalid", body["msg"])
	assert.Equal(t, "already_used", data(body)["reason"])
}

func TestFlow_CallbackRedeliveryReturnsSameCode(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	_, body := f.do(t, "POST", "/api/v1/verify/create", tenantSecret,
		map[string]string{"group_id": "1001", "user_id": "42"})
	token := data(body)["ticket"].(string)

	callback := map[string]string{
		"ticket": token, "lot_number": "lot", "captcha_output": "out",
		"pass_token": "pass", "gen_time": "1700000000",
	}

	_, first := f.do(t, "POST", "/api/v1/verify/callback", "", callback)
	_, second := f.do(t, "POST", "/api/v1/verify/callback", "", callback)

	assert.Equal(t, data(first)["code"], data(second)["code"])
}

func TestFlow_RejectedChallenge(t *testing.T) {
	f := newFixture(t, passVerifier{passed: false})

	_, body := f.do(t, "POST", "/api/v1/verify/create", tenantSecret,
		map[string]string{"group_id": "1001", "user_id": "42"})
	token := data(body)["ticket"].(string)

	w, _ := f.do(t, "POST", "/api/v1/verify/callback", "", map[string]string{
		"ticket": token, "lot_number": "lot", "captcha_output": "out",
		"pass_token": "pass", "gen_time": "1700000000",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Still pending, still no code via status.
	_, body = f.do(t, "GET", "/api/v1/verify/"+token+"/status", "", nil)
	assert.Equal(t, false, data(body)["verified"])
}

func TestFlow_CallbackMissingProofFields(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "POST", "/api/v1/verify/callback", "", map[string]string{"ticket": "tok"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ========================================
// Auth boundaries
// ========================================

func TestRouter_CreateRequiresAuth(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "POST", "/api/v1/verify/create", "",
		map[string]string{"group_id": "1001", "user_id": "42"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_ResetKeyRequiresDefaultKey(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "POST", "/api/v1/verify/reset_key", tenantSecret, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(t, "POST", "/api/v1/verify/reset_key", defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), data(body)["id"])
	assert.NotEqual(t, defaultSecret, data(body)["value"])
}

func TestRouter_StatusEndpointIsPublic(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "GET", "/api/v1/verify/unknown-token/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ChallengePageServed(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "GET", "/v/some-token", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "GET", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_MetricsExposed(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "verigate")
}

// ========================================
// Cleanup endpoint
// ========================================

func TestRouter_CleanScopedByKey(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	// Seed an expired ticket owned by the default key (id 1).
	f.store.tickets["expired-token"] = &models.Ticket{
		Token: "expired-token", OwnerKeyID: 1, GroupID: "1001", UserID: "42",
		State: models.TicketPending, CreatedAt: time.Now().Add(-time.Hour),
		ExpireAt: time.Now().Add(-30 * time.Minute),
	}

	// Tenant key (id 2) owns nothing expired.
	w, body := f.do(t, "POST", "/api/v1/verify/clean", tenantSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), data(body)["deleted"])

	// Default key purges everything.
	w, body = f.do(t, "POST", "/api/v1/verify/clean", defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), data(body)["deleted"])
}

// ========================================
// Admin surface
// ========================================

func TestAdmin_LoginAndKeyLifecycle(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	// Login with the default key.
	w, body := f.do(t, "POST", "/admin/v1/auth/login", "", map[string]string{"api_key": defaultSecret})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, data(body)["is_default"])

	// Bad login.
	w, _ = f.do(t, "POST", "/admin/v1/auth/login", "", map[string]string{"api_key": "nope-nope-nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Create a key.
	w, body = f.do(t, "POST", "/admin/v1/keys", defaultSecret, map[string]string{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newID := int64(data(body)["id"].(float64))
	newSecret := data(body)["value"].(string)
	assert.Len(t, newSecret, 64)

	// List shows three keys with masked secrets.
	w, body = f.do(t, "GET", "/admin/v1/keys", defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), data(body)["count"])
	items := data(body)["items"].([]any)
	for _, item := range items {
		masked := item.(map[string]any)["masked"].(string)
		assert.NotEqual(t, defaultSecret, masked)
		assert.NotEqual(t, newSecret, masked)
	}

	// Disable then re-enable.
	w, _ = f.do(t, "POST", fmt.Sprintf("/admin/v1/keys/%d/status", newID), defaultSecret,
		map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, "POST", "/api/v1/verify/create", newSecret,
		map[string]string{"group_id": "1001", "user_id": "42"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "disabled key must stop working")

	w, _ = f.do(t, "POST", fmt.Sprintf("/admin/v1/keys/%d/status", newID), defaultSecret,
		map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, w.Code)

	// Rotate.
	w, body = f.do(t, "POST", fmt.Sprintf("/admin/v1/keys/%d/reset", newID), defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rotated := data(body)["value"].(string)
	assert.NotEqual(t, newSecret, rotated)

	// Delete. The default key refuses deletion.
	w, _ = f.do(t, "DELETE", fmt.Sprintf("/admin/v1/keys/%d", newID), defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, "DELETE", "/admin/v1/keys/1", defaultSecret, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_LogoutDenylistsCredential(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "POST", "/admin/v1/auth/logout", defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Admin surface rejects the logged-out credential.
	w, _ = f.do(t, "GET", "/admin/v1/keys", defaultSecret, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The tenant surface is unaffected.
	w, _ = f.do(t, "POST", "/api/v1/verify/create", defaultSecret,
		map[string]string{"group_id": "1001", "user_id": "42"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_SettingsRoundTrip(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "PUT", "/admin/v1/settings", defaultSecret,
		map[string]string{"name": "CODE_EXPIRE", "value": "120"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := f.do(t, "GET", "/admin/v1/settings", defaultSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	found := false
	for _, item := range data(body)["items"].([]any) {
		v := item.(map[string]any)
		if v["name"] == "CODE_EXPIRE" {
			found = true
			assert.Equal(t, "120", v["value"])
		}
	}
	assert.True(t, found)

	// Tickets created afterwards carry the shorter TTL.
	_, body = f.do(t, "POST", "/api/v1/verify/create", tenantSecret,
		map[string]string{"group_id": "1001", "user_id": "42"})
	expire := data(body)["expire"].(float64)
	assert.InDelta(t, 120, expire, 2)
}

func TestAdmin_SaveUnknownSettingRejected(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "PUT", "/admin/v1/settings", defaultSecret,
		map[string]string{"name": "NOT_A_SETTING", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RequiresAuth(t *testing.T) {
	f := newFixture(t, passVerifier{passed: true})

	w, _ := f.do(t, "GET", "/admin/v1/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
