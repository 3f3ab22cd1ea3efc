package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/silveridc/verigate/internal/api/middleware"
	"github.com/silveridc/verigate/internal/api/response"
	"github.com/silveridc/verigate/internal/cache"
	"github.com/silveridc/verigate/internal/keys"
	"github.com/silveridc/verigate/internal/settings"
)

const logoutDenyTTL = 2 * time.Hour

// AdminHandler serves the privileged management surface: key CRUD, dynamic
// settings, and session login/logout.
type AdminHandler struct {
	keys     *keys.Service
	settings *settings.Service
	cache    cache.Cache
}

// NewAdminHandler creates the admin handler set.
func NewAdminHandler(k *keys.Service, s *settings.Service, c cache.Cache) *AdminHandler {
	return &AdminHandler{keys: k, settings: s, cache: c}
}

// Login validates a presented key for the management console. The caller
// keeps using the same secret as a Bearer credential afterwards.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApiKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ApiKey == "" {
		response.Fail(w, http.StatusBadRequest, "api_key is required")
		return
	}

	matched, err := h.keys.Match(r.Context(), req.ApiKey)
	if err != nil {
		failFromError(w, err)
		return
	}
	if matched == nil || !matched.Active() {
		response.Fail(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	isDefault, err := h.keys.IsDefault(r.Context(), matched.ID)
	if err != nil {
		failFromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"id":         matched.ID,
		"masked":     keys.MaskSecret(matched.Secret),
		"is_default": isDefault,
	})
}

// Logout denylists the authenticated credential until the entry expires.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	secret, ok := mw.GetSecret(r)
	if !ok {
		response.Fail(w, http.StatusUnauthorized, "missing authentication context")
		return
	}
	if err := h.cache.Deny(r.Context(), secret, logoutDenyTTL); err != nil {
		response.Fail(w, http.StatusInternalServerError, "logout failed")
		return
	}
	response.OK(w, nil)
}

// ListKeys returns every key with masked secrets.
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	views, err := h.keys.List(r.Context())
	if err != nil {
		failFromError(w, err)
		return
	}
	response.OK(w, map[string]any{"items": views, "count": len(views)})
}

// CreateKey inserts a new key. The raw secret is returned exactly once.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value       string `json:"value"`
		IPWhitelist string `json:"ip_whitelist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	key, err := h.keys.Create(r.Context(), req.Value, req.IPWhitelist)
	if err != nil {
		failFromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"id":         key.ID,
		"value":      key.Secret,
		"masked":     keys.MaskSecret(key.Secret),
		"created_at": key.CreatedAt,
	})
}

// ResetKey rotates the secret for the given id.
func (h *AdminHandler) ResetKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	key, err := h.keys.Reset(r.Context(), id)
	if err != nil {
		failFromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"id":         key.ID,
		"value":      key.Secret,
		"masked":     keys.MaskSecret(key.Secret),
		"updated_at": key.UpdatedAt,
	})
}

// SetKeyStatus enables or disables a key.
func (h *AdminHandler) SetKeyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.keys.SetStatus(r.Context(), id, req.Active); err != nil {
		failFromError(w, err)
		return
	}
	response.OK(w, nil)
}

// DeleteKey removes a key; the default key is refused.
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.keys.Delete(r.Context(), id); err != nil {
		failFromError(w, err)
		return
	}
	response.OK(w, nil)
}

// ListSettings returns the whitelisted settings with secrets masked.
func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{"items": h.settings.List(r.Context())})
}

// SaveSetting writes one whitelisted setting.
func (h *AdminHandler) SaveSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		response.Fail(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.settings.Save(r.Context(), req.Name, req.Value); err != nil {
		failFromError(w, err)
		return
	}
	response.OK(w, nil)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
