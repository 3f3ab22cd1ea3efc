package keys

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/silveridc/verigate/internal/store"
	"github.com/silveridc/verigate/pkg/models"
)

// Sentinel errors for key management failures.
var (
	ErrNotInitialized     = errors.New("no active api keys configured")
	ErrKeyTooShort        = errors.New("api key secret must be at least 16 characters")
	ErrDefaultKeyDeletion = errors.New("default api key cannot be deleted")
)

const (
	minSecretLength      = 16
	generatedSecretBytes = 32
)

// Service owns the API key set. It keeps a process-wide cache of the active
// keys so that every request does not hit the database; any write to the key
// set invalidates the cache.
type Service struct {
	store store.Store

	mu     sync.RWMutex
	active []*models.ApiKey
	loaded bool
}

// NewService creates a key service backed by the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Bootstrap performs the one-time legacy migration: when the key table is
// empty and legacy secrets are configured, they are inserted as active keys.
// Run once at process startup, never lazily.
func (s *Service) Bootstrap(ctx context.Context, legacy []string) error {
	if len(legacy) == 0 {
		return nil
	}

	count, err := s.store.CountKeys(ctx)
	if err != nil {
		return fmt.Errorf("count keys: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, secret := range legacy {
		if _, err := s.store.CreateKey(ctx, secret, ""); err != nil {
			return fmt.Errorf("migrate legacy key: %w", err)
		}
	}
	s.Invalidate()
	return nil
}

// ListActive returns all active keys, from cache when warm. Returns
// ErrNotInitialized when no active key exists: the gateway refuses to
// operate without at least one.
func (s *Service) ListActive(ctx context.Context) ([]*models.ApiKey, error) {
	s.mu.RLock()
	if s.loaded {
		keys := s.active
		s.mu.RUnlock()
		if len(keys) == 0 {
			return nil, ErrNotInitialized
		}
		return keys, nil
	}
	s.mu.RUnlock()

	keys, err := s.store.ListActiveKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active keys: %w", err)
	}

	s.mu.Lock()
	s.active = keys
	s.loaded = true
	s.mu.Unlock()

	if len(keys) == 0 {
		return nil, ErrNotInitialized
	}
	return keys, nil
}

// Invalidate drops the cached active set. Called after every write to the
// key table.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.active = nil
	s.loaded = false
	s.mu.Unlock()
}

// Match compares the presented secret against every active key using a
// constant-time comparison and never breaks out of the scan early, so the
// response time does not reveal which (if any) key matched. O(n) over the
// key set; key sets are small. Returns nil when nothing matches.
func (s *Service) Match(ctx context.Context, secret string) (*models.ApiKey, error) {
	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	presented := []byte(secret)
	var matched *models.ApiKey
	for _, k := range active {
		if subtle.ConstantTimeCompare([]byte(k.Secret), presented) == 1 && matched == nil {
			matched = k
		}
	}
	return matched, nil
}

// IsDefault reports whether id is the default key: the active key with the
// smallest id. Ids come from a monotonic sequence, so ties cannot occur and
// exactly one active key is the default at any time.
func (s *Service) IsDefault(ctx context.Context, id int64) (bool, error) {
	active, err := s.ListActive(ctx)
	if err != nil {
		return false, err
	}

	min := active[0].ID
	for _, k := range active[1:] {
		if k.ID < min {
			min = k.ID
		}
	}
	return id == min, nil
}

// Create inserts a new active key. An empty secret means "generate one":
// 32 cryptographically random bytes, hex encoded. Explicit secrets shorter
// than 16 characters are rejected.
func (s *Service) Create(ctx context.Context, secret, ipWhitelist string) (*models.ApiKey, error) {
	if secret == "" {
		generated, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	} else if len(secret) < minSecretLength {
		return nil, ErrKeyTooShort
	}

	key, err := s.store.CreateKey(ctx, secret, ipWhitelist)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return key, nil
}

// Reset replaces the key's secret with a freshly generated one. The id is
// stable across resets.
func (s *Service) Reset(ctx context.Context, id int64) (*models.ApiKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	key, err := s.store.UpdateKeySecret(ctx, id, secret)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return key, nil
}

// Delete removes a key. The default key can never be deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	isDefault, err := s.IsDefault(ctx, id)
	if err != nil {
		return err
	}
	if isDefault {
		return ErrDefaultKeyDeletion
	}

	if err := s.store.DeleteKey(ctx, id); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// SetStatus enables or disables a key.
func (s *Service) SetStatus(ctx context.Context, id int64, active bool) error {
	status := models.KeyStatusDisabled
	if active {
		status = models.KeyStatusActive
	}
	if err := s.store.UpdateKeyStatus(ctx, id, status); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Get returns a single key regardless of status.
func (s *Service) Get(ctx context.Context, id int64) (*models.ApiKey, error) {
	return s.store.GetKey(ctx, id)
}

// TouchLastAction updates last_action_at. Best-effort: callers fire this
// asynchronously and ignore the error.
func (s *Service) TouchLastAction(ctx context.Context, id int64) error {
	return s.store.TouchKeyLastAction(ctx, id)
}

// KeyView is the administrative listing shape: secrets are masked, and the
// default flag is resolved against the current active set.
type KeyView struct {
	ID           int64      `json:"id"`
	IsDefault    bool       `json:"is_default"`
	Masked       string     `json:"masked"`
	Status       int        `json:"status"`
	LastActionAt *time.Time `json:"last_action_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// List returns all keys (any status) with masked secrets.
func (s *Service) List(ctx context.Context) ([]KeyView, error) {
	all, err := s.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	defaultID := int64(0)
	for _, k := range all {
		if k.Active() && (defaultID == 0 || k.ID < defaultID) {
			defaultID = k.ID
		}
	}

	views := make([]KeyView, 0, len(all))
	for _, k := range all {
		views = append(views, KeyView{
			ID:           k.ID,
			IsDefault:    defaultID > 0 && k.ID == defaultID,
			Masked:       MaskSecret(k.Secret),
			Status:       k.Status,
			LastActionAt: k.LastActionAt,
			CreatedAt:    k.CreatedAt,
			UpdatedAt:    k.UpdatedAt,
		})
	}
	return views, nil
}

// GenerateSecret returns 32 cryptographically random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// MaskSecret renders a secret safe for display: first and last four
// characters with the middle elided.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "******"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
