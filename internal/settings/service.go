package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/silveridc/verigate/internal/cache"
	"github.com/silveridc/verigate/internal/config"
	"github.com/silveridc/verigate/internal/keys"
	"github.com/silveridc/verigate/internal/store"
)

// ErrUnknownSetting is returned when a write names a setting outside the
// whitelist.
var ErrUnknownSetting = errors.New("unknown setting name")

// Whitelisted setting names. The settings table never holds anything else.
const (
	NameCaptchaID        = "CAPTCHA_ID"
	NameCaptchaKey       = "CAPTCHA_KEY"
	NameCaptchaAPIServer = "CAPTCHA_API_SERVER"
	NameCodeExpire       = "CODE_EXPIRE"
	NameTokenSalt        = "TOKEN_SALT"
)

// definition describes one whitelisted setting.
type definition struct {
	Name   string
	Label  string
	Secret bool
}

var whitelist = []definition{
	{Name: NameCaptchaID, Label: "Challenge provider captcha id", Secret: false},
	{Name: NameCaptchaKey, Label: "Challenge provider captcha key", Secret: true},
	{Name: NameCaptchaAPIServer, Label: "Challenge provider API server", Secret: false},
	{Name: NameCodeExpire, Label: "Code TTL in seconds", Secret: false},
	{Name: NameTokenSalt, Label: "Token digest salt", Secret: true},
}

const cacheTTL = time.Minute

// Service resolves dynamic configuration. A database row overrides the
// environment default; resolved values are cached in Redis and the cache is
// invalidated on every save. Read failures degrade to the environment
// default rather than failing the caller.
type Service struct {
	store   store.Store
	cache   cache.Cache
	captcha config.CaptchaConfig
	verify  config.VerifyConfig
}

// NewService creates a settings service with the given environment defaults.
func NewService(s store.Store, c cache.Cache, captcha config.CaptchaConfig, verify config.VerifyConfig) *Service {
	return &Service{store: s, cache: c, captcha: captcha, verify: verify}
}

// Get resolves one setting: Redis cache, then database, then the
// environment default.
func (s *Service) Get(ctx context.Context, name string) string {
	if cached, ok, err := s.cache.Get(ctx, cache.SettingKey(name)); err == nil && ok {
		return string(cached)
	}

	value, err := s.store.GetSetting(ctx, name)
	if err != nil {
		return s.envDefault(name)
	}
	if value == "" {
		value = s.envDefault(name)
	}

	// Best-effort cache fill.
	_ = s.cache.Set(ctx, cache.SettingKey(name), []byte(value), cacheTTL)
	return value
}

func (s *Service) envDefault(name string) string {
	switch name {
	case NameCaptchaID:
		return s.captcha.ID
	case NameCaptchaKey:
		return s.captcha.Key
	case NameCaptchaAPIServer:
		return s.captcha.APIServer
	case NameCodeExpire:
		return strconv.Itoa(int(s.verify.CodeTTL / time.Second))
	case NameTokenSalt:
		return s.verify.TokenSalt
	}
	return ""
}

// CodeTTL returns the configured ticket lifetime.
func (s *Service) CodeTTL(ctx context.Context) time.Duration {
	raw := s.Get(ctx, NameCodeExpire)
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return s.verify.CodeTTL
	}
	return time.Duration(secs) * time.Second
}

// TokenSalt returns the salt folded into ticket token digests.
func (s *Service) TokenSalt(ctx context.Context) string {
	return s.Get(ctx, NameTokenSalt)
}

// CaptchaID returns the public challenge provider id handed to the page.
func (s *Service) CaptchaID(ctx context.Context) string {
	return s.Get(ctx, NameCaptchaID)
}

// CaptchaCredentials returns the provider credentials and endpoint used by
// the challenge verifier.
func (s *Service) CaptchaCredentials(ctx context.Context) (id, secret, apiServer string) {
	return s.Get(ctx, NameCaptchaID), s.Get(ctx, NameCaptchaKey), s.Get(ctx, NameCaptchaAPIServer)
}

// Save writes a whitelisted setting and invalidates its cache entry.
func (s *Service) Save(ctx context.Context, name, value string) error {
	if !allowed(name) {
		return ErrUnknownSetting
	}
	if err := s.store.UpsertSetting(ctx, name, value); err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	// Invalidation must not be skipped on cache errors; a stale credential
	// would outlive the save by up to the cache TTL otherwise.
	if err := s.cache.Delete(ctx, cache.SettingKey(name)); err != nil {
		return fmt.Errorf("invalidate setting cache: %w", err)
	}
	return nil
}

func allowed(name string) bool {
	for _, def := range whitelist {
		if def.Name == name {
			return true
		}
	}
	return false
}

// View is a listing entry; secret values are masked.
type View struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Secret bool   `json:"secret"`
	Value  string `json:"value"`
}

// List returns the whitelisted settings with their resolved values, masking
// secrets.
func (s *Service) List(ctx context.Context) []View {
	views := make([]View, 0, len(whitelist))
	for _, def := range whitelist {
		value := s.Get(ctx, def.Name)
		if def.Secret {
			value = keys.MaskSecret(value)
		}
		views = append(views, View{
			Name:   def.Name,
			Label:  def.Label,
			Secret: def.Secret,
			Value:  value,
		})
	}
	return views
}
