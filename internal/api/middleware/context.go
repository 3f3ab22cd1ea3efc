package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const (
	keyIDKey     contextKey = "api_key_id"
	isDefaultKey contextKey = "api_key_is_default"
	secretKey    contextKey = "api_key_secret"
)

func SetKeyID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, keyIDKey, id)
}

func GetKeyID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(keyIDKey).(int64)
	return id, ok
}

func SetIsDefault(ctx context.Context, isDefault bool) context.Context {
	return context.WithValue(ctx, isDefaultKey, isDefault)
}

func GetIsDefault(r *http.Request) bool {
	isDefault, _ := r.Context().Value(isDefaultKey).(bool)
	return isDefault
}

func setSecret(ctx context.Context, secret string) context.Context {
	return context.WithValue(ctx, secretKey, secret)
}

// GetSecret returns the credential that authenticated the request. Only the
// administrative logout path needs it, to denylist the exact value.
func GetSecret(r *http.Request) (string, bool) {
	secret, ok := r.Context().Value(secretKey).(string)
	return secret, ok
}

// ClientIP resolves the caller address: the first X-Forwarded-For hop when
// the header is present, the connection peer otherwise.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
