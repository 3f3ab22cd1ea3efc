package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

func RateLimitKey(keyID int64) string {
	return fmt.Sprintf("ratelimit:%d", keyID)
}

func SettingKey(name string) string {
	return fmt.Sprintf("setting:%s", name)
}

// DenylistKey hashes the credential so raw secrets never appear in Redis.
func DenylistKey(credential string) string {
	sum := md5.Sum([]byte(credential))
	return fmt.Sprintf("logout:%s", hex.EncodeToString(sum[:]))
}
