package ticket

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
const codeLength = 6

// NewToken derives a ticket token from the correlation pair, the current
// instant at nanosecond granularity, the configured salt, and 16 fresh
// random bytes. The random component rules out collisions between rapid
// requests for the same pair.
func NewToken(groupID, userID, salt string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate token nonce: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(groupID))
	h.Write([]byte(userID))
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	h.Write([]byte(salt))
	h.Write(nonce)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NewCode draws 6 characters uniformly from the 36-character alphanumeric
// alphabet using a cryptographically secure source.
func NewCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
