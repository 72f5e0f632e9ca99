package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Token validation failures.
var (
	ErrMalformed = errors.New("malformed join token")
	ErrSignature = errors.New("invalid join token signature")
	ErrExpired   = errors.New("join token expired")
)

const tokenPrefix = "v1"

// JoinTokenSigner issues HMAC-signed tokens that bind a QR code to one
// attendance session until the session's end time.
type JoinTokenSigner struct {
	secret []byte
}

// NewJoinTokenSigner constructs a signer with the provided secret.
func NewJoinTokenSigner(secret string) *JoinTokenSigner {
	return &JoinTokenSigner{secret: []byte(secret)}
}

// Generate returns a token of the form v1.<sessionID>.<unix expiry>.<hex mac>.
func (s *JoinTokenSigner) Generate(sessionID string, expiresAt time.Time) (string, error) {
	if sessionID == "" || strings.Contains(sessionID, ".") {
		return "", fmt.Errorf("invalid session id for join token")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{tokenPrefix, sessionID, ts, s.sign(sessionID, ts)}, "."), nil
}

// Parse validates a token at the given instant and returns its session id.
func (s *JoinTokenSigner) Parse(token string, now time.Time) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != tokenPrefix || parts[1] == "" {
		return "", ErrMalformed
	}
	sessionID, ts, signature := parts[1], parts[2], parts[3]

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", ErrMalformed
	}
	if !hmac.Equal([]byte(s.sign(sessionID, ts)), []byte(signature)) {
		return "", ErrSignature
	}
	if now.After(time.Unix(expUnix, 0)) {
		return "", ErrExpired
	}
	return sessionID, nil
}

func (s *JoinTokenSigner) sign(sessionID, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(tokenPrefix + "|" + sessionID + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
