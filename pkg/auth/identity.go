package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"commhub/pkg/config"
	"commhub/pkg/faults"
)

type ctxUserKey struct{}

// Credential is the identity token a client presents at connect time and
// on every REST call: a user id plus an HMAC-SHA256 signature of that id
// issued by the portal backend with one of the configured signing keys.
type Credential struct {
	UserID    string `json:"user_id"`
	Signature string `json:"signature"`
}

// Verify checks the credential against the configured signing keys.
func Verify(c Credential) error {
	userID := strings.TrimSpace(c.UserID)
	sig := strings.TrimSpace(c.Signature)
	if userID == "" || sig == "" {
		return faults.Authf("missing user id or signature")
	}
	if len(userID) > 128 {
		return faults.Authf("user id too long")
	}
	keys := config.GetSigningKeys()
	if len(keys) == 0 {
		return faults.Authf("no signing keys configured")
	}
	for k := range keys {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write([]byte(userID))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return faults.Authf("invalid signature for user %s", userID)
}

// Sign computes the signature for userID under key. Exported for the
// client package and tests; the portal backend is the normal issuer.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// WithUser returns ctx carrying the verified user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, userID)
}

// UserIDFromContext returns the verified user id or the empty string.
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
