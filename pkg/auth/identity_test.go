package auth_test

import (
	"strings"
	"testing"

	"commhub/pkg/auth"
	"commhub/pkg/config"
	"commhub/pkg/faults"

	"github.com/stretchr/testify/require"
)

func setKeys(keys ...string) {
	m := map[string]struct{}{}
	for _, k := range keys {
		m[k] = struct{}{}
	}
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: m})
}

func TestVerifyRoundTrip(t *testing.T) {
	setKeys("k1")
	sig := auth.Sign("k1", "alice")
	require.NoError(t, auth.Verify(auth.Credential{UserID: "alice", Signature: sig}))
}

func TestVerifyAnyConfiguredKey(t *testing.T) {
	// key rotation: signatures under the old and the new key both verify
	setKeys("old", "new")
	require.NoError(t, auth.Verify(auth.Credential{UserID: "bob", Signature: auth.Sign("old", "bob")}))
	require.NoError(t, auth.Verify(auth.Credential{UserID: "bob", Signature: auth.Sign("new", "bob")}))
}

func TestVerifyRejections(t *testing.T) {
	setKeys("k1")

	cases := []auth.Credential{
		{UserID: "alice", Signature: "forged"},
		{UserID: "alice", Signature: auth.Sign("wrong-key", "alice")},
		{UserID: "alice", Signature: auth.Sign("k1", "bob")},
		{UserID: "", Signature: auth.Sign("k1", "alice")},
		{UserID: "alice", Signature: ""},
		{UserID: strings.Repeat("x", 200), Signature: auth.Sign("k1", strings.Repeat("x", 200))},
	}
	for _, c := range cases {
		require.ErrorIs(t, auth.Verify(c), faults.ErrAuth, "credential %q/%q", c.UserID, c.Signature)
	}
}

func TestVerifyNoKeysConfigured(t *testing.T) {
	setKeys()
	err := auth.Verify(auth.Credential{UserID: "alice", Signature: auth.Sign("k1", "alice")})
	require.ErrorIs(t, err, faults.ErrAuth)
}

func TestVerifyTrimsWhitespace(t *testing.T) {
	setKeys("k1")
	sig := auth.Sign("k1", "alice")
	require.NoError(t, auth.Verify(auth.Credential{UserID: " alice ", Signature: sig + "\n"}))
}

func TestUserContextRoundTrip(t *testing.T) {
	ctx := auth.WithUser(t.Context(), "alice")
	require.Equal(t, "alice", auth.UserIDFromContext(ctx))
	require.Empty(t, auth.UserIDFromContext(t.Context()))
}
