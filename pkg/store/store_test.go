package store_test

import (
	"testing"

	"commhub/pkg/models"
	"commhub/pkg/store"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func newThread(t *testing.T, id string, participants ...string) *models.Thread {
	t.Helper()
	th := &models.Thread{ID: id, Participants: participants}
	require.NoError(t, store.CreateThread(th))
	return th
}
