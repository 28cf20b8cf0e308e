package store_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"commhub/pkg/faults"
	"commhub/pkg/models"
	"commhub/pkg/store"

	"github.com/stretchr/testify/require"
)

func TestAppendMessageUpdatesThreadMeta(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob", "carol")

	m, err := store.AppendMessage("t1", "alice", "hello there", store.AppendOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	require.Equal(t, models.MessageText, m.Type)

	th, err := store.GetThread("t1")
	require.NoError(t, err)
	require.Equal(t, "hello there", th.LastMessage)
	require.Equal(t, m.TS, th.LastMessageAt)
	require.Equal(t, "alice", th.LastMessageBy)
	// the sender's own counter stays untouched
	require.Equal(t, 0, th.ParticipantState("alice").UnreadCount)
	require.Equal(t, 1, th.ParticipantState("bob").UnreadCount)
	require.Equal(t, 1, th.ParticipantState("carol").UnreadCount)
}

func TestAppendMessageDuplicateIDConflict(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")

	_, err := store.AppendMessage("t1", "alice", "first", store.AppendOptions{ID: "m1"})
	require.NoError(t, err)
	_, err = store.AppendMessage("t1", "alice", "second copy", store.AppendOptions{ID: "m1"})
	require.ErrorIs(t, err, faults.ErrConflict)

	// the original stands and no second record was written
	msgs, err := store.ListMessages("t1", 0, 0, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "first", msgs[0].Content)

	// and the duplicate did not bump unread counters again
	th, err := store.GetThread("t1")
	require.NoError(t, err)
	require.Equal(t, 1, th.ParticipantState("bob").UnreadCount)
}

func TestAppendMessageGuards(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")

	_, err := store.AppendMessage("t1", "mallory", "hi", store.AppendOptions{})
	require.ErrorIs(t, err, faults.ErrAuthorization)

	_, err = store.AppendMessage("t1", "alice", "", store.AppendOptions{})
	require.Error(t, err)

	_, err = store.AppendMessage("missing", "alice", "hi", store.AppendOptions{})
	require.ErrorIs(t, err, faults.ErrNotFound)
}

func TestAppendSystemMessageBypassesParticipantCheck(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	m, err := store.AppendMessage("t1", "portal", "alice renamed the thread",
		store.AppendOptions{Type: models.MessageSystem})
	require.NoError(t, err)
	require.Equal(t, models.MessageSystem, m.Type)
}

func TestLastMessageAtMonotonic(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")

	var prev int64
	for i := 0; i < 5; i++ {
		m, err := store.AppendMessage("t1", "alice", "tick", store.AppendOptions{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, m.TS, prev)
		th, err := store.GetThread("t1")
		require.NoError(t, err)
		require.Equal(t, m.TS, th.LastMessageAt)
		prev = m.TS
	}
}

func TestReplyToMustBeSameThread(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	newThread(t, "t2", "alice", "bob")

	parent, err := store.AppendMessage("t1", "alice", "root", store.AppendOptions{})
	require.NoError(t, err)

	_, err = store.AppendMessage("t2", "bob", "cross-thread reply",
		store.AppendOptions{ReplyTo: parent.ID})
	require.Error(t, err)

	reply, err := store.AppendMessage("t1", "bob", "reply", store.AppendOptions{ReplyTo: parent.ID})
	require.NoError(t, err)
	require.Equal(t, parent.ID, reply.ReplyTo)
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	m, err := store.AppendMessage("t1", "alice", "hi", store.AppendOptions{})
	require.NoError(t, err)

	first, err := store.MarkMessageRead(m.ID, "bob")
	require.NoError(t, err)
	require.Len(t, first.ReadBy, 1)
	require.Equal(t, "bob", first.ReadBy[0].UserID)
	firstTS := first.ReadBy[0].ReadTS

	// the receipt set grows once per user
	second, err := store.MarkMessageRead(m.ID, "bob")
	require.NoError(t, err)
	require.Len(t, second.ReadBy, 1)
	require.Equal(t, firstTS, second.ReadBy[0].ReadTS)

	both, err := store.MarkMessageRead(m.ID, "alice")
	require.NoError(t, err)
	require.Len(t, both.ReadBy, 2)
}

func TestMarkMessageReadNonParticipant(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	m, err := store.AppendMessage("t1", "alice", "hi", store.AppendOptions{})
	require.NoError(t, err)
	_, err = store.MarkMessageRead(m.ID, "mallory")
	require.ErrorIs(t, err, faults.ErrAuthorization)
}

func TestSoftDeleteMessageSenderOnly(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	m, err := store.AppendMessage("t1", "alice", "oops", store.AppendOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, store.SoftDeleteMessage(m.ID, "bob"), faults.ErrAuthorization)
	require.NoError(t, store.SoftDeleteMessage(m.ID, "alice"))
	// repeat is a no-op
	require.NoError(t, store.SoftDeleteMessage(m.ID, "alice"))

	got, err := store.GetMessage(m.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.Equal(t, "alice", got.DeletedBy)

	visible, err := store.ListMessages("t1", 0, 0, false)
	require.NoError(t, err)
	require.Empty(t, visible)
}

func TestSoftDeleteLatestRecomputesPreview(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	first, err := store.AppendMessage("t1", "alice", "first", store.AppendOptions{})
	require.NoError(t, err)
	last, err := store.AppendMessage("t1", "bob", "last", store.AppendOptions{})
	require.NoError(t, err)

	require.NoError(t, store.SoftDeleteMessage(last.ID, "bob"))
	th, err := store.GetThread("t1")
	require.NoError(t, err)
	require.Equal(t, "first", th.LastMessage)
	require.Equal(t, first.TS, th.LastMessageAt)
	require.Equal(t, "alice", th.LastMessageBy)

	// deleting the only remaining message clears the preview
	require.NoError(t, store.SoftDeleteMessage(first.ID, "alice"))
	th, err = store.GetThread("t1")
	require.NoError(t, err)
	require.Empty(t, th.LastMessage)
	require.Zero(t, th.LastMessageAt)
}

func TestListMessagesWindow(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	var ts3 int64
	for i, body := range []string{"a", "b", "c", "d", "e"} {
		m, err := store.AppendMessage("t1", "alice", body, store.AppendOptions{})
		require.NoError(t, err)
		if i == 2 {
			ts3 = m.TS
		}
	}

	recent, err := store.ListMessages("t1", 2, 0, false)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "d", recent[0].Content)
	require.Equal(t, "e", recent[1].Content)

	older, err := store.ListMessages("t1", 0, ts3, false)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, "a", older[0].Content)
	require.Equal(t, "b", older[1].Content)
}

func TestListMessageVersionsHistory(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	m, err := store.AppendMessage("t1", "alice", "hi", store.AppendOptions{})
	require.NoError(t, err)
	_, err = store.MarkMessageRead(m.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteMessage(m.ID, "alice"))

	vs, err := store.ListMessageVersions(m.ID)
	require.NoError(t, err)
	require.Len(t, vs, 3)
	require.Empty(t, vs[0].ReadBy)
	require.Len(t, vs[1].ReadBy, 1)
	require.True(t, vs[2].Deleted)

	_, err = store.ListMessageVersions("missing")
	require.ErrorIs(t, err, faults.ErrNotFound)
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")

	// one leading byte misaligns the 4-byte emoji run against the
	// truncation point
	content := "a" + strings.Repeat("\U0001F642", 60)
	_, err := store.AppendMessage("t1", "alice", content, store.AppendOptions{})
	require.NoError(t, err)

	th, err := store.GetThread("t1")
	require.NoError(t, err)
	require.True(t, utf8.ValidString(th.LastMessage))
	require.True(t, strings.HasPrefix(content, th.LastMessage))
	require.LessOrEqual(t, len(th.LastMessage), 120)
}
