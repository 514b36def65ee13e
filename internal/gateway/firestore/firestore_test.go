package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

func setupGateway(t *testing.T) *Gateway {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping integration test")
	}

	g, err := New(context.Background(), "langex-test", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestNew_RequiresProject(t *testing.T) {
	_, err := New(context.Background(), "", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGateway_UserWrites(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	id := uuid.NewString()

	assert.ErrorIs(t, g.SetPushToken(ctx, id, "tok"), gateway.ErrNotFound)

	_, err := g.usersCol().Doc(id).Set(ctx, &data.User{Username: "ana", NativeLanguage: "ES"})
	require.NoError(t, err)

	require.NoError(t, g.SetPushToken(ctx, id, "tok"))
	require.NoError(t, g.HideConversation(ctx, id, "c1"))

	u, err := g.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "es", u.NativeLanguage)
	assert.Equal(t, "tok", u.FCMToken)
	assert.Equal(t, []string{"c1"}, u.HiddenConversationIDs)
}

func TestGateway_MessageListener(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()

	convID := uuid.NewString()
	_, err := g.conversationsCol().Doc(convID).Set(ctx, &data.Conversation{Participants: []string{"me", "a"}})
	require.NoError(t, err)

	updates := make(chan gateway.Snapshot[*data.Message], 8)
	reg, err := g.ListenMessages(ctx, convID, 30, func(s gateway.Snapshot[*data.Message], err error) {
		assert.NoError(t, err)
		updates <- s
	})
	require.NoError(t, err)
	defer reg.Remove()

	first := <-updates
	assert.True(t, first.Initial)

	msg := &data.Message{ID: uuid.NewString(), ConversationID: convID, SenderID: "a", ReceiverID: "me", Timestamp: time.Now().UTC(), Kind: data.KindText, Text: "hi"}
	require.NoError(t, g.AddMessage(ctx, msg))

	select {
	case s := <-updates:
		require.NotEmpty(t, s.Changes)
		assert.Equal(t, gateway.Added, s.Changes[0].Kind)
		assert.Equal(t, msg.ID, s.Changes[0].ID)
	case <-time.After(10 * time.Second):
		t.Fatal("no snapshot for added message")
	}

	require.NoError(t, g.MarkRead(ctx, convID, []string{msg.ID}))
	select {
	case s := <-updates:
		require.NotEmpty(t, s.Changes)
		assert.Equal(t, gateway.Modified, s.Changes[0].Kind)
		assert.True(t, s.Changes[0].Doc.HasBeenRead)
	case <-time.After(10 * time.Second):
		t.Fatal("no snapshot for read flag")
	}
}

func TestGateway_AddMessageUnknownConversation(t *testing.T) {
	g := setupGateway(t)
	err := g.AddMessage(context.Background(), &data.Message{ID: uuid.NewString(), ConversationID: uuid.NewString()})
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}
