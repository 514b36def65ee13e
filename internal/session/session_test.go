package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway/memory"
)

type staticIdentity string

func (s staticIdentity) CurrentUserID() (string, bool) { return string(s), s != "" }

// capturingGateway remembers the callbacks handed to the gateway so tests
// can replay deliveries that were already in flight or inject errors.
type capturingGateway struct {
	*memory.Gateway

	mu         sync.Mutex
	messageFns map[string]gateway.Listener[*data.Message]
	indexFn    gateway.Listener[*data.Conversation]

	// beforeIndex runs before the conversations listener is opened.
	beforeIndex func()
}

func capture(mem *memory.Gateway) *capturingGateway {
	return &capturingGateway{Gateway: mem, messageFns: map[string]gateway.Listener[*data.Message]{}}
}

func (c *capturingGateway) ListenConversations(ctx context.Context, userID string, fn gateway.Listener[*data.Conversation]) (gateway.Registration, error) {
	c.mu.Lock()
	c.indexFn = fn
	hook := c.beforeIndex
	c.beforeIndex = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.Gateway.ListenConversations(ctx, userID, fn)
}

func (c *capturingGateway) conversationsFn() gateway.Listener[*data.Conversation] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexFn
}

func (c *capturingGateway) ListenMessages(ctx context.Context, conversationID string, limit int, fn gateway.Listener[*data.Message]) (gateway.Registration, error) {
	c.mu.Lock()
	c.messageFns[conversationID] = fn
	c.mu.Unlock()
	return c.Gateway.ListenMessages(ctx, conversationID, limit, fn)
}

func (c *capturingGateway) messageFn(conversationID string) gateway.Listener[*data.Message] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageFns[conversationID]
}

var now = at(10_000)

func newSession(t *testing.T, gw gateway.Gateway) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }
	s := New(gw, staticIdentity("me"), cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// seedAB creates self with two conversations: A (last message t=100,
// unread) and B (last message t=200, read).
func seedAB(gw *memory.Gateway) {
	for _, id := range []string{"me", "A", "B"} {
		gw.PutUser(&data.User{ID: id, Username: id})
	}
	gw.PutConversation(&data.Conversation{ID: "cA", Participants: []string{"me", "A"}, LastMessageAt: at(100)})
	gw.PutConversation(&data.Conversation{ID: "cB", Participants: []string{"B", "me"}, LastMessageAt: at(200)})
	gw.PutMessage(&data.Message{ID: "a1", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(100), Kind: data.KindText, Text: "hola"})
	gw.PutMessage(&data.Message{ID: "b1", ConversationID: "cB", SenderID: "B", ReceiverID: "me", Timestamp: at(200), Kind: data.KindText, Text: "ni hao", HasBeenRead: true})
}

func setUp(t *testing.T, gw gateway.Gateway) *Session {
	t.Helper()
	s := newSession(t, gw)
	require.NoError(t, s.Setup(context.Background()))
	return s
}

func view(t *testing.T, s *Session) View {
	t.Helper()
	v, err := s.View(context.Background())
	require.NoError(t, err)
	return v
}

func TestSetup_TwoConversations(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	v := view(t, s)
	assert.True(t, v.SetupCompleted)
	assert.Equal(t, []string{"B", "A"}, v.SortedConversationIDs)
	assert.Equal(t, 1, v.TotalUnreadMessages)
	assert.Equal(t, "me", v.Self.ID)
	assert.Contains(t, v.Roster, "A")
	assert.Contains(t, v.Roster, "B")

	a, ok := v.Conversation("A")
	require.True(t, ok)
	assert.Equal(t, "cA", a.ConversationID)
	assert.False(t, a.LoadingNew)
	require.Len(t, a.Messages, 1)

	assert.Equal(t, 3, gw.ActiveListeners(memory.KindUser))
	assert.Equal(t, 2, gw.ActiveListeners(memory.KindMessages))
	assert.Equal(t, 1, gw.ActiveListeners(memory.KindConversations))
	assert.Equal(t, 1, gw.ActiveListeners(memory.KindFollowers))
}

func TestSetup_OnlyRecentConversations(t *testing.T) {
	gw := memory.New()
	gw.PutUser(&data.User{ID: "me"})
	for i := 0; i < 12; i++ {
		other := fmt.Sprintf("u%02d", i)
		gw.PutUser(&data.User{ID: other})
		gw.PutConversation(&data.Conversation{ID: "c" + other, Participants: []string{"me", other}, LastMessageAt: at(int64(i))})
	}
	s := setUp(t, gw)

	v := view(t, s)
	assert.Len(t, v.Conversations, 10)
	assert.NotContains(t, v.Conversations, "u00")
	assert.NotContains(t, v.Conversations, "u01")

	// older conversations are known and can be opened on demand
	require.NoError(t, s.OpenConversation(context.Background(), "cu00", "u00"))
	assert.Len(t, view(t, s).Conversations, 11)
}

func TestSetup_NotSignedUp(t *testing.T) {
	s := newSession(t, memory.New())

	err := s.Setup(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedUp)
	assert.False(t, view(t, s).SetupCompleted)

	err = s.OpenConversation(context.Background(), "c", "x")
	assert.ErrorIs(t, err, ErrNotSetUp)
}

func TestSetup_RetryAfterSignUp(t *testing.T) {
	gw := memory.New()
	s := newSession(t, gw)
	require.ErrorIs(t, s.Setup(context.Background()), ErrNotSignedUp)

	seedAB(gw)
	require.NoError(t, s.Setup(context.Background()))
	assert.True(t, view(t, s).SetupCompleted)
}

func TestSetup_FailureRemovesEveryListener(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	gw.PutUser(&data.User{ID: "me", SearchingForPartner: true})
	s := newSession(t, gw)

	boom := errors.New("unavailable")
	gw.FailNext("RecentConversations", boom)
	require.ErrorIs(t, s.Setup(context.Background()), boom)

	// the match listener opens in the background and is removed on attach
	require.Eventually(t, func() bool {
		return gw.ListenCalls(memory.KindMatches) == 1 && gw.ActiveListeners(memory.KindMatches) == 0
	}, time.Second, 5*time.Millisecond)
	for _, kind := range []string{memory.KindUser, memory.KindConversations, memory.KindFollowers, memory.KindMessages} {
		assert.Zero(t, gw.ActiveListeners(kind), kind)
	}
	v := view(t, s)
	assert.False(t, v.SetupCompleted)
	assert.Nil(t, v.Self)

	require.NoError(t, s.Setup(context.Background()))
	v = view(t, s)
	assert.Equal(t, []string{"B", "A"}, v.SortedConversationIDs)
	require.Eventually(t, func() bool { return gw.ActiveListeners(memory.KindMatches) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, gw.ActiveListeners(memory.KindConversations))
}

func TestSetup_ReopensFailedIndexListener(t *testing.T) {
	mem := memory.New()
	seedAB(mem)
	gw := capture(mem)
	s := setUp(t, gw)

	gw.conversationsFn()(gateway.Snapshot[*data.Conversation]{}, errors.New("stream reset"))
	view(t, s)
	require.Zero(t, mem.ActiveListeners(memory.KindConversations))

	// created while nobody was listening
	mem.PutUser(&data.User{ID: "C"})
	mem.PutConversation(&data.Conversation{ID: "cC", Participants: []string{"me", "C"}, LastMessageAt: at(300)})

	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, 1, mem.ActiveListeners(memory.KindConversations))
	assert.Equal(t, 2, mem.ListenCalls(memory.KindConversations))

	require.Eventually(t, func() bool {
		_, ok := view(t, s).Conversation("C")
		return ok
	}, time.Second, 5*time.Millisecond)

	// nothing left to reopen
	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, 2, mem.ListenCalls(memory.KindConversations))
	assert.Equal(t, 1, mem.ActiveListeners(memory.KindConversations))
}

func TestSetup_OpensConversationCreatedDuringSetup(t *testing.T) {
	mem := memory.New()
	seedAB(mem)
	gw := capture(mem)
	gw.beforeIndex = func() {
		mem.PutUser(&data.User{ID: "C"})
		mem.PutConversation(&data.Conversation{ID: "cC", Participants: []string{"C", "me"}, LastMessageAt: at(300)})
		mem.PutMessage(&data.Message{ID: "c1", ConversationID: "cC", SenderID: "C", ReceiverID: "me", Timestamp: at(300)})
	}
	s := setUp(t, gw)

	require.Eventually(t, func() bool {
		c, ok := view(t, s).Conversation("C")
		return ok && len(c.Messages) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"C", "B", "A"}, view(t, s).SortedConversationIDs)
}

func TestSetup_NotAuthenticated(t *testing.T) {
	s := New(memory.New(), staticIdentity(""), DefaultConfig(), zaptest.NewLogger(t))
	defer s.Close(context.Background())

	assert.ErrorIs(t, s.Setup(context.Background()), ErrNotAuthenticated)
}

func TestSetup_ConcurrentCallsFanOutOnce(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := newSession(t, gw)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Setup(context.Background()))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return view(t, s).SetupCompleted }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Setup(context.Background()))

	assert.Equal(t, 2, gw.ListenCalls(memory.KindMessages))
	assert.Equal(t, 1, gw.ListenCalls(memory.KindConversations))
	assert.Equal(t, 1, gw.ListenCalls(memory.KindFollowers))
}

func TestOpenConversation_Preconditions(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)
	ctx := context.Background()

	assert.ErrorIs(t, s.OpenConversation(ctx, "cA", "B"), ErrPrecondition)
	assert.ErrorIs(t, s.OpenConversation(ctx, "unknown", "A"), ErrPrecondition)

	// already open: no second listener
	require.NoError(t, s.OpenConversation(ctx, "cA", "A"))
	assert.Equal(t, 2, gw.ListenCalls(memory.KindMessages))
}

func TestLiveMessages_OutOfOrder(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	gw.PutMessage(&data.Message{ID: "a3", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(150)})
	gw.PutMessage(&data.Message{ID: "a2", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(120)})

	v := view(t, s)
	a, _ := v.Conversation("A")
	var ids []string
	for _, m := range a.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
	assert.Equal(t, 3, v.TotalUnreadMessages)
	assert.Equal(t, []string{"B", "A"}, v.SortedConversationIDs)

	gw.PutMessage(&data.Message{ID: "a4", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(300)})
	assert.Equal(t, []string{"A", "B"}, view(t, s).SortedConversationIDs)
}

func seedLongHistory(gw *memory.Gateway, n int) {
	gw.PutUser(&data.User{ID: "me"})
	gw.PutUser(&data.User{ID: "A"})
	gw.PutConversation(&data.Conversation{ID: "cA", Participants: []string{"me", "A"}, LastMessageAt: at(int64(n))})
	for i := 0; i < n; i++ {
		gw.PutMessage(&data.Message{
			ID:             fmt.Sprintf("m%02d", i),
			ConversationID: "cA",
			SenderID:       "A",
			ReceiverID:     "me",
			Timestamp:      at(int64(i)),
			HasBeenRead:    true,
		})
	}
}

func TestLoadOlderMessages_ReachesBeginning(t *testing.T) {
	gw := memory.New()
	seedLongHistory(gw, 42)
	s := setUp(t, gw)
	ctx := context.Background()

	a, _ := view(t, s).Conversation("A")
	require.Len(t, a.Messages, 30)
	assert.Equal(t, "m12", a.Messages[0].ID)

	require.NoError(t, s.LoadOlderMessages(ctx, "A"))

	a, _ = view(t, s).Conversation("A")
	require.Len(t, a.Messages, 42)
	assert.True(t, a.ReachedBeginning)
	assert.False(t, a.LoadingOlder)
	for i, m := range a.Messages {
		assert.Equal(t, fmt.Sprintf("m%02d", i), m.ID)
	}

	assert.ErrorIs(t, s.LoadOlderMessages(ctx, "A"), ErrPrecondition)
	assert.Equal(t, 1, gw.ListenCalls(memory.KindMessages), "pagination never opens a listener")
}

func TestLoadOlderMessages_FullPage(t *testing.T) {
	gw := memory.New()
	seedLongHistory(gw, 65)
	s := setUp(t, gw)

	require.NoError(t, s.LoadOlderMessages(context.Background(), "A"))
	a, _ := view(t, s).Conversation("A")
	assert.Len(t, a.Messages, 60)
	assert.False(t, a.ReachedBeginning)

	require.NoError(t, s.LoadOlderMessages(context.Background(), "A"))
	a, _ = view(t, s).Conversation("A")
	assert.Len(t, a.Messages, 65)
	assert.True(t, a.ReachedBeginning)
}

func TestLoadOlderMessages_FailureResetsFlag(t *testing.T) {
	gw := memory.New()
	seedLongHistory(gw, 42)
	s := setUp(t, gw)

	boom := errors.New("unavailable")
	gw.FailNext("OlderMessages", boom)

	err := s.LoadOlderMessages(context.Background(), "A")
	assert.ErrorIs(t, err, boom)

	a, _ := view(t, s).Conversation("A")
	assert.False(t, a.LoadingOlder)
	assert.False(t, a.ReachedBeginning)

	require.NoError(t, s.LoadOlderMessages(context.Background(), "A"))
}

func TestLoadOlderMessages_NoSubscription(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	assert.ErrorIs(t, s.LoadOlderMessages(context.Background(), "nobody"), ErrPrecondition)
}

func TestCloseConversation_DropsInFlightDelivery(t *testing.T) {
	mem := memory.New()
	seedAB(mem)
	gw := capture(mem)
	s := setUp(t, gw)
	ctx := context.Background()

	fn := gw.messageFn("cA")
	require.NotNil(t, fn)

	require.NoError(t, s.CloseConversation(ctx, "A"))
	assert.Equal(t, 1, mem.ActiveListeners(memory.KindMessages))
	assert.Equal(t, 2, mem.ActiveListeners(memory.KindUser), "self and B stay, A is gone")

	before := view(t, s)

	// a delivery that was already scheduled when the listener was removed
	late := &data.Message{ID: "late", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(500)}
	fn(gateway.Snapshot[*data.Message]{Changes: []gateway.Change[*data.Message]{{Kind: gateway.Added, ID: late.ID, Doc: late}}}, nil)

	after := view(t, s)
	assert.Equal(t, before, after)
	assert.NotContains(t, after.Conversations, "A")
	assert.NotContains(t, after.Roster, "A")
	assert.Equal(t, []string{"B"}, after.SortedConversationIDs)
	assert.Zero(t, after.TotalUnreadMessages)
}

func TestMessageListenerFailure_KeepsHeldMessages(t *testing.T) {
	mem := memory.New()
	seedAB(mem)
	gw := capture(mem)
	s := setUp(t, gw)
	ctx := context.Background()

	gw.messageFn("cA")(gateway.Snapshot[*data.Message]{}, errors.New("transient"))

	v := view(t, s)
	assert.Equal(t, []string{"B", "A"}, v.SortedConversationIDs)
	assert.Equal(t, 1, v.TotalUnreadMessages)
	a, ok := v.Conversation("A")
	require.True(t, ok)
	assert.Len(t, a.Messages, 1)
	assert.False(t, a.LoadingNew)
	assert.Equal(t, 1, mem.ActiveListeners(memory.KindMessages))
	assert.ErrorIs(t, s.LoadOlderMessages(ctx, "A"), ErrPrecondition, "no live tail until reopened")

	require.NoError(t, s.OpenConversation(ctx, "cA", "A"))
	assert.Equal(t, 2, mem.ActiveListeners(memory.KindMessages))

	mem.PutMessage(&data.Message{ID: "a2", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(150)})
	a, _ = view(t, s).Conversation("A")
	require.Len(t, a.Messages, 2)
	assert.Equal(t, "a1", a.Messages[0].ID)
	assert.Equal(t, 2, view(t, s).TotalUnreadMessages)

	// closing still forgets it
	gw.messageFn("cA")(gateway.Snapshot[*data.Message]{}, errors.New("transient"))
	require.NoError(t, s.CloseConversation(ctx, "A"))
	assert.NotContains(t, view(t, s).Conversations, "A")
}

func TestCloseConversation_NotOpen(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	assert.NoError(t, s.CloseConversation(context.Background(), "nobody"))
}

func TestSendMessage_AppliedFromEcho(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)
	ctx := context.Background()

	require.NoError(t, s.SendMessage(ctx, "A", Content{Kind: data.KindText, Text: "buenas"}))

	a, _ := view(t, s).Conversation("A")
	require.Len(t, a.Messages, 2)
	last := a.Messages[1]
	assert.Equal(t, "buenas", last.Text)
	assert.Equal(t, "me", last.SenderID)
	assert.Equal(t, "A", last.ReceiverID)
	assert.True(t, last.Timestamp.Equal(now))
	assert.Equal(t, []string{"A", "B"}, view(t, s).SortedConversationIDs)
}

func TestSendMessage_Rejected(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)
	ctx := context.Background()

	assert.ErrorIs(t, s.SendMessage(ctx, "A", Content{Kind: data.KindText, Text: "  "}), ErrPrecondition)
	assert.ErrorIs(t, s.SendMessage(ctx, "A", Content{Kind: data.KindVoice}), ErrPrecondition)
	assert.ErrorIs(t, s.SendMessage(ctx, "nobody", Content{Text: "hi"}), ErrPrecondition)

	boom := errors.New("offline")
	gw.FailNext("AddMessage", boom)
	assert.ErrorIs(t, s.SendMessage(ctx, "A", Content{Text: "hi"}), boom)

	a, _ := view(t, s).Conversation("A")
	assert.Len(t, a.Messages, 1, "no optimistic write")
}

func TestMarkConversationRead(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	require.Equal(t, 1, view(t, s).TotalUnreadMessages)
	require.NoError(t, s.MarkConversationRead(context.Background(), "A"))

	v := view(t, s)
	assert.Zero(t, v.TotalUnreadMessages)
	a, _ := v.Conversation("A")
	assert.True(t, a.Messages[0].HasBeenRead)

	// nothing left to mark
	require.NoError(t, s.MarkConversationRead(context.Background(), "A"))
}

func TestHideConversation(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	require.NoError(t, s.HideConversation(context.Background(), "A"))

	v := view(t, s)
	assert.Zero(t, v.TotalUnreadMessages)
	assert.Equal(t, []string{"B"}, v.VisibleConversationIDs)
	assert.Equal(t, []string{"B", "A"}, v.SortedConversationIDs)
	assert.Equal(t, []string{"cA"}, v.Self.HiddenConversationIDs)
}

func TestSetActiveConversation(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)
	ctx := context.Background()

	require.NoError(t, s.SetActiveConversation(ctx, "A"))
	assert.Equal(t, "A", view(t, s).ActiveCounterpartID)

	assert.ErrorIs(t, s.SetActiveConversation(ctx, "nobody"), ErrPrecondition)

	require.NoError(t, s.CloseConversation(ctx, "A"))
	assert.Empty(t, view(t, s).ActiveCounterpartID)
}

func TestNewConversationIsOpened(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)

	gw.PutUser(&data.User{ID: "C"})
	gw.PutConversation(&data.Conversation{ID: "cC", Participants: []string{"C", "me"}, LastMessageAt: at(300)})
	gw.PutMessage(&data.Message{ID: "c1", ConversationID: "cC", SenderID: "C", ReceiverID: "me", Timestamp: at(300)})

	require.Eventually(t, func() bool {
		v := view(t, s)
		c, ok := v.Conversation("C")
		return ok && len(c.Messages) == 1 && v.Roster["C"] != nil
	}, time.Second, 5*time.Millisecond)

	v := view(t, s)
	assert.Equal(t, []string{"C", "B", "A"}, v.SortedConversationIDs)
	assert.Equal(t, 2, v.TotalUnreadMessages)
}

func TestFollowers(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	gw.PutUser(&data.User{ID: "F", Username: "fan"})
	s := setUp(t, gw)

	gw.PutFollower(&data.Follower{ID: "f1", UserID: "me", FollowerID: "F", CreatedAt: at(10)})

	require.Eventually(t, func() bool { return view(t, s).Roster["F"] != nil }, time.Second, 5*time.Millisecond)
	v := view(t, s)
	assert.Equal(t, 2, v.NotificationCount)
	require.Len(t, v.Followers, 1)

	gw.PutFollower(&data.Follower{ID: "f1", UserID: "me", FollowerID: "F", CreatedAt: at(10), Seen: true})
	assert.Equal(t, 1, view(t, s).NotificationCount)
}

func TestPartnerSearch(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	gw.PutUser(&data.User{ID: "P", Username: "partner"})
	s := setUp(t, gw)
	ctx := context.Background()

	require.NoError(t, s.StartPartnerSearch(ctx))
	assert.True(t, view(t, s).SearchingForPartner)
	require.Eventually(t, func() bool { return gw.ActiveListeners(memory.KindMatches) == 1 }, time.Second, 5*time.Millisecond)

	// someone else's match is not ours
	gw.PutMatch(&data.Match{ID: "other", UserIDs: []string{"x", "y"}, CreatedAt: now.Add(time.Second)})
	gw.PutMatch(&data.Match{ID: "m1", UserIDs: []string{"P", "me"}, CreatedAt: now.Add(time.Second)})

	require.Eventually(t, func() bool {
		v := view(t, s)
		return v.MatchedPartnerID == "P" && !v.SearchingForPartner && v.Roster["P"] != nil
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, gw.ActiveListeners(memory.KindMatches))
}

func TestPartnerSearch_StopTearsDownListener(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	gw.PutMatch(&data.Match{ID: "old", UserIDs: []string{"me", "A"}, CreatedAt: at(1)})
	s := setUp(t, gw)
	ctx := context.Background()

	require.NoError(t, s.StartPartnerSearch(ctx))
	require.Eventually(t, func() bool { return gw.ActiveListeners(memory.KindMatches) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, view(t, s).MatchedPartnerID, "matches from earlier searches are ignored")

	require.NoError(t, s.StopPartnerSearch(ctx))
	assert.False(t, view(t, s).SearchingForPartner)
	assert.Zero(t, gw.ActiveListeners(memory.KindMatches))
}

func TestSubscribe(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := newSession(t, gw)

	var (
		mu    sync.Mutex
		views []View
	)
	unsubscribe, err := s.Subscribe(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, s.Setup(context.Background()))
	mu.Lock()
	require.Len(t, views, 1, "one publication when setup completes")
	assert.Equal(t, 1, views[0].TotalUnreadMessages)
	mu.Unlock()

	require.NoError(t, s.MarkConversationRead(context.Background(), "A"))
	mu.Lock()
	assert.Zero(t, views[len(views)-1].TotalUnreadMessages)
	n := len(views)
	mu.Unlock()

	unsubscribe()
	gw.PutMessage(&data.Message{ID: "a9", ConversationID: "cA", SenderID: "A", ReceiverID: "me", Timestamp: at(900)})
	view(t, s)
	mu.Lock()
	assert.Equal(t, n, len(views))
	mu.Unlock()
}

func TestClose_RemovesEveryListener(t *testing.T) {
	gw := memory.New()
	seedAB(gw)
	s := setUp(t, gw)
	require.NoError(t, s.StartPartnerSearch(context.Background()))
	require.Eventually(t, func() bool { return gw.ActiveListeners(memory.KindMatches) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	for _, kind := range []string{memory.KindUser, memory.KindConversations, memory.KindFollowers, memory.KindMessages, memory.KindMatches} {
		assert.Zero(t, gw.ActiveListeners(kind), kind)
	}

	_, err := s.View(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Setup(context.Background()), ErrClosed)
}
