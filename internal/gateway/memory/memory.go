// Package memory is an in-process gateway.Gateway. It backs local mode and
// the session tests; listeners are notified synchronously on the writer's
// goroutine, after the store lock is released.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// Listener kinds reported by ActiveListeners and ListenCalls.
const (
	KindUser          = "user"
	KindConversations = "conversations"
	KindFollowers     = "followers"
	KindMessages      = "messages"
	KindMatches       = "matches"
)

type sub[T any] struct {
	key  string
	fn   gateway.Listener[T]
	seen map[string]bool
}

type userSub struct {
	key string
	fn  gateway.UserListener
}

// Gateway stores documents in maps guarded by one mutex.
type Gateway struct {
	mu sync.Mutex

	users     map[string]*data.User
	convs     map[string]*data.Conversation
	messages  map[string]map[string]*data.Message // conversation id -> message id -> message
	followers map[string]*data.Follower
	matches   map[string]*data.Match

	nextID      int64
	userSubs    map[int64]*userSub
	convSubs    map[int64]*sub[*data.Conversation]
	followSubs  map[int64]*sub[*data.Follower]
	messageSubs map[int64]*sub[*data.Message]
	matchSubs   map[int64]*sub[*data.Match]

	listenCalls map[string]int
	failures    map[string]error
}

// New returns an empty gateway.
func New() *Gateway {
	return &Gateway{
		users:       make(map[string]*data.User),
		convs:       make(map[string]*data.Conversation),
		messages:    make(map[string]map[string]*data.Message),
		followers:   make(map[string]*data.Follower),
		matches:     make(map[string]*data.Match),
		userSubs:    make(map[int64]*userSub),
		convSubs:    make(map[int64]*sub[*data.Conversation]),
		followSubs:  make(map[int64]*sub[*data.Follower]),
		messageSubs: make(map[int64]*sub[*data.Message]),
		matchSubs:   make(map[int64]*sub[*data.Match]),
		listenCalls: make(map[string]int),
		failures:    make(map[string]error),
	}
}

var _ gateway.Gateway = (*Gateway)(nil)

// FailNext makes the next call of the named operation ("GetUser",
// "RecentConversations", "OlderMessages", "AddMessage", "MarkRead",
// "ListenMessages") return err.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

func (g *Gateway) takeFailure(op string) error {
	err := g.failures[op]
	delete(g.failures, op)
	return err
}

// ActiveListeners counts registered listeners of a kind.
func (g *Gateway) ActiveListeners(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch kind {
	case KindUser:
		return len(g.userSubs)
	case KindConversations:
		return len(g.convSubs)
	case KindFollowers:
		return len(g.followSubs)
	case KindMessages:
		return len(g.messageSubs)
	case KindMatches:
		return len(g.matchSubs)
	}
	return 0
}

// ListenCalls counts how many listeners of a kind were ever opened.
func (g *Gateway) ListenCalls(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listenCalls[kind]
}

// --- reads ---

func (g *Gateway) GetUser(_ context.Context, id string) (*data.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetUser"); err != nil {
		return nil, err
	}
	u, ok := g.users[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return u.Clone(), nil
}

func (g *Gateway) RecentConversations(_ context.Context, userID string, limit int) ([]*data.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("RecentConversations"); err != nil {
		return nil, err
	}
	out := g.conversationsOf(userID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *Gateway) OlderMessages(_ context.Context, conversationID string, before time.Time, limit int) ([]*data.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("OlderMessages"); err != nil {
		return nil, err
	}
	var out []*data.Message
	for _, m := range g.newestFirst(conversationID) {
		if !before.IsZero() && !m.Timestamp.Before(before) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// conversationsOf is called with g.mu held.
func (g *Gateway) conversationsOf(userID string) []*data.Conversation {
	var out []*data.Conversation
	for _, c := range g.convs {
		if contains(c.Participants, userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// newestFirst is called with g.mu held.
func (g *Gateway) newestFirst(conversationID string) []*data.Message {
	var out []*data.Message
	for _, m := range g.messages[conversationID] {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out
}

// --- listeners ---

func (g *Gateway) ListenUser(_ context.Context, id string, fn gateway.UserListener) (gateway.Registration, error) {
	g.mu.Lock()
	g.nextID++
	key := g.nextID
	g.userSubs[key] = &userSub{key: id, fn: fn}
	g.listenCalls[KindUser]++
	var current *data.User
	if u, ok := g.users[id]; ok {
		current = u.Clone()
	}
	g.mu.Unlock()

	fn(current, nil)
	return g.remover(func() { delete(g.userSubs, key) }), nil
}

func (g *Gateway) ListenConversations(_ context.Context, userID string, fn gateway.Listener[*data.Conversation]) (gateway.Registration, error) {
	g.mu.Lock()
	g.nextID++
	key := g.nextID
	s := &sub[*data.Conversation]{key: userID, fn: fn, seen: map[string]bool{}}
	g.convSubs[key] = s
	g.listenCalls[KindConversations]++
	snap := gateway.Snapshot[*data.Conversation]{Initial: true}
	for _, c := range g.conversationsOf(userID) {
		s.seen[c.ID] = true
		snap.Changes = append(snap.Changes, gateway.Change[*data.Conversation]{Kind: gateway.Added, ID: c.ID, Doc: c})
	}
	g.mu.Unlock()

	fn(snap, nil)
	return g.remover(func() { delete(g.convSubs, key) }), nil
}

func (g *Gateway) ListenFollowers(_ context.Context, userID string, fn gateway.Listener[*data.Follower]) (gateway.Registration, error) {
	g.mu.Lock()
	g.nextID++
	key := g.nextID
	s := &sub[*data.Follower]{key: userID, fn: fn, seen: map[string]bool{}}
	g.followSubs[key] = s
	g.listenCalls[KindFollowers]++
	snap := gateway.Snapshot[*data.Follower]{Initial: true}
	for _, f := range g.followers {
		if f.UserID != userID {
			continue
		}
		cp := *f
		s.seen[f.ID] = true
		snap.Changes = append(snap.Changes, gateway.Change[*data.Follower]{Kind: gateway.Added, ID: f.ID, Doc: &cp})
	}
	g.mu.Unlock()

	fn(snap, nil)
	return g.remover(func() { delete(g.followSubs, key) }), nil
}

func (g *Gateway) ListenMessages(_ context.Context, conversationID string, limit int, fn gateway.Listener[*data.Message]) (gateway.Registration, error) {
	g.mu.Lock()
	if err := g.takeFailure("ListenMessages"); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.nextID++
	key := g.nextID
	s := &sub[*data.Message]{key: conversationID, fn: fn, seen: map[string]bool{}}
	g.messageSubs[key] = s
	g.listenCalls[KindMessages]++
	snap := gateway.Snapshot[*data.Message]{Initial: true}
	for i, m := range g.newestFirst(conversationID) {
		if limit > 0 && i == limit {
			break
		}
		s.seen[m.ID] = true
		snap.Changes = append(snap.Changes, gateway.Change[*data.Message]{Kind: gateway.Added, ID: m.ID, Doc: m})
	}
	g.mu.Unlock()

	fn(snap, nil)
	return g.remover(func() { delete(g.messageSubs, key) }), nil
}

func (g *Gateway) ListenPartnerMatches(_ context.Context, userID string, fn gateway.Listener[*data.Match]) (gateway.Registration, error) {
	g.mu.Lock()
	g.nextID++
	key := g.nextID
	s := &sub[*data.Match]{key: userID, fn: fn, seen: map[string]bool{}}
	g.matchSubs[key] = s
	g.listenCalls[KindMatches]++
	snap := gateway.Snapshot[*data.Match]{Initial: true}
	for _, m := range g.matches {
		if !contains(m.UserIDs, userID) {
			continue
		}
		cp := *m
		s.seen[m.ID] = true
		snap.Changes = append(snap.Changes, gateway.Change[*data.Match]{Kind: gateway.Added, ID: m.ID, Doc: &cp})
	}
	g.mu.Unlock()

	fn(snap, nil)
	return g.remover(func() { delete(g.matchSubs, key) }), nil
}

func (g *Gateway) remover(del func()) gateway.Registration {
	var once sync.Once
	return gateway.RegistrationFunc(func() {
		once.Do(func() {
			g.mu.Lock()
			del()
			g.mu.Unlock()
		})
	})
}

// --- writes ---

func (g *Gateway) AddMessage(_ context.Context, msg *data.Message) error {
	g.mu.Lock()
	if err := g.takeFailure("AddMessage"); err != nil {
		g.mu.Unlock()
		return err
	}
	conv, ok := g.convs[msg.ConversationID]
	if !ok {
		g.mu.Unlock()
		return gateway.ErrNotFound
	}
	g.mu.Unlock()

	g.PutMessage(msg)

	g.mu.Lock()
	touched := msg.Timestamp.After(conv.LastMessageAt)
	var updated data.Conversation
	if touched {
		conv.LastMessageAt = msg.Timestamp
		updated = *conv
	}
	g.mu.Unlock()
	if touched {
		g.PutConversation(&updated)
	}
	return nil
}

func (g *Gateway) MarkRead(_ context.Context, conversationID string, messageIDs []string) error {
	g.mu.Lock()
	if err := g.takeFailure("MarkRead"); err != nil {
		g.mu.Unlock()
		return err
	}
	var changed []*data.Message
	for _, id := range messageIDs {
		if m, ok := g.messages[conversationID][id]; ok && !m.HasBeenRead {
			cp := *m
			cp.HasBeenRead = true
			changed = append(changed, &cp)
		}
	}
	g.mu.Unlock()

	for _, m := range changed {
		g.PutMessage(m)
	}
	return nil
}

func (g *Gateway) SetPushToken(_ context.Context, userID, token string) error {
	return g.updateUser(userID, func(u *data.User) { u.FCMToken = token })
}

func (g *Gateway) SetSearchingForPartner(_ context.Context, userID string, searching bool) error {
	return g.updateUser(userID, func(u *data.User) { u.SearchingForPartner = searching })
}

func (g *Gateway) HideConversation(_ context.Context, userID, conversationID string) error {
	return g.updateUser(userID, func(u *data.User) {
		if !u.HidesConversation(conversationID) {
			u.HiddenConversationIDs = append(u.HiddenConversationIDs, conversationID)
		}
	})
}

func (g *Gateway) updateUser(id string, mutate func(*data.User)) error {
	g.mu.Lock()
	u, ok := g.users[id]
	if !ok {
		g.mu.Unlock()
		return gateway.ErrNotFound
	}
	next := u.Clone()
	g.mu.Unlock()

	mutate(next)
	g.PutUser(next)
	return nil
}

// --- fixtures: create or replace documents and notify listeners ---

// PutUser creates or replaces a user.
func (g *Gateway) PutUser(u *data.User) {
	g.mu.Lock()
	g.users[u.ID] = u.Clone()
	var fns []gateway.UserListener
	for _, s := range g.userSubs {
		if s.key == u.ID {
			fns = append(fns, s.fn)
		}
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(u.Clone(), nil)
	}
}

// PutConversation creates or replaces a conversation.
func (g *Gateway) PutConversation(c *data.Conversation) {
	g.mu.Lock()
	cp := *c
	g.convs[c.ID] = &cp
	deliveries := collect(g.convSubs, c.ID, func(key string) bool { return contains(c.Participants, key) }, func() *data.Conversation {
		d := cp
		return &d
	})
	g.mu.Unlock()
	deliveries.run()
}

// PutMessage creates or replaces a message.
func (g *Gateway) PutMessage(m *data.Message) {
	g.mu.Lock()
	cp := *m
	if g.messages[m.ConversationID] == nil {
		g.messages[m.ConversationID] = make(map[string]*data.Message)
	}
	g.messages[m.ConversationID][m.ID] = &cp
	deliveries := collect(g.messageSubs, m.ID, func(key string) bool { return key == m.ConversationID }, func() *data.Message {
		d := cp
		return &d
	})
	g.mu.Unlock()
	deliveries.run()
}

// PutFollower creates or replaces a follow relationship.
func (g *Gateway) PutFollower(f *data.Follower) {
	g.mu.Lock()
	cp := *f
	g.followers[f.ID] = &cp
	deliveries := collect(g.followSubs, f.ID, func(key string) bool { return key == f.UserID }, func() *data.Follower {
		d := cp
		return &d
	})
	g.mu.Unlock()
	deliveries.run()
}

// PutMatch creates or replaces a partner-search match.
func (g *Gateway) PutMatch(m *data.Match) {
	g.mu.Lock()
	cp := *m
	g.matches[m.ID] = &cp
	deliveries := collect(g.matchSubs, m.ID, func(key string) bool { return contains(m.UserIDs, key) }, func() *data.Match {
		d := cp
		d.UserIDs = append([]string(nil), cp.UserIDs...)
		return &d
	})
	g.mu.Unlock()
	deliveries.run()
}

// RemoveMessage deletes a message and reports it as Removed.
func (g *Gateway) RemoveMessage(conversationID, id string) {
	g.mu.Lock()
	delete(g.messages[conversationID], id)
	var ds deliveryList
	for _, s := range g.messageSubs {
		if s.key != conversationID || !s.seen[id] {
			continue
		}
		delete(s.seen, id)
		fn := s.fn
		snap := gateway.Snapshot[*data.Message]{Changes: []gateway.Change[*data.Message]{{Kind: gateway.Removed, ID: id}}}
		ds = append(ds, func() { fn(snap, nil) })
	}
	g.mu.Unlock()
	ds.run()
}

type deliveryList []func()

func (d deliveryList) run() {
	for _, f := range d {
		f()
	}
}

// collect builds the deliveries for one written document; called with g.mu held.
func collect[T any](subs map[int64]*sub[T], id string, matches func(key string) bool, doc func() T) deliveryList {
	var ds deliveryList
	for _, s := range subs {
		if !matches(s.key) {
			continue
		}
		kind := gateway.Modified
		if !s.seen[id] {
			kind = gateway.Added
			s.seen[id] = true
		}
		fn := s.fn
		snap := gateway.Snapshot[T]{Changes: []gateway.Change[T]{{Kind: kind, ID: id, Doc: doc()}}}
		ds = append(ds, func() { fn(snap, nil) })
	}
	return ds
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
