// Package mongo implements gateway.Gateway on MongoDB. One-shot reads go
// through the internal/data stores; listeners combine an initial Find with a
// change stream, so the server must run as a replica set.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/db"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// Gateway talks to the collections of one database.
type Gateway struct {
	users         *data.UsersStore
	conversations *data.ConversationsStore
	messages      *data.MessagesStore
	followers     *data.FollowersStore
	matches       *data.MatchesStore
	log           *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// New returns a Gateway over the client's collections.
func New(client *db.Client, log *zap.Logger) *Gateway {
	return &Gateway{
		users:         data.NewUsersStore(client.UsersCollection()),
		conversations: data.NewConversationsStore(client.ConversationsCollection()),
		messages:      data.NewMessagesStore(client.MessagesCollection()),
		followers:     data.NewFollowersStore(client.FollowersCollection()),
		matches:       data.NewMatchesStore(client.MatchesCollection()),
		log:           log.Named("mongo"),
	}
}

func translate(err error) error {
	if errors.Is(err, data.ErrNotFound) {
		return gateway.ErrNotFound
	}
	return err
}

func (g *Gateway) GetUser(ctx context.Context, id string) (*data.User, error) {
	u, err := g.users.GetUser(ctx, id)
	return u, translate(err)
}

func (g *Gateway) RecentConversations(ctx context.Context, userID string, limit int) ([]*data.Conversation, error) {
	return g.conversations.Recent(ctx, userID, int64(limit))
}

func (g *Gateway) OlderMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*data.Message, error) {
	return g.messages.Before(ctx, conversationID, before, int64(limit))
}

func (g *Gateway) ListenUser(ctx context.Context, id string, fn gateway.UserListener) (gateway.Registration, error) {
	initial := func(ctx context.Context) ([]*data.User, error) {
		u, err := g.users.GetUser(ctx, id)
		if errors.Is(err, data.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*data.User{u}, nil
	}

	return listen(ctx, g, g.users.Collection(), bson.M{"documentKey._id": id}, initial,
		func(u *data.User) string { return u.ID },
		func(s gateway.Snapshot[*data.User], err error) {
			if err != nil {
				fn(nil, err)
				return
			}
			if s.Initial && len(s.Changes) == 0 {
				fn(nil, nil)
				return
			}
			for _, c := range s.Changes {
				if c.Kind == gateway.Removed {
					fn(nil, nil)
					continue
				}
				c.Doc.Normalize()
				fn(c.Doc, nil)
			}
		})
}

func (g *Gateway) ListenConversations(ctx context.Context, userID string, fn gateway.Listener[*data.Conversation]) (gateway.Registration, error) {
	initial := func(ctx context.Context) ([]*data.Conversation, error) {
		return g.conversations.Recent(ctx, userID, 0)
	}
	return listen(ctx, g, g.conversations.Collection(), withDeletes(bson.M{"fullDocument.participants": userID}),
		initial, func(c *data.Conversation) string { return c.ID }, fn)
}

func (g *Gateway) ListenFollowers(ctx context.Context, userID string, fn gateway.Listener[*data.Follower]) (gateway.Registration, error) {
	initial := func(ctx context.Context) ([]*data.Follower, error) {
		return g.followers.FollowersOf(ctx, userID)
	}
	return listen(ctx, g, g.followers.Collection(), withDeletes(bson.M{"fullDocument.user_id": userID}),
		initial, func(f *data.Follower) string { return f.ID }, fn)
}

func (g *Gateway) ListenMessages(ctx context.Context, conversationID string, limit int, fn gateway.Listener[*data.Message]) (gateway.Registration, error) {
	initial := func(ctx context.Context) ([]*data.Message, error) {
		return g.messages.Latest(ctx, conversationID, int64(limit))
	}
	return listen(ctx, g, g.messages.Collection(), withDeletes(bson.M{"fullDocument.conversation_id": conversationID}),
		initial, func(m *data.Message) string { return m.ID }, fn)
}

func (g *Gateway) ListenPartnerMatches(ctx context.Context, userID string, fn gateway.Listener[*data.Match]) (gateway.Registration, error) {
	initial := func(ctx context.Context) ([]*data.Match, error) {
		return g.matches.MatchesFor(ctx, userID)
	}
	return listen(ctx, g, g.matches.Collection(), withDeletes(bson.M{"fullDocument.user_ids": userID}),
		initial, func(m *data.Match) string { return m.ID }, fn)
}

func (g *Gateway) AddMessage(ctx context.Context, msg *data.Message) error {
	if err := g.messages.SaveMessage(ctx, msg); err != nil {
		return err
	}
	return g.conversations.Touch(ctx, msg.ConversationID, msg.Timestamp)
}

func (g *Gateway) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return g.messages.MarkRead(ctx, conversationID, messageIDs)
}

func (g *Gateway) SetPushToken(ctx context.Context, userID, token string) error {
	return translate(g.users.SetPushToken(ctx, userID, token))
}

func (g *Gateway) SetSearchingForPartner(ctx context.Context, userID string, searching bool) error {
	return translate(g.users.SetSearchingForPartner(ctx, userID, searching))
}

func (g *Gateway) HideConversation(ctx context.Context, userID, conversationID string) error {
	return translate(g.users.HideConversation(ctx, userID, conversationID))
}
