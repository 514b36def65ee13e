// Package firestore implements gateway.Gateway on Cloud Firestore using
// snapshot listeners.
//
// Layout:
//
//	users/{id}
//	users/{id}/followers/{id}
//	conversations/{id}
//	conversations/{id}/messages/{id}
//	matches/{id}
package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

type Gateway struct {
	client *firestore.Client
	log    *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a Firestore client for projectID. FIRESTORE_EMULATOR_HOST is
// honoured by the client library.
func New(ctx context.Context, projectID string, log *zap.Logger) (*Gateway, error) {
	if projectID == "" {
		return nil, errors.New("projectID is required for the Firestore gateway")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "creating firestore client")
	}
	return &Gateway{client: client, log: log.Named("firestore")}, nil
}

// Close releases the client.
func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) usersCol() *firestore.CollectionRef {
	return g.client.Collection("users")
}

func (g *Gateway) followersCol(userID string) *firestore.CollectionRef {
	return g.usersCol().Doc(userID).Collection("followers")
}

func (g *Gateway) conversationsCol() *firestore.CollectionRef {
	return g.client.Collection("conversations")
}

func (g *Gateway) messagesCol(conversationID string) *firestore.CollectionRef {
	return g.conversationsCol().Doc(conversationID).Collection("messages")
}

func (g *Gateway) matchesCol() *firestore.CollectionRef {
	return g.client.Collection("matches")
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// --- decoding: ids live in the document path, not in the data ---

func decodeUser(snap *firestore.DocumentSnapshot) (*data.User, error) {
	var u data.User
	if err := snap.DataTo(&u); err != nil {
		return nil, errors.Wrapf(err, "decode user %s", snap.Ref.ID)
	}
	u.ID = snap.Ref.ID
	u.Normalize()
	return &u, nil
}

func decodeConversation(snap *firestore.DocumentSnapshot) (*data.Conversation, error) {
	var c data.Conversation
	if err := snap.DataTo(&c); err != nil {
		return nil, errors.Wrapf(err, "decode conversation %s", snap.Ref.ID)
	}
	c.ID = snap.Ref.ID
	return &c, nil
}

func decodeMessage(snap *firestore.DocumentSnapshot) (*data.Message, error) {
	var m data.Message
	if err := snap.DataTo(&m); err != nil {
		return nil, errors.Wrapf(err, "decode message %s", snap.Ref.ID)
	}
	m.ID = snap.Ref.ID
	if m.ConversationID == "" {
		m.ConversationID = snap.Ref.Parent.Parent.ID
	}
	return &m, nil
}

func decodeFollower(snap *firestore.DocumentSnapshot) (*data.Follower, error) {
	var f data.Follower
	if err := snap.DataTo(&f); err != nil {
		return nil, errors.Wrapf(err, "decode follower %s", snap.Ref.ID)
	}
	f.ID = snap.Ref.ID
	if f.UserID == "" {
		f.UserID = snap.Ref.Parent.Parent.ID
	}
	return &f, nil
}

func decodeMatch(snap *firestore.DocumentSnapshot) (*data.Match, error) {
	var m data.Match
	if err := snap.DataTo(&m); err != nil {
		return nil, errors.Wrapf(err, "decode match %s", snap.Ref.ID)
	}
	m.ID = snap.Ref.ID
	return &m, nil
}

// --- reads ---

func (g *Gateway) GetUser(ctx context.Context, id string) (*data.User, error) {
	snap, err := g.usersCol().Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, gateway.ErrNotFound
		}
		return nil, errors.Wrapf(err, "firestore GetUser %s", id)
	}
	return decodeUser(snap)
}

func (g *Gateway) RecentConversations(ctx context.Context, userID string, limit int) ([]*data.Conversation, error) {
	q := g.conversationsCol().
		Where("participants", "array-contains", userID).
		OrderBy("lastMessageAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collect(ctx, q, decodeConversation)
}

func (g *Gateway) OlderMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*data.Message, error) {
	q := g.messagesCol(conversationID).Query
	if !before.IsZero() {
		q = q.Where("timestamp", "<", before)
	}
	q = q.OrderBy("timestamp", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collect(ctx, q, decodeMessage)
}

func collect[T any](ctx context.Context, q firestore.Query, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "firestore query")
		}
		doc, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// --- writes ---

// AddMessage creates the message and bumps lastMessageAt in one transaction.
func (g *Gateway) AddMessage(ctx context.Context, msg *data.Message) error {
	convRef := g.conversationsCol().Doc(msg.ConversationID)
	msgRef := g.messagesCol(msg.ConversationID).Doc(msg.ID)

	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if err != nil {
			return err
		}
		conv, err := decodeConversation(snap)
		if err != nil {
			return err
		}
		if err := tx.Create(msgRef, msg); err != nil {
			return err
		}
		if msg.Timestamp.After(conv.LastMessageAt) {
			return tx.Update(convRef, []firestore.Update{{Path: "lastMessageAt", Value: msg.Timestamp}})
		}
		return nil
	})
	if err != nil {
		if notFound(err) {
			return gateway.ErrNotFound
		}
		return errors.Wrapf(err, "firestore AddMessage %s", msg.ID)
	}
	return nil
}

// MarkRead flips hasBeenRead on each message through a BulkWriter.
func (g *Gateway) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	bw := g.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(messageIDs))
	for _, id := range messageIDs {
		job, err := bw.Update(g.messagesCol(conversationID).Doc(id), []firestore.Update{{Path: "hasBeenRead", Value: true}})
		if err != nil {
			bw.End()
			return errors.Wrapf(err, "firestore MarkRead %s", id)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			// a message removed meanwhile has nothing left to mark
			if notFound(err) {
				continue
			}
			return errors.Wrapf(err, "firestore MarkRead %s", messageIDs[i])
		}
	}
	return nil
}

func (g *Gateway) SetPushToken(ctx context.Context, userID, token string) error {
	return g.updateUser(ctx, userID, firestore.Update{Path: "fcmToken", Value: token})
}

func (g *Gateway) SetSearchingForPartner(ctx context.Context, userID string, searching bool) error {
	return g.updateUser(ctx, userID, firestore.Update{Path: "searchingForPartner", Value: searching})
}

func (g *Gateway) HideConversation(ctx context.Context, userID, conversationID string) error {
	return g.updateUser(ctx, userID, firestore.Update{Path: "hiddenConversationIds", Value: firestore.ArrayUnion(conversationID)})
}

// updateUser fails with gateway.ErrNotFound for a missing document, unlike Set.
func (g *Gateway) updateUser(ctx context.Context, userID string, u firestore.Update) error {
	if _, err := g.usersCol().Doc(userID).Update(ctx, []firestore.Update{u}); err != nil {
		if notFound(err) {
			return gateway.ErrNotFound
		}
		return errors.Wrapf(err, "firestore update user %s field %s", userID, u.Path)
	}
	return nil
}
