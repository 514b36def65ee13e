package data

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation database operations.
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// Collection exposes the underlying collection for change streams.
func (c *ConversationsStore) Collection() *mongo.Collection { return c.coll }

// CreateConversation inserts a conversation. Conversations are created by
// the backend when two users start chatting; this exists for fixtures.
func (c *ConversationsStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if _, err := c.coll.InsertOne(ctx, conv); err != nil {
		return errors.Wrapf(err, "create conversation %s", conv.ID)
	}
	return nil
}

// Recent returns the user's conversations, most recently active first.
// limit <= 0 returns all of them.
func (c *ConversationsStore) Recent(ctx context.Context, userID string, limit int64) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := c.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find recent conversations")
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, errors.Wrap(err, "decode conversations")
	}
	return convs, nil
}

// Touch moves the conversation's last activity forward; older timestamps are ignored.
func (c *ConversationsStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": id, "last_message_at": bson.M{"$lt": at}},
		bson.M{"$set": bson.M{"last_message_at": at}},
	)
	if err != nil {
		return errors.Wrapf(err, "touch conversation %s", id)
	}
	return nil
}
