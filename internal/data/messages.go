package data

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Collection exposes the underlying collection for change streams.
func (m *MessagesStore) Collection() *mongo.Collection { return m.coll }

// SaveMessage inserts a message document. The id is chosen by the caller.
func (m *MessagesStore) SaveMessage(ctx context.Context, msg *Message) error {
	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		return errors.Wrapf(err, "save message %s", msg.ID)
	}
	return nil
}

// Latest returns the newest messages of a conversation, newest first.
func (m *MessagesStore) Latest(ctx context.Context, conversationID string, limit int64) ([]*Message, error) {
	return m.find(ctx, bson.M{"conversation_id": conversationID}, limit)
}

// Before returns up to limit messages strictly older than before, newest first.
// A zero before means no upper bound.
func (m *MessagesStore) Before(ctx context.Context, conversationID string, before time.Time, limit int64) ([]*Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["timestamp"] = bson.M{"$lt": before}
	}
	return m.find(ctx, filter, limit)
}

// MarkRead sets has_been_read on the given messages of a conversation.
func (m *MessagesStore) MarkRead(ctx context.Context, conversationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.coll.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"has_been_read": true}},
	)
	if err != nil {
		return errors.Wrapf(err, "mark read in %s", conversationID)
	}
	return nil
}

func (m *MessagesStore) find(ctx context.Context, filter bson.M, limit int64) ([]*Message, error) {
	// newest first so the limit keeps the most recent window
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return messages, nil
}
