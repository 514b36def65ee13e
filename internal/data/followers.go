package data

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// FollowersStore reads follow relationships.
type FollowersStore struct {
	coll *mongo.Collection
}

// NewFollowersStore returns a FollowersStore using given collection.
func NewFollowersStore(coll *mongo.Collection) *FollowersStore {
	return &FollowersStore{coll: coll}
}

// Collection exposes the underlying collection for change streams.
func (f *FollowersStore) Collection() *mongo.Collection { return f.coll }

// FollowersOf lists everyone following userID, newest first.
func (f *FollowersStore) FollowersOf(ctx context.Context, userID string) ([]*Follower, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := f.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find followers")
	}
	defer cursor.Close(ctx)

	var out []*Follower
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode followers")
	}
	return out, nil
}

// MatchesStore reads partner-search matches.
type MatchesStore struct {
	coll *mongo.Collection
}

// NewMatchesStore returns a MatchesStore using given collection.
func NewMatchesStore(coll *mongo.Collection) *MatchesStore {
	return &MatchesStore{coll: coll}
}

// Collection exposes the underlying collection for change streams.
func (m *MatchesStore) Collection() *mongo.Collection { return m.coll }

// MatchesFor lists matches containing userID, newest first.
func (m *MatchesStore) MatchesFor(ctx context.Context, userID string) ([]*Match, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.coll.Find(ctx, bson.M{"user_ids": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find matches")
	}
	defer cursor.Close(ctx)

	var out []*Match
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode matches")
	}
	return out, nil
}
