// Package data provides the shared models and their MongoDB stores.
package data

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ErrNotFound is returned when a looked-up document does not exist.
var ErrNotFound = errors.New("document not found")

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// Collection exposes the underlying collection for change streams.
func (u *UsersStore) Collection() *mongo.Collection { return u.coll }

// GetUser finds a user by id.
func (u *UsersStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	user.Normalize()
	return &user, nil
}

// CreateUser inserts a user document. Used by fixtures and tooling; the
// client itself never creates accounts.
func (u *UsersStore) CreateUser(ctx context.Context, user *User) error {
	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		return errors.Wrapf(err, "create user %s", user.ID)
	}
	return nil
}

// SetPushToken stores the push-notification token on an existing user.
func (u *UsersStore) SetPushToken(ctx context.Context, id, token string) error {
	return u.update(ctx, id, bson.M{"$set": bson.M{"fcm_token": token}})
}

// SetSearchingForPartner flips the partner-search flag.
func (u *UsersStore) SetSearchingForPartner(ctx context.Context, id string, searching bool) error {
	return u.update(ctx, id, bson.M{"$set": bson.M{"searching_for_partner": searching}})
}

// HideConversation adds a conversation id to the user's hidden set.
func (u *UsersStore) HideConversation(ctx context.Context, id, conversationID string) error {
	return u.update(ctx, id, bson.M{"$addToSet": bson.M{"hidden_conversation_ids": conversationID}})
}

func (u *UsersStore) update(ctx context.Context, id string, update bson.M) error {
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Wrapf(err, "update user %s", id)
	}
	// matched, not modified: writing an unchanged value is still success
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
