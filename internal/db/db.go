// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "langex"

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is thread-safe and shared by every store
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and returns a Client. Change streams used by the
// gateway require the server to run as a replica set.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	if database == "" {
		database = DefaultDatabase
	}

	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect to MongoDB")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping MongoDB")
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// ConversationsCollection returns the conversations collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection("conversations")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// FollowersCollection returns the followers collection.
func (c *Client) FollowersCollection() *mongo.Collection {
	return c.db.Collection("followers")
}

// MatchesCollection returns the partner-search matches collection.
func (c *Client) MatchesCollection() *mongo.Collection {
	return c.db.Collection("matches")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes backing the session queries.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// recent conversations per participant
	_, err := c.ConversationsCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "create conversations index")
	}

	// tail window and backward pagination per conversation
	_, err = c.MessagesCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "create messages index")
	}

	_, err = c.FollowersCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "follower_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "create followers index")
	}

	_, err = c.MatchesCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_ids", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "create matches index")
	}

	return nil
}
