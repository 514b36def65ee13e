// Package gateway defines the remote data contract the session synchronizes
// against: point reads, ordered queries with a pagination cursor, and
// listeners that deliver an initial snapshot followed by incremental changes.
package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
)

// ErrNotFound is returned for reads and writes against a missing document.
var ErrNotFound = errors.New("gateway: document not found")

// ChangeKind says what happened to a document between two snapshots.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one document diff. Doc is nil for Removed changes when the
// backend cannot provide the last version.
type Change[T any] struct {
	Kind ChangeKind
	ID   string
	Doc  T
}

// Snapshot is one delivery from a query listener. The first delivery of a
// listener has Initial set and reports every matching document as Added.
type Snapshot[T any] struct {
	Initial bool
	Changes []Change[T]
}

// Listener receives snapshots or a delivery error. After an error the
// listener receives nothing more.
type Listener[T any] func(Snapshot[T], error)

// UserListener receives the current version of a user document; user is nil
// when the document does not exist (yet).
type UserListener func(user *data.User, err error)

// Registration is an active listener. Remove stops deliveries, never blocks
// on the network and is safe to call more than once.
type Registration interface {
	Remove()
}

// RegistrationFunc adapts a function to Registration.
type RegistrationFunc func()

// Remove calls f.
func (f RegistrationFunc) Remove() { f() }

// Gateway is the remote document database as seen by a single client.
type Gateway interface {
	// GetUser reads a user document.
	GetUser(ctx context.Context, id string) (*data.User, error)
	// RecentConversations returns the user's conversations, most recently active first.
	RecentConversations(ctx context.Context, userID string, limit int) ([]*data.Conversation, error)
	// OlderMessages returns up to limit messages older than before, newest
	// first. A zero before means the newest messages.
	OlderMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*data.Message, error)

	ListenUser(ctx context.Context, id string, fn UserListener) (Registration, error)
	ListenConversations(ctx context.Context, userID string, fn Listener[*data.Conversation]) (Registration, error)
	ListenFollowers(ctx context.Context, userID string, fn Listener[*data.Follower]) (Registration, error)
	// ListenMessages watches the newest limit messages of a conversation.
	// Snapshot changes are ordered newest first.
	ListenMessages(ctx context.Context, conversationID string, limit int, fn Listener[*data.Message]) (Registration, error)
	ListenPartnerMatches(ctx context.Context, userID string, fn Listener[*data.Match]) (Registration, error)

	// AddMessage stores a message and bumps the conversation's last activity.
	AddMessage(ctx context.Context, msg *data.Message) error
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
	SetPushToken(ctx context.Context, userID, token string) error
	SetSearchingForPartner(ctx context.Context, userID string, searching bool) error
	HideConversation(ctx context.Context, userID, conversationID string) error
}
