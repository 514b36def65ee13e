package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// stopped reports whether err only means the listener was removed.
func stopped(ctx context.Context, err error) bool {
	return err == iterator.Done || ctx.Err() != nil || status.Code(err) == codes.Canceled
}

func (g *Gateway) ListenUser(ctx context.Context, id string, fn gateway.UserListener) (gateway.Registration, error) {
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := g.usersCol().Doc(id).Snapshots(listenCtx)

	deliver := func(snap *firestore.DocumentSnapshot) {
		if !snap.Exists() {
			fn(nil, nil)
			return
		}
		u, err := decodeUser(snap)
		if err != nil {
			g.log.Warn("skipping undecodable user", zap.String("user_id", id), zap.Error(err))
			return
		}
		fn(u, nil)
	}

	// the first snapshot is awaited so establishment errors reach the caller
	first, err := it.Next()
	if err != nil {
		it.Stop()
		cancel()
		return nil, errors.Wrapf(err, "listen user %s", id)
	}
	deliver(first)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if !stopped(listenCtx, err) {
					fn(nil, errors.Wrapf(err, "user %s listener", id))
				}
				return
			}
			if listenCtx.Err() != nil {
				return
			}
			deliver(snap)
		}
	}()

	return gateway.RegistrationFunc(cancel), nil
}

func (g *Gateway) ListenConversations(ctx context.Context, userID string, fn gateway.Listener[*data.Conversation]) (gateway.Registration, error) {
	q := g.conversationsCol().Where("participants", "array-contains", userID)
	return listenQuery(ctx, g, q, decodeConversation, fn)
}

func (g *Gateway) ListenFollowers(ctx context.Context, userID string, fn gateway.Listener[*data.Follower]) (gateway.Registration, error) {
	return listenQuery(ctx, g, g.followersCol(userID).Query, decodeFollower, fn)
}

func (g *Gateway) ListenMessages(ctx context.Context, conversationID string, limit int, fn gateway.Listener[*data.Message]) (gateway.Registration, error) {
	q := g.messagesCol(conversationID).
		OrderBy("timestamp", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return listenQuery(ctx, g, q, decodeMessage, fn)
}

func (g *Gateway) ListenPartnerMatches(ctx context.Context, userID string, fn gateway.Listener[*data.Match]) (gateway.Registration, error) {
	q := g.matchesCol().Where("userIds", "array-contains", userID)
	return listenQuery(ctx, g, q, decodeMatch, fn)
}

// listenQuery delivers the first query snapshot synchronously as the
// Initial one, then streams later snapshots from a goroutine until removed.
func listenQuery[T any](
	ctx context.Context,
	g *Gateway,
	q firestore.Query,
	decode func(*firestore.DocumentSnapshot) (T, error),
	fn gateway.Listener[T],
) (gateway.Registration, error) {
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := q.Snapshots(listenCtx)

	first, err := it.Next()
	if err != nil {
		it.Stop()
		cancel()
		return nil, errors.Wrap(err, "listen query")
	}
	snap := toSnapshot(g, first, decode)
	snap.Initial = true
	fn(snap, nil)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if !stopped(listenCtx, err) {
					fn(gateway.Snapshot[T]{}, errors.Wrap(err, "query listener"))
				}
				return
			}
			if listenCtx.Err() != nil {
				return
			}
			if s := toSnapshot(g, qs, decode); len(s.Changes) > 0 {
				fn(s, nil)
			}
		}
	}()

	return gateway.RegistrationFunc(cancel), nil
}

func toSnapshot[T any](g *Gateway, qs *firestore.QuerySnapshot, decode func(*firestore.DocumentSnapshot) (T, error)) gateway.Snapshot[T] {
	var out gateway.Snapshot[T]
	for _, dc := range qs.Changes {
		id := dc.Doc.Ref.ID
		if dc.Kind == firestore.DocumentRemoved {
			out.Changes = append(out.Changes, gateway.Change[T]{Kind: gateway.Removed, ID: id})
			continue
		}
		doc, err := decode(dc.Doc)
		if err != nil {
			g.log.Warn("skipping undecodable document", zap.String("path", dc.Doc.Ref.Path), zap.Error(err))
			continue
		}
		kind := gateway.Added
		if dc.Kind == firestore.DocumentModified {
			kind = gateway.Modified
		}
		out.Changes = append(out.Changes, gateway.Change[T]{Kind: kind, ID: id, Doc: doc})
	}
	return out
}
