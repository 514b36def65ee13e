package mongo

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodrv "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// changeEvent is the subset of a change stream document we decode.
type changeEvent[T any] struct {
	OperationType string `bson:"operationType"`
	FullDocument  T      `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// withDeletes lets delete events through a fullDocument filter; they carry no
// document and are matched against the ids the listener has delivered.
func withDeletes(match bson.M) bson.M {
	return bson.M{"$or": bson.A{match, bson.M{"operationType": "delete"}}}
}

// listen opens the change stream before running the initial query so no
// write between the two is lost. A document seen in both is reported once as
// Added and then as Modified.
func listen[T comparable](
	ctx context.Context,
	g *Gateway,
	coll *mongodrv.Collection,
	match bson.M,
	initial func(context.Context) ([]T, error),
	idOf func(T) string,
	fn gateway.Listener[T],
) (gateway.Registration, error) {
	pipeline := mongodrv.Pipeline{{{Key: "$match", Value: match}}}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	// the stream outlives the caller's request context
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	cs, err := coll.Watch(ctx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "watch %s", coll.Name())
	}

	docs, err := initial(ctx)
	if err != nil {
		cancel()
		_ = cs.Close(context.Background())
		return nil, errors.Wrapf(err, "initial %s snapshot", coll.Name())
	}

	seen := make(map[string]bool, len(docs))
	snap := gateway.Snapshot[T]{Initial: true}
	for _, d := range docs {
		id := idOf(d)
		seen[id] = true
		snap.Changes = append(snap.Changes, gateway.Change[T]{Kind: gateway.Added, ID: id, Doc: d})
	}
	fn(snap, nil)

	go func() {
		defer cs.Close(context.Background())

		for cs.Next(streamCtx) {
			var ev changeEvent[T]
			if err := cs.Decode(&ev); err != nil {
				g.log.Warn("decode change event", zap.String("collection", coll.Name()), zap.Error(err))
				continue
			}
			change, ok := toChange(ev, seen)
			if !ok {
				continue
			}
			if streamCtx.Err() != nil {
				return
			}
			fn(gateway.Snapshot[T]{Changes: []gateway.Change[T]{change}}, nil)
		}

		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			fn(gateway.Snapshot[T]{}, errors.Wrapf(err, "%s change stream", coll.Name()))
		}
	}()

	return gateway.RegistrationFunc(cancel), nil
}

func toChange[T comparable](ev changeEvent[T], seen map[string]bool) (gateway.Change[T], bool) {
	var zero T
	id := ev.DocumentKey.ID

	switch ev.OperationType {
	case "insert", "update", "replace":
		// update lookups race with deletes and may come back empty
		if ev.FullDocument == zero {
			return gateway.Change[T]{}, false
		}
		kind := gateway.Modified
		if !seen[id] {
			kind = gateway.Added
			seen[id] = true
		}
		return gateway.Change[T]{Kind: kind, ID: id, Doc: ev.FullDocument}, true
	case "delete":
		if !seen[id] {
			return gateway.Change[T]{}, false
		}
		delete(seen, id)
		return gateway.Change[T]{Kind: gateway.Removed, ID: id}, true
	}
	return gateway.Change[T]{}, false
}
