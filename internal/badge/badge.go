// Package badge publishes the app icon badge counts of the session user so
// the push backend can show them while the app is in the background.
package badge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

const publishTimeout = 5 * time.Second

// Counts is what the badge shows.
type Counts struct {
	Unread        int `json:"unread"`
	Notifications int `json:"notifications"`
}

// Publisher stores the counts of one user.
type Publisher interface {
	Publish(ctx context.Context, userID string, c Counts) error
}

type update struct {
	userID string
	counts Counts
}

// Tracker observes session views and forwards changed counts to a
// Publisher. Observe never blocks; a slow publisher only ever sees the
// newest counts.
type Tracker struct {
	pub Publisher
	log *zap.Logger

	mu       sync.Mutex
	last     update
	haveLast bool
	next     *update

	wake chan struct{}
}

// NewTracker creates a tracker. Call Run to start publishing.
func NewTracker(pub Publisher, log *zap.Logger) *Tracker {
	return &Tracker{
		pub:  pub,
		log:  log.Named("badge"),
		wake: make(chan struct{}, 1),
	}
}

// Observe is a session observer.
func (t *Tracker) Observe(v session.View) {
	if !v.SetupCompleted || v.Self == nil {
		return
	}
	u := update{
		userID: v.Self.ID,
		counts: Counts{Unread: v.TotalUnreadMessages, Notifications: v.NotificationCount},
	}

	t.mu.Lock()
	if t.haveLast && t.last == u {
		t.mu.Unlock()
		return
	}
	t.last, t.haveLast = u, true
	t.next = &u
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run publishes queued counts until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
			t.flush(ctx)
		}
	}
}

func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()
	u := t.next
	t.next = nil
	t.mu.Unlock()
	if u == nil {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := t.pub.Publish(pctx, u.userID, u.counts); err != nil {
		t.log.Warn("publish badge",
			zap.String("user_id", u.userID),
			zap.Int("unread", u.counts.Unread),
			zap.Error(err),
		)
		// Forget the counts so the next view retries them.
		t.mu.Lock()
		if t.last == *u {
			t.haveLast = false
		}
		t.mu.Unlock()
		return
	}
	t.log.Debug("badge published",
		zap.String("user_id", u.userID),
		zap.Int("unread", u.counts.Unread),
		zap.Int("notifications", u.counts.Notifications),
	)
}
