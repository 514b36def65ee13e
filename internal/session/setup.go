package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// Setup loads the current user and opens every session listener, then
// opens the most recent conversations concurrently. It returns once all of
// them have settled. A call while Setup is running is a no-op. A call after
// it completed reopens any session listener that failed since.
func (s *Session) Setup(ctx context.Context) error {
	selfID, ok := s.auth.CurrentUserID()
	if !ok || selfID == "" {
		return ErrNotAuthenticated
	}

	var (
		start, resync bool
		setUpAs       string
	)
	err := s.call(ctx, func() error {
		st := s.state
		if st.closing {
			return ErrClosed
		}
		if st.setupInProgress {
			return nil
		}
		st.setupInProgress, start, resync = true, true, st.SetupCompleted
		setUpAs = st.selfID()
		return nil
	})
	if err != nil || !start {
		return err
	}

	if resync {
		err := s.resync(ctx, setUpAs)
		_ = s.call(context.WithoutCancel(ctx), func() error {
			s.state.setupInProgress = false
			return nil
		})
		return err
	}

	if err := s.setup(ctx, selfID); err != nil {
		// leave the session uninitialized so Setup can be retried
		_ = s.call(context.WithoutCancel(ctx), func() error {
			s.rollback()
			return nil
		})
		return err
	}
	return nil
}

// rollback forgets everything a failed setup built. Called on the loop.
func (s *Session) rollback() {
	for _, r := range []*registry{s.self, s.index, s.followers, s.match, s.users, s.messages} {
		r.cancelAll()
	}
	closing := s.state.closing
	s.state = newState()
	s.state.closing = closing
	s.searchSince = time.Time{}
}

// resync reopens the session listeners that are missing after a listener
// failure. The initial snapshots of the reopened listeners bring the state
// up to date.
func (s *Session) resync(ctx context.Context, selfID string) error {
	type pending struct {
		r     *registry
		token uint64
		open  func(token uint64) (gateway.Registration, error)
		what  string
	}
	all := []pending{
		{r: s.self, what: "current user", open: func(token uint64) (gateway.Registration, error) {
			return s.gw.ListenUser(ctx, selfID, s.onSelf(selfID, token))
		}},
		{r: s.index, what: "conversations", open: func(token uint64) (gateway.Registration, error) {
			return s.gw.ListenConversations(ctx, selfID, s.onIndex(selfID, token))
		}},
		{r: s.followers, what: "followers", open: func(token uint64) (gateway.Registration, error) {
			return s.gw.ListenFollowers(ctx, selfID, s.onFollowers(selfID, token))
		}},
	}

	err := s.call(ctx, func() error {
		if s.state.closing {
			return ErrClosed
		}
		for i := range all {
			if !all[i].r.has(selfID) {
				all[i].token = s.token()
				all[i].r.reserve(selfID, all[i].token)
			}
		}
		// a failed match listener comes back while the search is on
		s.syncPartnerSearch()
		return nil
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, p := range all {
		if p.token == 0 {
			continue
		}
		s.log.Info("reopening listener", zap.String("listener", p.what))
		token, open := p.token, p.open
		err := s.establish(p.r, selfID, token, func() (gateway.Registration, error) { return open(token) })
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "listen to %s", p.what)
		}
	}
	return firstErr
}

func (s *Session) setup(ctx context.Context, selfID string) error {
	log := s.log.With(zap.String("user_id", selfID))

	self, err := s.gw.GetUser(ctx, selfID)
	if errors.Is(err, gateway.ErrNotFound) {
		log.Info("user has no profile yet")
		return ErrNotSignedUp
	}
	if err != nil {
		return errors.Wrap(err, "fetch current user")
	}

	var selfToken, indexToken, followersToken uint64
	err = s.call(ctx, func() error {
		s.state.Self = self
		selfToken, indexToken, followersToken = s.token(), s.token(), s.token()
		s.self.reserve(selfID, selfToken)
		s.index.reserve(selfID, indexToken)
		s.followers.reserve(selfID, followersToken)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.establish(s.self, selfID, selfToken, func() (gateway.Registration, error) {
		return s.gw.ListenUser(ctx, selfID, s.onSelf(selfID, selfToken))
	})
	if err != nil {
		return errors.Wrap(err, "listen to current user")
	}

	recent, err := s.gw.RecentConversations(ctx, selfID, s.cfg.RecentConversations)
	if err != nil {
		return errors.Wrap(err, "fetch recent conversations")
	}

	type pair struct{ conversationID, counterpartID string }
	var toOpen []pair
	err = s.call(ctx, func() error {
		for _, c := range recent {
			cp, ok := s.state.indexConversation(c)
			if !ok {
				log.Warn("skipping malformed conversation", zap.String("conversation_id", c.ID))
				continue
			}
			toOpen = append(toOpen, pair{c.ID, cp})
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.establish(s.index, selfID, indexToken, func() (gateway.Registration, error) {
		return s.gw.ListenConversations(ctx, selfID, s.onIndex(selfID, indexToken))
	})
	if err != nil {
		return errors.Wrap(err, "listen to conversations")
	}
	err = s.establish(s.followers, selfID, followersToken, func() (gateway.Registration, error) {
		return s.gw.ListenFollowers(ctx, selfID, s.onFollowers(selfID, followersToken))
	})
	if err != nil {
		return errors.Wrap(err, "listen to followers")
	}

	// per-conversation failures degrade that conversation only
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SetupConcurrency)
	for _, p := range toOpen {
		g.Go(func() error {
			if err := s.openConversation(gctx, p.conversationID, p.counterpartID); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				log.Warn("open conversation during setup", zap.String("conversation_id", p.conversationID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.call(ctx, func() error {
		st := s.state
		st.setupInProgress = false
		st.SetupCompleted = true
		s.changed()
		log.Info("session set up", zap.Int("conversations", len(toOpen)))
		return nil
	})
}
