package session

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

const matchKey = "match"

// onSelf handles the self user listener.
func (s *Session) onSelf(selfID string, token uint64) gateway.UserListener {
	return func(u *data.User, err error) {
		s.submit(func() {
			if !s.self.current(selfID, token) {
				return
			}
			switch {
			case err != nil:
				s.log.Warn("self listener failed", zap.Error(err))
				s.self.cancel(selfID)
				return
			case u == nil:
				s.log.Warn("self user document disappeared", zap.String("user_id", selfID))
				return
			}

			s.state.Self = u
			s.syncPartnerSearch()
			s.changed()
		})
	}
}

// syncPartnerSearch opens or removes the match listener to follow the
// searching flag of self. Called on the loop.
func (s *Session) syncPartnerSearch() {
	st := s.state
	searching := st.Self != nil && st.Self.SearchingForPartner

	switch {
	case searching && !s.match.has(matchKey) && !st.closing:
		token := s.token()
		s.match.reserve(matchKey, token)
		s.searchSince = s.cfg.Now()
		selfID := st.Self.ID
		s.log.Info("partner search started")
		s.spawn(func(ctx context.Context) {
			err := s.establish(s.match, matchKey, token, func() (gateway.Registration, error) {
				return s.gw.ListenPartnerMatches(ctx, selfID, s.onMatches(selfID, token))
			})
			if err != nil {
				s.log.Warn("open partner match listener", zap.Error(err))
			}
		})
	case !searching && s.match.has(matchKey):
		s.match.cancel(matchKey)
		s.log.Info("partner search stopped")
	}
}

// onMatches handles the partner match listener. The first match involving
// self ends the search.
func (s *Session) onMatches(selfID string, token uint64) gateway.Listener[*data.Match] {
	return func(snap gateway.Snapshot[*data.Match], err error) {
		s.submit(func() {
			if !s.match.current(matchKey, token) {
				return
			}
			if err != nil {
				s.log.Warn("partner match listener failed", zap.Error(err))
				s.match.cancel(matchKey)
				return
			}

			for _, c := range snap.Changes {
				if c.Kind == gateway.Removed || c.Doc == nil {
					continue
				}
				// matches from earlier searches are already in the initial snapshot
				if snap.Initial && c.Doc.CreatedAt.Before(s.searchSince) {
					continue
				}
				partnerID, ok := c.Doc.Partner(selfID)
				if !ok {
					continue
				}
				s.matched(c.Doc, selfID, partnerID)
				return
			}
		})
	}
}

// matched records a match, stops listening and clears the remote search
// flag. Called on the loop.
func (s *Session) matched(m *data.Match, selfID, partnerID string) {
	s.state.Match = m
	s.match.cancel(matchKey)
	s.log.Info("partner found", zap.String("partner_id", partnerID), zap.String("match_id", m.ID))
	s.changed()

	s.fetchUser(partnerID)
	s.spawn(func(ctx context.Context) {
		if err := s.gw.SetSearchingForPartner(ctx, selfID, false); err != nil {
			s.log.Warn("clear searching flag after match", zap.Error(err))
		}
	})
}

// fetchUser loads a user once into the roster if it is still referenced
// when the read completes. Called on the loop.
func (s *Session) fetchUser(userID string) {
	if s.fetching[userID] {
		return
	}
	if _, ok := s.state.Roster[userID]; ok {
		return
	}
	s.fetching[userID] = true
	s.spawn(func(ctx context.Context) {
		u, err := s.gw.GetUser(ctx, userID)
		s.submit(func() {
			delete(s.fetching, userID)
			switch {
			case errors.Is(err, gateway.ErrNotFound):
				s.log.Warn("referenced user does not exist", zap.String("user_id", userID))
				return
			case err != nil:
				s.log.Warn("fetch user", zap.String("user_id", userID), zap.Error(err))
				return
			}
			st := s.state
			if !st.followedBy(userID) && !st.matchedWith(userID) && !s.users.has(userID) {
				return
			}
			if _, ok := st.Roster[userID]; !ok {
				st.Roster[userID] = u
				s.changed()
			}
		})
	})
}

// onIndex handles the conversations index listener. Conversations added
// after the initial snapshot are opened right away. Those in the initial
// snapshot that were unknown before it are opened when they fall within the
// recent window, which covers conversations created while the listener was
// being (re)established.
func (s *Session) onIndex(selfID string, token uint64) gateway.Listener[*data.Conversation] {
	return func(snap gateway.Snapshot[*data.Conversation], err error) {
		s.submit(func() {
			if !s.index.current(selfID, token) {
				return
			}
			if err != nil {
				s.log.Warn("conversations listener failed", zap.Error(err))
				s.index.cancel(selfID)
				return
			}

			st := s.state
			var (
				indexed []*data.Conversation
				unknown = make(map[string]string) // conversation id -> counterpart id
			)
			for _, c := range snap.Changes {
				if c.Kind == gateway.Removed || c.Doc == nil {
					s.log.Debug("ignoring removed conversation", zap.String("conversation_id", c.ID))
					continue
				}
				conv := *c.Doc
				if conv.ID == "" {
					conv.ID = c.ID
				}
				_, known := st.Conversations[conv.ID]
				cp, ok := st.indexConversation(&conv)
				if !ok {
					s.log.Warn("skipping malformed conversation", zap.String("conversation_id", conv.ID))
					continue
				}
				if snap.Initial {
					indexed = append(indexed, &conv)
					if !known {
						unknown[conv.ID] = cp
					}
					continue
				}
				if c.Kind == gateway.Added {
					s.openInBackground(conv.ID, cp)
				}
			}

			if snap.Initial && len(unknown) > 0 {
				for _, id := range recentWindow(indexed, s.cfg.RecentConversations) {
					if cp, ok := unknown[id]; ok {
						s.openInBackground(id, cp)
					}
				}
			}
			s.changed()
		})
	}
}

// openInBackground opens a conversation off the loop unless it is open.
// Called on the loop.
func (s *Session) openInBackground(conversationID, counterpartID string) {
	if s.messages.has(counterpartID) {
		return
	}
	s.spawn(func(ctx context.Context) {
		if err := s.openConversation(ctx, conversationID, counterpartID); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warn("open new conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	})
}

// recentWindow returns the ids of the n most recently active conversations.
func recentWindow(convs []*data.Conversation, n int) []string {
	sorted := append([]*data.Conversation(nil), convs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	ids := make([]string, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}
	return ids
}

// onFollowers handles the follower list listener.
func (s *Session) onFollowers(selfID string, token uint64) gateway.Listener[*data.Follower] {
	return func(snap gateway.Snapshot[*data.Follower], err error) {
		s.submit(func() {
			if !s.followers.current(selfID, token) {
				return
			}
			if err != nil {
				s.log.Warn("followers listener failed", zap.Error(err))
				s.followers.cancel(selfID)
				return
			}

			st := s.state
			for _, c := range snap.Changes {
				if c.Kind == gateway.Removed {
					gone, ok := st.Followers[c.ID]
					if !ok {
						continue
					}
					delete(st.Followers, c.ID)
					if !st.followedBy(gone.FollowerID) && !st.matchedWith(gone.FollowerID) && !s.users.has(gone.FollowerID) {
						delete(st.Roster, gone.FollowerID)
					}
					continue
				}
				if c.Doc == nil {
					continue
				}
				f := *c.Doc
				if f.ID == "" {
					f.ID = c.ID
				}
				st.Followers[f.ID] = &f
				s.fetchUser(f.FollowerID)
			}
			s.changed()
		})
	}
}

// StartPartnerSearch sets the remote searching flag. The match listener
// opens when the self listener echoes the change.
func (s *Session) StartPartnerSearch(ctx context.Context) error {
	return s.setSearching(ctx, true)
}

// StopPartnerSearch clears the remote searching flag.
func (s *Session) StopPartnerSearch(ctx context.Context) error {
	return s.setSearching(ctx, false)
}

func (s *Session) setSearching(ctx context.Context, searching bool) error {
	var selfID string
	err := s.call(ctx, func() error {
		if err := s.requireSetUp(); err != nil {
			return err
		}
		selfID = s.state.selfID()
		if searching && s.state.Match != nil {
			// a new search replaces the previous result
			s.state.Match = nil
			s.changed()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.gw.SetSearchingForPartner(ctx, selfID, searching); err != nil {
		return errors.Wrap(err, "set searching for partner")
	}
	return nil
}
