package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// Content is the payload of an outgoing message.
type Content struct {
	Kind     data.MessageKind `json:"kind"`
	Text     string           `json:"text,omitempty"`
	MediaURL string           `json:"media_url,omitempty"`
}

func (c Content) validate() error {
	switch c.Kind {
	case data.KindText, "":
		if strings.TrimSpace(c.Text) == "" {
			return precondition("text message is empty")
		}
	case data.KindVoice, data.KindImage:
		if c.MediaURL == "" {
			return precondition("%s message without media url", c.Kind)
		}
	default:
		return precondition("unknown message kind %q", c.Kind)
	}
	return nil
}

// requireSetUp is called on the loop.
func (s *Session) requireSetUp() error {
	if s.state.closing {
		return ErrClosed
	}
	if !s.state.SetupCompleted {
		return ErrNotSetUp
	}
	return nil
}

// requireOpen is called on the loop.
func (s *Session) requireOpen(counterpartID string) error {
	if err := s.requireSetUp(); err != nil {
		return err
	}
	if !s.messages.has(counterpartID) {
		return precondition("no open conversation with %s", counterpartID)
	}
	return nil
}

// OpenConversation starts the live message tail and the counterpart user
// listener for a conversation. Opening an already open conversation only
// ensures the user listener.
func (s *Session) OpenConversation(ctx context.Context, conversationID, counterpartID string) error {
	if err := s.call(ctx, s.requireSetUp); err != nil {
		return err
	}
	return s.openConversation(ctx, conversationID, counterpartID)
}

func (s *Session) openConversation(ctx context.Context, conversationID, counterpartID string) error {
	var (
		msgToken, userToken uint64
		freshState          bool
	)
	err := s.call(ctx, func() error {
		st := s.state
		if st.closing {
			return ErrClosed
		}
		conv, ok := st.Conversations[conversationID]
		if !ok {
			return precondition("unknown conversation %s", conversationID)
		}
		if cp, ok := conv.Counterpart(st.selfID()); !ok || cp != counterpartID {
			return precondition("%s is not the counterpart in conversation %s", counterpartID, conversationID)
		}

		if !s.messages.has(counterpartID) {
			msgToken = s.token()
			s.messages.reserve(counterpartID, msgToken)
			st.ConversationOf[counterpartID] = conversationID
			// messages held from a failed listener stay until the new tail merges in
			if _, held := st.Messages[counterpartID]; !held {
				st.Messages[counterpartID] = nil
				freshState = true
			}
			st.LoadingNew[counterpartID] = true
			s.changed()
		}
		if !s.users.has(counterpartID) {
			userToken = s.token()
			s.users.reserve(counterpartID, userToken)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log := s.log.With(zap.String("counterpart_id", counterpartID), zap.String("conversation_id", conversationID))

	if msgToken != 0 {
		err := s.establish(s.messages, counterpartID, msgToken, func() (gateway.Registration, error) {
			return s.gw.ListenMessages(ctx, conversationID, s.cfg.MessagePageSize, s.onMessages(counterpartID, msgToken))
		})
		if err != nil {
			s.submit(func() {
				if userToken != 0 && s.users.current(counterpartID, userToken) {
					s.users.cancel(counterpartID)
				}
				switch {
				case s.messages.has(counterpartID):
				case freshState:
					s.state.dropConversation(counterpartID)
					s.changed()
				default:
					s.state.LoadingNew[counterpartID] = false
					s.changed()
				}
			})
			log.Warn("open message listener", zap.Error(err))
			return errors.Wrapf(err, "listen to messages with %s", counterpartID)
		}
	}

	if userToken != 0 {
		err := s.establish(s.users, counterpartID, userToken, func() (gateway.Registration, error) {
			return s.gw.ListenUser(ctx, counterpartID, s.onCounterpart(counterpartID, userToken))
		})
		if err != nil {
			log.Warn("open counterpart listener", zap.Error(err))
			return errors.Wrapf(err, "listen to user %s", counterpartID)
		}
	}

	if msgToken != 0 {
		log.Debug("conversation opened")
	}
	return nil
}

// onMessages returns the message tail callback for one reservation.
func (s *Session) onMessages(counterpartID string, token uint64) gateway.Listener[*data.Message] {
	return func(snap gateway.Snapshot[*data.Message], err error) {
		s.submit(func() {
			if !s.messages.current(counterpartID, token) {
				s.log.Debug("dropping message delivery for closed listener", zap.String("counterpart_id", counterpartID))
				return
			}
			st := s.state
			if err != nil {
				s.log.Warn("message listener failed", zap.String("counterpart_id", counterpartID), zap.Error(err))
				// Held messages stay visible; OpenConversation starts a new tail.
				s.messages.cancel(counterpartID)
				st.LoadingNew[counterpartID] = false
				s.changed()
				return
			}

			merged, ignored := applyChanges(st.Messages[counterpartID], snap.Changes)
			st.Messages[counterpartID] = merged
			for _, id := range ignored {
				s.log.Debug("ignoring removed message", zap.String("counterpart_id", counterpartID), zap.String("message_id", id))
			}
			if snap.Initial {
				st.LoadingNew[counterpartID] = false
			}
			s.changed()
		})
	}
}

// onCounterpart returns the counterpart user callback for one reservation.
func (s *Session) onCounterpart(counterpartID string, token uint64) gateway.UserListener {
	return func(u *data.User, err error) {
		s.submit(func() {
			if !s.users.current(counterpartID, token) {
				return
			}
			switch {
			case err != nil:
				s.log.Warn("counterpart listener failed", zap.String("counterpart_id", counterpartID), zap.Error(err))
				s.users.cancel(counterpartID)
				return
			case u == nil:
				s.log.Warn("counterpart user does not exist", zap.String("counterpart_id", counterpartID))
				return
			}
			s.state.Roster[counterpartID] = u
			s.changed()
		})
	}
}

// LoadOlderMessages fetches one page of history before the earliest held
// message. A call while another is in flight for the same counterpart is
// dropped.
func (s *Session) LoadOlderMessages(ctx context.Context, counterpartID string) error {
	var (
		token          uint64
		conversationID string
		before         time.Time
		skip           bool
	)
	err := s.call(ctx, func() error {
		if err := s.requireOpen(counterpartID); err != nil {
			return err
		}
		st := s.state
		if st.ReachedBeginning[counterpartID] {
			return precondition("history with %s is exhausted", counterpartID)
		}
		if st.LoadingOlder[counterpartID] {
			skip = true
			return nil
		}
		token = s.messages.entries[counterpartID].token
		conversationID = st.ConversationOf[counterpartID]
		if m := st.earliest(counterpartID); m != nil {
			before = m.Timestamp
		}
		st.LoadingOlder[counterpartID] = true
		s.changed()
		return nil
	})
	if err != nil || skip {
		return err
	}

	page, qerr := s.gw.OlderMessages(ctx, conversationID, before, s.cfg.MessagePageSize)

	return s.call(context.WithoutCancel(ctx), func() error {
		if !s.messages.current(counterpartID, token) {
			// closed or reopened meanwhile
			return nil
		}
		st := s.state
		st.LoadingOlder[counterpartID] = false
		if qerr != nil {
			s.changed()
			s.log.Warn("load older messages", zap.String("counterpart_id", counterpartID), zap.Error(qerr))
			return errors.Wrapf(qerr, "load older messages with %s", counterpartID)
		}
		st.Messages[counterpartID] = mergeOlder(st.Messages[counterpartID], page)
		if len(page) < s.cfg.MessagePageSize {
			st.ReachedBeginning[counterpartID] = true
		}
		s.changed()
		return nil
	})
}

// CloseConversation removes both listeners of a counterpart and forgets its
// messages. The counterpart stays in the roster while a follow or the
// partner match still refers to it. Closing a conversation that is not open
// is a no-op.
func (s *Session) CloseConversation(ctx context.Context, counterpartID string) error {
	return s.call(ctx, func() error {
		if s.state.closing {
			return ErrClosed
		}
		s.closeConversation(counterpartID)
		return nil
	})
}

// closeConversation is called on the loop.
func (s *Session) closeConversation(counterpartID string) {
	st := s.state
	_, held := st.Messages[counterpartID]
	hadMessages := s.messages.cancel(counterpartID)
	hadUser := s.users.cancel(counterpartID)
	if !held && !hadMessages && !hadUser {
		return
	}
	st.dropConversation(counterpartID)
	if !st.followedBy(counterpartID) && !st.matchedWith(counterpartID) {
		delete(st.Roster, counterpartID)
	}
	s.log.Debug("conversation closed", zap.String("counterpart_id", counterpartID))
	s.changed()
}

// SendMessage writes a message to an open conversation. Local state only
// changes when the listener echoes the write back.
func (s *Session) SendMessage(ctx context.Context, counterpartID string, content Content) error {
	if err := content.validate(); err != nil {
		return err
	}

	var msg data.Message
	err := s.call(ctx, func() error {
		if err := s.requireOpen(counterpartID); err != nil {
			return err
		}
		if content.Kind == "" {
			content.Kind = data.KindText
		}
		msg = data.Message{
			ID:             uuid.NewString(),
			ConversationID: s.state.ConversationOf[counterpartID],
			SenderID:       s.state.selfID(),
			ReceiverID:     counterpartID,
			Timestamp:      s.cfg.Now().UTC(),
			Kind:           content.Kind,
			Text:           content.Text,
			MediaURL:       content.MediaURL,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.gw.AddMessage(ctx, &msg); err != nil {
		s.log.Warn("send message", zap.String("counterpart_id", counterpartID), zap.Error(err))
		return errors.Wrapf(err, "send message to %s", counterpartID)
	}
	return nil
}

// MarkConversationRead marks every held unread message from the counterpart
// as read.
func (s *Session) MarkConversationRead(ctx context.Context, counterpartID string) error {
	var (
		conversationID string
		ids            []string
	)
	err := s.call(ctx, func() error {
		if err := s.requireOpen(counterpartID); err != nil {
			return err
		}
		self := s.state.selfID()
		conversationID = s.state.ConversationOf[counterpartID]
		for _, m := range s.state.Messages[counterpartID] {
			if m.ReceiverID == self && !m.HasBeenRead {
				ids = append(ids, m.ID)
			}
		}
		return nil
	})
	if err != nil || len(ids) == 0 {
		return err
	}

	if err := s.gw.MarkRead(ctx, conversationID, ids); err != nil {
		s.log.Warn("mark conversation read", zap.String("counterpart_id", counterpartID), zap.Error(err))
		return errors.Wrapf(err, "mark conversation with %s read", counterpartID)
	}
	return nil
}

// HideConversation adds the conversation with a counterpart to self's hidden
// set. Its messages stop counting as unread once the self listener echoes it.
func (s *Session) HideConversation(ctx context.Context, counterpartID string) error {
	var selfID, conversationID string
	err := s.call(ctx, func() error {
		if err := s.requireSetUp(); err != nil {
			return err
		}
		id, ok := s.state.ConversationOf[counterpartID]
		if !ok {
			return precondition("no conversation with %s", counterpartID)
		}
		selfID, conversationID = s.state.selfID(), id
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.gw.HideConversation(ctx, selfID, conversationID); err != nil {
		return errors.Wrapf(err, "hide conversation %s", conversationID)
	}
	return nil
}

// SetActiveConversation records which conversation is on screen. An empty
// id clears it.
func (s *Session) SetActiveConversation(ctx context.Context, counterpartID string) error {
	return s.call(ctx, func() error {
		if counterpartID != "" {
			if err := s.requireOpen(counterpartID); err != nil {
				return err
			}
		} else if err := s.requireSetUp(); err != nil {
			return err
		}
		if s.state.ActiveCounterpart == counterpartID {
			return nil
		}
		s.state.ActiveCounterpart = counterpartID
		s.changed()
		return nil
	})
}
