package session

import (
	"sort"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
)

// ConversationView is the published state of one open conversation.
type ConversationView struct {
	CounterpartID    string         `json:"counterpart_id"`
	ConversationID   string         `json:"conversation_id"`
	Messages         []data.Message `json:"messages"`
	LoadingNew       bool           `json:"loading_new"`
	LoadingOlder     bool           `json:"loading_older"`
	ReachedBeginning bool           `json:"reached_beginning"`
}

// View is a deep copy of the published session state. A View handed to
// observers is shared between them and must be treated as read-only.
type View struct {
	SetupCompleted         bool                        `json:"setup_completed"`
	Self                   *data.User                  `json:"self,omitempty"`
	Roster                 map[string]*data.User       `json:"roster"`
	Conversations          map[string]ConversationView `json:"conversations"`
	SortedConversationIDs  []string                    `json:"sorted_conversation_ids"`
	VisibleConversationIDs []string                    `json:"visible_conversation_ids"`
	TotalUnreadMessages    int                         `json:"total_unread_messages"`
	NotificationCount      int                         `json:"notification_count"`
	SearchingForPartner    bool                        `json:"searching_for_partner"`
	MatchedPartnerID       string                      `json:"matched_partner_id,omitempty"`
	ActiveCounterpartID    string                      `json:"active_counterpart_id,omitempty"`
	Followers              []data.Follower             `json:"followers"`
}

// Conversation returns the view of the conversation with a counterpart.
func (v View) Conversation(counterpartID string) (ConversationView, bool) {
	c, ok := v.Conversations[counterpartID]
	return c, ok
}

// buildView copies the state; called on the loop.
func (s *Session) buildView() View {
	st := s.state
	p := st.projections

	v := View{
		SetupCompleted:         st.SetupCompleted,
		Self:                   st.Self.Clone(),
		Roster:                 make(map[string]*data.User, len(st.Roster)),
		Conversations:          make(map[string]ConversationView, len(st.Messages)),
		SortedConversationIDs:  append([]string(nil), p.sorted...),
		VisibleConversationIDs: append([]string(nil), p.visible...),
		TotalUnreadMessages:    p.unread,
		NotificationCount:      p.notifications,
		SearchingForPartner:    p.searching,
		ActiveCounterpartID:    st.ActiveCounterpart,
	}
	for id, u := range st.Roster {
		v.Roster[id] = u.Clone()
	}
	for cp, msgs := range st.Messages {
		cv := ConversationView{
			CounterpartID:    cp,
			ConversationID:   st.ConversationOf[cp],
			Messages:         make([]data.Message, len(msgs)),
			LoadingNew:       st.LoadingNew[cp],
			LoadingOlder:     st.LoadingOlder[cp],
			ReachedBeginning: st.ReachedBeginning[cp],
		}
		for i, m := range msgs {
			cv.Messages[i] = *m
		}
		v.Conversations[cp] = cv
	}
	if st.Match != nil {
		v.MatchedPartnerID, _ = st.Match.Partner(st.selfID())
	}
	for _, f := range st.Followers {
		v.Followers = append(v.Followers, *f)
	}
	sort.Slice(v.Followers, func(i, j int) bool { return v.Followers[i].CreatedAt.After(v.Followers[j].CreatedAt) })
	return v
}
