package session

import (
	"sort"
)

// projections caches the derived values published with every View.
type projections struct {
	unread        int
	notifications int
	sorted        []string
	visible       []string
	searching     bool
}

func project(st *State) projections {
	sorted := SortedConversationIDs(st)
	return projections{
		unread:        TotalUnreadMessages(st),
		notifications: NotificationCount(st),
		sorted:        sorted,
		visible:       visible(st, sorted),
		searching:     IsSearchingForPartner(st),
	}
}

// TotalUnreadMessages counts messages addressed to self that are unread and
// not in a hidden conversation.
func TotalUnreadMessages(st *State) int {
	if st.Self == nil {
		return 0
	}
	n := 0
	for _, msgs := range st.Messages {
		for _, m := range msgs {
			if m.ReceiverID == st.Self.ID && !m.HasBeenRead && !st.Self.HidesConversation(m.ConversationID) {
				n++
			}
		}
	}
	return n
}

// SortedConversationIDs orders the counterparts of open conversations by
// their last message, newest first. Ties and counterparts without messages
// (which come last) are ordered by id.
func SortedConversationIDs(st *State) []string {
	ids := make([]string, 0, len(st.Messages))
	for cp := range st.Messages {
		ids = append(ids, cp)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := st.Messages[ids[i]], st.Messages[ids[j]]
		switch {
		case len(a) == 0 && len(b) == 0:
			return ids[i] < ids[j]
		case len(a) == 0:
			return false
		case len(b) == 0:
			return true
		}
		ta, tb := a[len(a)-1].Timestamp, b[len(b)-1].Timestamp
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// VisibleConversationIDs is SortedConversationIDs without the conversations
// self has hidden.
func VisibleConversationIDs(st *State) []string {
	return visible(st, SortedConversationIDs(st))
}

func visible(st *State, sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for _, cp := range sorted {
		if st.Self != nil && st.Self.HidesConversation(st.ConversationOf[cp]) {
			continue
		}
		out = append(out, cp)
	}
	return out
}

// NotificationCount is the app badge: unread messages plus unseen followers.
func NotificationCount(st *State) int {
	n := TotalUnreadMessages(st)
	for _, f := range st.Followers {
		if !f.Seen {
			n++
		}
	}
	return n
}

// IsSearchingForPartner reports whether self is currently looking for a
// language partner.
func IsSearchingForPartner(st *State) bool {
	return st.Self != nil && st.Self.SearchingForPartner
}
