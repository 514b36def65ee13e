package session

import (
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
)

// State is the in-memory cache of one signed-in session. It is owned by the
// session loop and never guarded by locks; nothing outside the loop may
// touch it. Readers get copies through View.
type State struct {
	Self   *data.User
	Roster map[string]*data.User // other users by id

	Conversations  map[string]*data.Conversation // index by conversation id
	ConversationOf map[string]string             // counterpart id -> conversation id

	// Per counterpart with an open conversation. Messages are kept sorted
	// ascending by (Timestamp, ID) with unique ids.
	Messages         map[string][]*data.Message
	ReachedBeginning map[string]bool
	LoadingNew       map[string]bool
	LoadingOlder     map[string]bool

	Followers map[string]*data.Follower // by follow document id
	Match     *data.Match

	ActiveCounterpart string
	SetupCompleted    bool

	setupInProgress bool
	closing         bool
	projections     projections
}

func newState() *State {
	return &State{
		Roster:           make(map[string]*data.User),
		Conversations:    make(map[string]*data.Conversation),
		ConversationOf:   make(map[string]string),
		Messages:         make(map[string][]*data.Message),
		ReachedBeginning: make(map[string]bool),
		LoadingNew:       make(map[string]bool),
		LoadingOlder:     make(map[string]bool),
		Followers:        make(map[string]*data.Follower),
	}
}

// selfID is empty until the current user has been fetched.
func (st *State) selfID() string {
	if st.Self == nil {
		return ""
	}
	return st.Self.ID
}

// indexConversation records a conversation and its counterpart mapping.
// Conversations that do not pair self with exactly one other user are
// skipped.
func (st *State) indexConversation(c *data.Conversation) (string, bool) {
	cp, ok := c.Counterpart(st.selfID())
	if !ok {
		return "", false
	}
	st.Conversations[c.ID] = c
	st.ConversationOf[cp] = c.ID
	return cp, true
}

// dropConversation forgets the message state of a counterpart.
func (st *State) dropConversation(cp string) {
	delete(st.Messages, cp)
	delete(st.ReachedBeginning, cp)
	delete(st.LoadingNew, cp)
	delete(st.LoadingOlder, cp)
	if st.ActiveCounterpart == cp {
		st.ActiveCounterpart = ""
	}
}

// followedBy reports whether uid follows self through any follow document.
func (st *State) followedBy(uid string) bool {
	for _, f := range st.Followers {
		if f.FollowerID == uid {
			return true
		}
	}
	return false
}

// matchedWith reports whether uid is the current partner-search match.
func (st *State) matchedWith(uid string) bool {
	if st.Match == nil {
		return false
	}
	p, ok := st.Match.Partner(st.selfID())
	return ok && p == uid
}

// earliest returns the oldest held message of a counterpart, or nil.
func (st *State) earliest(cp string) *data.Message {
	msgs := st.Messages[cp]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[0]
}
