package data

import (
	"time"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/normalize"
)

// Proficiency levels accepted for a target language.
const (
	MinProficiency = 1
	MaxProficiency = 5
)

// Proficiency is a target language and the user's self-assessed level (1-5).
type Proficiency struct {
	Language string `bson:"language" firestore:"language" json:"language"`
	Level    int    `bson:"level" firestore:"level" json:"level"`
}

// User maps to the users collection (profile, languages, search state, push token)
type User struct {
	ID                    string        `bson:"_id" firestore:"-" json:"id"`
	Username              string        `bson:"username" firestore:"username" json:"username"`
	NativeLanguage        string        `bson:"native_language" firestore:"nativeLanguage" json:"native_language"`
	TargetLanguages       []Proficiency `bson:"target_languages" firestore:"targetLanguages" json:"target_languages"`
	SearchingForPartner   bool          `bson:"searching_for_partner" firestore:"searchingForPartner" json:"searching_for_partner"`
	HiddenConversationIDs []string      `bson:"hidden_conversation_ids" firestore:"hiddenConversationIds" json:"hidden_conversation_ids"`
	FCMToken              string        `bson:"fcm_token,omitempty" firestore:"fcmToken,omitempty" json:"-"`
	CreatedAt             time.Time     `bson:"created_at" firestore:"createdAt" json:"created_at"`
}

// Normalize lower-cases language codes and clamps proficiency levels into range.
// Gateways call it on every decoded user.
func (u *User) Normalize() {
	u.NativeLanguage = normalize.Language(u.NativeLanguage)
	for i := range u.TargetLanguages {
		p := &u.TargetLanguages[i]
		p.Language = normalize.Language(p.Language)
		if p.Level < MinProficiency {
			p.Level = MinProficiency
		}
		if p.Level > MaxProficiency {
			p.Level = MaxProficiency
		}
	}
}

// HidesConversation reports whether the conversation id is in the user's hidden set.
func (u *User) HidesConversation(conversationID string) bool {
	for _, id := range u.HiddenConversationIDs {
		if id == conversationID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.TargetLanguages = append([]Proficiency(nil), u.TargetLanguages...)
	c.HiddenConversationIDs = append([]string(nil), u.HiddenConversationIDs...)
	return &c
}

// Conversation maps to the conversations collection. Participants never change after creation.
type Conversation struct {
	ID            string    `bson:"_id" firestore:"-" json:"id"`
	Participants  []string  `bson:"participants" firestore:"participants" json:"participants"`
	CreatedAt     time.Time `bson:"created_at" firestore:"createdAt" json:"created_at"`
	LastMessageAt time.Time `bson:"last_message_at" firestore:"lastMessageAt" json:"last_message_at"`
}

// Counterpart returns the participant other than self. ok is false unless the
// conversation has exactly two distinct participants and self is one of them.
func (c *Conversation) Counterpart(self string) (string, bool) {
	if len(c.Participants) != 2 || c.Participants[0] == c.Participants[1] {
		return "", false
	}
	switch self {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	}
	return "", false
}

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
	KindImage MessageKind = "image"
)

// Message maps to the messages of a conversation (sender, receiver, content, read flag)
type Message struct {
	ID             string      `bson:"_id" firestore:"-" json:"id"`
	ConversationID string      `bson:"conversation_id" firestore:"conversationId" json:"conversation_id"`
	SenderID       string      `bson:"sender_id" firestore:"senderId" json:"sender_id"`
	ReceiverID     string      `bson:"receiver_id" firestore:"receiverId" json:"receiver_id"`
	Timestamp      time.Time   `bson:"timestamp" firestore:"timestamp" json:"timestamp"`
	Kind           MessageKind `bson:"kind" firestore:"kind" json:"kind"`
	Text           string      `bson:"text,omitempty" firestore:"text,omitempty" json:"text,omitempty"`
	MediaURL       string      `bson:"media_url,omitempty" firestore:"mediaUrl,omitempty" json:"media_url,omitempty"`
	HasBeenRead    bool        `bson:"has_been_read" firestore:"hasBeenRead" json:"has_been_read"`
}

// Before orders messages by timestamp, then id for equal timestamps.
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.ID < o.ID
}

// Follower maps to a follow relationship: FollowerID follows UserID.
type Follower struct {
	ID         string    `bson:"_id" firestore:"-" json:"id"`
	UserID     string    `bson:"user_id" firestore:"userId" json:"user_id"`
	FollowerID string    `bson:"follower_id" firestore:"followerId" json:"follower_id"`
	CreatedAt  time.Time `bson:"created_at" firestore:"createdAt" json:"created_at"`
	Seen       bool      `bson:"seen" firestore:"seen" json:"seen"`
}

// Match is a language-partner search result pairing two users.
type Match struct {
	ID        string    `bson:"_id" firestore:"-" json:"id"`
	UserIDs   []string  `bson:"user_ids" firestore:"userIds" json:"user_ids"`
	CreatedAt time.Time `bson:"created_at" firestore:"createdAt" json:"created_at"`
}

// Partner returns the matched user other than self.
func (m *Match) Partner(self string) (string, bool) {
	if len(m.UserIDs) != 2 {
		return "", false
	}
	switch self {
	case m.UserIDs[0]:
		return m.UserIDs[1], m.UserIDs[1] != self
	case m.UserIDs[1]:
		return m.UserIDs[0], true
	}
	return "", false
}
