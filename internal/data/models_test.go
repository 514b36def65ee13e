package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationCounterpart(t *testing.T) {
	c := &Conversation{ID: "c1", Participants: []string{"me", "ana"}}

	other, ok := c.Counterpart("me")
	assert.True(t, ok)
	assert.Equal(t, "ana", other)

	other, ok = c.Counterpart("ana")
	assert.True(t, ok)
	assert.Equal(t, "me", other)

	_, ok = c.Counterpart("bob")
	assert.False(t, ok)

	_, ok = (&Conversation{Participants: []string{"me", "me"}}).Counterpart("me")
	assert.False(t, ok, "self-conversation has no counterpart")
}

func TestUserNormalize(t *testing.T) {
	u := &User{
		NativeLanguage: " EN ",
		TargetLanguages: []Proficiency{
			{Language: "ja_JP", Level: 9},
			{Language: "KO", Level: 0},
		},
	}
	u.Normalize()

	assert.Equal(t, "en", u.NativeLanguage)
	assert.Equal(t, Proficiency{Language: "ja-jp", Level: MaxProficiency}, u.TargetLanguages[0])
	assert.Equal(t, Proficiency{Language: "ko", Level: MinProficiency}, u.TargetLanguages[1])
}

func TestUserCloneIsDeep(t *testing.T) {
	u := &User{ID: "u", HiddenConversationIDs: []string{"c1"}}
	c := u.Clone()
	c.HiddenConversationIDs[0] = "changed"
	assert.Equal(t, "c1", u.HiddenConversationIDs[0])
	assert.Nil(t, (*User)(nil).Clone())
}

func TestMessageBefore(t *testing.T) {
	now := time.Now()
	a := &Message{ID: "a", Timestamp: now}
	b := &Message{ID: "b", Timestamp: now}
	c := &Message{ID: "0", Timestamp: now.Add(time.Second)}

	assert.True(t, a.Before(b), "equal timestamps order by id")
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestMatchPartner(t *testing.T) {
	m := &Match{UserIDs: []string{"me", "kim"}}
	p, ok := m.Partner("me")
	assert.True(t, ok)
	assert.Equal(t, "kim", p)

	_, ok = m.Partner("other")
	assert.False(t, ok)
}
