package api

import (
	"errors"
	"testing"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

type fakeSender struct {
	last *session.View
	fail bool
}

func (f *fakeSender) Send(v session.View) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.last = &v
	return nil
}

func viewWithUnread(uid string, n int) session.View {
	return session.View{Self: &data.User{ID: uid}, TotalUnreadMessages: n}
}

func TestConnectionHub_RegisterAndSend(t *testing.T) {
	hub := NewConnectionHub()

	senderA := &fakeSender{}
	senderB := &fakeSender{}

	idA := hub.Register("alice", senderA)
	_ = hub.Register("alice", senderB)

	if err := hub.SendToUser("alice", viewWithUnread("alice", 1)); err != nil {
		t.Fatalf("expected send success, got error: %v", err)
	}
	if senderA.last == nil || senderA.last.TotalUnreadMessages != 1 {
		t.Fatalf("sender A did not receive the view")
	}

	hub.Unregister("alice", idA)
	if got := hub.Connections("alice"); got != 1 {
		t.Fatalf("expected 1 connection after unregister, got %d", got)
	}

	if err := hub.SendToUser("alice", viewWithUnread("alice", 2)); err != nil {
		t.Fatalf("expected send success after unregistering one connection: %v", err)
	}
	if senderA.last.TotalUnreadMessages == 2 {
		t.Fatalf("sender A should not have received the second view after unregister")
	}
	if senderB.last.TotalUnreadMessages != 2 {
		t.Fatalf("sender B missed the second view")
	}
}

func TestConnectionHub_SendToOffline(t *testing.T) {
	hub := NewConnectionHub()

	if err := hub.SendToUser("nobody", session.View{}); err == nil {
		t.Fatalf("expected error when sending to offline user")
	}
}

func TestConnectionHub_SendPartialFailure(t *testing.T) {
	hub := NewConnectionHub()

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}

	_ = hub.Register("dana", ok)
	_ = hub.Register("dana", bad)

	if err := hub.SendToUser("dana", viewWithUnread("dana", 1)); err == nil {
		t.Fatalf("expected error due to partial sender failure")
	}

	// The failing connection is gone now.
	if err := hub.SendToUser("dana", viewWithUnread("dana", 3)); err != nil {
		t.Fatalf("expected send to succeed after cleanup of failed connections: %v", err)
	}
	if ok.last == nil || ok.last.TotalUnreadMessages != 3 {
		t.Fatalf("healthy sender did not receive view after cleanup")
	}
}

func TestConnectionHub_PublishRoutesBySelf(t *testing.T) {
	hub := NewConnectionHub()
	alice := &fakeSender{}
	bob := &fakeSender{}
	hub.Register("alice", alice)
	hub.Register("bob", bob)

	hub.Publish(viewWithUnread("bob", 4))
	hub.Publish(session.View{})

	if alice.last != nil {
		t.Fatalf("alice received bob's view")
	}
	if bob.last == nil || bob.last.TotalUnreadMessages != 4 {
		t.Fatalf("bob did not receive his view")
	}
}

func TestWSConn_SendKeepsLatest(t *testing.T) {
	c := &wsConn{pending: make(chan session.View, 1), done: make(chan struct{})}

	for i := 1; i <= 3; i++ {
		if err := c.Send(viewWithUnread("alice", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	got := <-c.pending
	if got.TotalUnreadMessages != 3 {
		t.Fatalf("expected newest view, got unread=%d", got.TotalUnreadMessages)
	}

	close(c.done)
	if err := c.Send(viewWithUnread("alice", 4)); !errors.Is(err, errConnClosed) {
		t.Fatalf("expected errConnClosed, got %v", err)
	}
}
