// Package auth holds the signed-in identity of the process and the JWT
// handling of the state API.
package auth

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/normalize"
)

// Provider is the current-user source. Sign-in itself happens elsewhere;
// the provider only records its outcome.
type Provider struct {
	mu     sync.RWMutex
	userID string
}

// NewProvider returns a provider signed in as userID, or signed out when
// userID is empty.
func NewProvider(userID string) *Provider {
	return &Provider{userID: normalize.ID(userID)}
}

// SignIn records userID as the current user.
func (p *Provider) SignIn(userID string) error {
	userID = normalize.ID(userID)
	if userID == "" || strings.ContainsAny(userID, "/ ") {
		return errors.Errorf("invalid user id %q", userID)
	}
	p.mu.Lock()
	p.userID = userID
	p.mu.Unlock()
	return nil
}

// SignOut forgets the current user.
func (p *Provider) SignOut() {
	p.mu.Lock()
	p.userID = ""
	p.mu.Unlock()
}

// CurrentUserID returns the signed-in user.
func (p *Provider) CurrentUserID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID, p.userID != ""
}

func (p *Provider) IsAuthenticated() bool {
	_, ok := p.CurrentUserID()
	return ok
}
