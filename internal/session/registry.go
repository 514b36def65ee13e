package session

import (
	"sort"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// entry is one reserved or established subscription. reg is nil between
// reservation and the listener being established.
type entry struct {
	token uint64
	reg   gateway.Registration
}

// registry maps ids to active subscription handles. Like State it belongs
// to the session loop.
//
// A slot is reserved with a fresh token before the listener is opened off
// the loop. Callbacks carry that token and are dropped unless it is still
// current, so a cancelled subscription cannot mutate state even when its
// delivery was already queued.
type registry struct {
	name    string
	entries map[string]*entry
}

func newRegistry(name string) *registry {
	return &registry{name: name, entries: make(map[string]*entry)}
}

func (r *registry) reserve(key string, token uint64) {
	r.entries[key] = &entry{token: token}
}

func (r *registry) has(key string) bool {
	_, ok := r.entries[key]
	return ok
}

func (r *registry) current(key string, token uint64) bool {
	e, ok := r.entries[key]
	return ok && e.token == token
}

// attach stores an established listener. A listener whose reservation has
// been cancelled or replaced meanwhile is removed at once.
func (r *registry) attach(key string, token uint64, reg gateway.Registration) bool {
	e, ok := r.entries[key]
	if !ok || e.token != token {
		reg.Remove()
		return false
	}
	e.reg = reg
	return true
}

// cancel removes the listener under key, if any.
func (r *registry) cancel(key string) bool {
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	delete(r.entries, key)
	if e.reg != nil {
		e.reg.Remove()
	}
	return true
}

// cancelAll tears down every listener and clears the registry.
func (r *registry) cancelAll() int {
	n := len(r.entries)
	for key := range r.entries {
		r.cancel(key)
	}
	return n
}

func (r *registry) len() int { return len(r.entries) }

func (r *registry) keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
