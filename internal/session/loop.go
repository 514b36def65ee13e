// Package session keeps a local cache of the signed-in user's conversations
// in sync with the remote gateway.
//
// All state lives on a single loop goroutine. Gateway callbacks and intents
// are turned into closures run on that loop, while every gateway call
// (reads, writes, opening listeners) happens off it.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// Identity reports the authenticated user.
type Identity interface {
	CurrentUserID() (string, bool)
}

// Config tunes a Session.
type Config struct {
	// RecentConversations opened during Setup.
	RecentConversations int
	// MessagePageSize is the live tail window and the pagination page size.
	MessagePageSize int
	// SetupConcurrency bounds the per-conversation fan-out in Setup.
	SetupConcurrency int
	// Now stamps outgoing messages. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		RecentConversations: 10,
		MessagePageSize:     30,
		SetupConcurrency:    10,
		Now:                 time.Now,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RecentConversations <= 0 {
		c.RecentConversations = def.RecentConversations
	}
	if c.MessagePageSize <= 0 {
		c.MessagePageSize = def.MessagePageSize
	}
	if c.SetupConcurrency <= 0 {
		c.SetupConcurrency = def.SetupConcurrency
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// Session is the synchronization coordinator for one authenticated session.
type Session struct {
	gw   gateway.Gateway
	auth Identity
	cfg  Config
	log  *zap.Logger

	ops     chan func()
	quit    chan struct{}
	stopped chan struct{}

	// background work spawned by the loop, cancelled on Close
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	closeOnce sync.Once

	// owned by the loop
	state       *State
	nextToken   uint64
	self        *registry
	index       *registry
	followers   *registry
	match       *registry
	users       *registry
	messages    *registry
	fetching    map[string]bool
	searchSince time.Time
	observers   map[uint64]func(View)
}

// New starts the session loop. Call Setup to begin synchronizing and Close
// to release every listener.
func New(gw gateway.Gateway, auth Identity, cfg Config, log *zap.Logger) *Session {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Session{
		gw:        gw,
		auth:      auth,
		cfg:       cfg.withDefaults(),
		log:       log.Named("session"),
		ops:       make(chan func()),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		state:     newState(),
		self:      newRegistry("self"),
		index:     newRegistry("conversations"),
		followers: newRegistry("followers"),
		match:     newRegistry("match"),
		users:     newRegistry("users"),
		messages:  newRegistry("messages"),
		fetching:  make(map[string]bool),
		observers: make(map[uint64]func(View)),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// submit queues op on the loop. The channel is unbuffered, so an accepted op
// always runs; false means the session is closed and op was dropped.
func (s *Session) submit(op func()) bool {
	select {
	case s.ops <- op:
		return true
	case <-s.quit:
		return false
	}
}

// call runs op on the loop and waits for its result.
func (s *Session) call(ctx context.Context, op func() error) error {
	errc := make(chan error, 1)
	select {
	case s.ops <- func() { errc <- op() }:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs fn off the loop with the session's background context. Only
// called on the loop.
func (s *Session) spawn(fn func(ctx context.Context)) {
	if s.state.closing {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.bgCtx)
	}()
}

func (s *Session) token() uint64 {
	s.nextToken++
	return s.nextToken
}

// reserve claims key in r for a new listener. fresh is false when the key
// already has one.
func (s *Session) reserve(ctx context.Context, r *registry, key string) (token uint64, fresh bool, err error) {
	err = s.call(ctx, func() error {
		if s.state.closing {
			return ErrClosed
		}
		if r.has(key) {
			return nil
		}
		token, fresh = s.token(), true
		r.reserve(key, token)
		return nil
	})
	return token, fresh, err
}

// establish opens a reserved listener off the loop and attaches it. On
// failure the reservation is released so the caller may try again.
func (s *Session) establish(r *registry, key string, token uint64, open func() (gateway.Registration, error)) error {
	reg, err := open()
	if err != nil {
		s.submit(func() {
			if r.current(key, token) {
				r.cancel(key)
			}
		})
		return err
	}
	if !s.submit(func() { r.attach(key, token, reg) }) {
		reg.Remove()
	}
	return nil
}

// Close cancels every listener and stops the loop. ctx bounds the wait for
// background fetches still in flight. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.call(context.Background(), func() error {
			s.state.closing = true
			n := 0
			for _, r := range []*registry{s.self, s.index, s.followers, s.match, s.users, s.messages} {
				n += r.cancelAll()
			}
			s.log.Info("session closed", zap.Int("listeners_removed", n))
			return nil
		})
		s.bgCancel()
		close(s.quit)
		<-s.stopped

		done := make(chan struct{})
		go func() {
			s.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Subscribe registers fn to receive a fresh View after every mutation. fn
// runs on the session loop: it must not block or call back into the Session.
// The returned function unregisters it.
func (s *Session) Subscribe(fn func(View)) (func(), error) {
	var id uint64
	err := s.call(context.Background(), func() error {
		id = s.token()
		s.observers[id] = fn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		s.submit(func() { delete(s.observers, id) })
	}, nil
}

// View returns a snapshot of the published state.
func (s *Session) View(ctx context.Context) (View, error) {
	var v View
	err := s.call(ctx, func() error {
		v = s.buildView()
		return nil
	})
	return v, err
}

// changed recomputes projections and notifies observers. Called on the loop
// after every mutation.
func (s *Session) changed() {
	if !s.state.SetupCompleted {
		return
	}
	s.state.projections = project(s.state)
	if len(s.observers) == 0 {
		return
	}
	v := s.buildView()
	for _, fn := range s.observers {
		fn(v)
	}
}
