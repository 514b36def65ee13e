package session

import "github.com/pkg/errors"

var (
	// ErrPrecondition rejects an intent that is invalid for the current
	// state. Nothing is mutated.
	ErrPrecondition = errors.New("session: precondition failed")
	// ErrNotSetUp is returned by intents issued before Setup completed.
	ErrNotSetUp = errors.New("session: not set up")
	// ErrNotSignedUp means the authenticated user has no user document yet.
	ErrNotSignedUp = errors.New("session: user has not signed up")
	// ErrNotAuthenticated means the auth provider has no current user.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("session: closed")
)

func precondition(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPrecondition, format, args...)
}
