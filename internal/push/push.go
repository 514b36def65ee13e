// Package push uploads the device's push notification token onto the
// signed-in user's document.
package push

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// TokenWriter is the gateway write the uploader needs.
type TokenWriter interface {
	SetPushToken(ctx context.Context, userID, token string) error
}

// Identity reports the signed-in user.
type Identity interface {
	CurrentUserID() (string, bool)
}

// ErrEmptyToken is returned for a blank token.
var ErrEmptyToken = errors.New("push: empty token")

// Uploader stores push tokens for the current user.
type Uploader struct {
	gw   TokenWriter
	auth Identity
	log  *zap.Logger
}

// NewUploader creates an Uploader.
func NewUploader(gw TokenWriter, auth Identity, log *zap.Logger) *Uploader {
	return &Uploader{gw: gw, auth: auth, log: log.Named("push")}
}

// Upload writes token onto the current user's document. It does nothing
// when nobody is signed in or the user document does not exist yet.
func (u *Uploader) Upload(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	uid, ok := u.auth.CurrentUserID()
	if !ok {
		u.log.Info("no user signed in; push token not uploaded")
		return nil
	}

	err := u.gw.SetPushToken(ctx, uid, token)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		u.log.Warn("user document missing; push token not uploaded", zap.String("user_id", uid))
		return nil
	case err != nil:
		return errors.Wrap(err, "upload push token")
	}
	u.log.Debug("push token uploaded", zap.String("user_id", uid))
	return nil
}
