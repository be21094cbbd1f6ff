package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
	"github.com/klauern/postsync/internal/util"
)

// SessionFileName is the default name of the session cache file.
const SessionFileName = "bluesky-auth-cache.json"

type session struct {
	Identifier string `json:"identifier"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// current returns the session, loading it from the cache file or logging in
// when there is none yet.
func (a *Adapter) current(ctx context.Context) (session, error) {
	a.mu.Lock()
	s := a.sess
	a.mu.Unlock()
	if s.AccessJwt != "" {
		return s, nil
	}
	if cached, ok := a.loadSession(ctx); ok {
		a.setSession(cached)
		return cached, nil
	}
	return a.login(ctx)
}

func (a *Adapter) setSession(s session) {
	a.mu.Lock()
	a.sess = s
	a.mu.Unlock()
}

func (a *Adapter) loadSession(ctx context.Context) (session, bool) {
	if a.sessionFile == "" {
		return session{}, false
	}
	// #nosec G304 - path comes from the configured state directory
	data, err := os.ReadFile(a.sessionFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.WithContext(ctx).Warn("ignoring unreadable bluesky session cache", logging.Path(a.sessionFile), logging.Err(err))
		}
		return session{}, false
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil || s.AccessJwt == "" || s.Identifier != a.identifier {
		return session{}, false
	}
	return s, true
}

func (a *Adapter) saveSession(ctx context.Context, s session) {
	if a.sessionFile == "" {
		return
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err == nil {
		err = util.WriteFileAtomic(a.sessionFile, data, 0o600)
	}
	if err != nil {
		logging.WithContext(ctx).Warn("failed to cache bluesky session", logging.Path(a.sessionFile), logging.Err(err))
	}
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

func (a *Adapter) adopt(ctx context.Context, resp sessionResponse) session {
	s := session{
		Identifier: a.identifier,
		AccessJwt:  resp.AccessJwt,
		RefreshJwt: resp.RefreshJwt,
		DID:        resp.DID,
		Handle:     resp.Handle,
	}
	a.setSession(s)
	a.saveSession(ctx, s)
	return s
}

// login creates a new session with the app password.
func (a *Adapter) login(ctx context.Context) (session, error) {
	body := map[string]string{"identifier": a.identifier, "password": a.password}
	var resp sessionResponse
	if _, err := a.api.DoJSON(ctx, "create session",
		platform.JSONRequest(http.MethodPost, a.xrpc("com.atproto.server.createSession"), body, nil), &resp); err != nil {
		if apperr.IsKind(err, apperr.KindAuth) || apperr.IsKind(err, apperr.KindRemote) {
			return session{}, apperr.Auth(model.Bluesky.String(), "login failed", err)
		}
		return session{}, err
	}
	logging.WithContext(ctx).Debug("created bluesky session", logging.Platform(model.Bluesky.String()))
	return a.adopt(ctx, resp), nil
}

// renew refreshes the session, falling back to a fresh login when the
// refresh token is no longer accepted.
func (a *Adapter) renew(ctx context.Context) (session, error) {
	a.mu.Lock()
	refresh := a.sess.RefreshJwt
	a.mu.Unlock()

	if refresh != "" {
		var resp sessionResponse
		header := http.Header{"Authorization": {"Bearer " + refresh}}
		_, err := a.api.DoJSON(ctx, "refresh session",
			platform.JSONRequest(http.MethodPost, a.xrpc("com.atproto.server.refreshSession"), nil, header), &resp)
		if err == nil {
			logging.WithContext(ctx).Debug("refreshed bluesky session", logging.Platform(model.Bluesky.String()))
			return a.adopt(ctx, resp), nil
		}
		if !expired(err) {
			return session{}, err
		}
	}
	return a.login(ctx)
}

// expired reports whether err means the access token must be renewed.
// The PDS answers 400 with ExpiredToken or InvalidToken for those.
func expired(err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Kind == apperr.KindAuth {
		return true
	}
	return ae.Kind == apperr.KindRemote &&
		(strings.Contains(ae.Message, "ExpiredToken") || strings.Contains(ae.Message, "InvalidToken"))
}

// call sends an authenticated request and renews the session once when the
// token was rejected.
func (a *Adapter) call(ctx context.Context, op string, build func(s session) platform.RequestFunc, out any) error {
	s, err := a.current(ctx)
	if err != nil {
		return err
	}
	_, err = a.api.DoJSON(ctx, op, build(s), out)
	if !expired(err) {
		return err
	}
	if s, err = a.renew(ctx); err != nil {
		return err
	}
	if _, err = a.api.DoJSON(ctx, op, build(s), out); err != nil {
		if apperr.IsKind(err, apperr.KindAuth) {
			return apperr.Auth(model.Bluesky.String(), fmt.Sprintf("%s rejected after session renewal", op), err)
		}
		return err
	}
	return nil
}

func bearer(s session) http.Header {
	return http.Header{"Authorization": {"Bearer " + s.AccessJwt}}
}
