// Package credentials derives the session credentials a login does not hand
// out directly: the user id, the session key and the web service keys.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/portal"
	"mydylms-backend/internal/session"
)

const (
	report_resolver_step = "resolver.step"
	report_resolver_keys = "resolver.api-keys"
)

type Portal interface {
	Page(ctx context.Context, cookie, path string) (string, error)
}

type Store interface {
	Snapshot(ctx context.Context) (session.Session, error)
	Set(ctx context.Context, field session.Field, value string) error
}

// step derives one or more session fields. Steps run in order, a step is
// skipped when it is satisfied or when what it requires is still missing.
type step struct {
	name      string
	satisfied func(session.Session) bool
	requires  func(session.Session) bool
	run       func(ctx context.Context, r *resolution) error
}

var steps = []step{
	{
		name:      "user_id",
		satisfied: func(s session.Session) bool { return s.UserId != 0 },
		run:       resolveUserId,
	},
	{
		name:      "sesskey",
		satisfied: func(s session.Session) bool { return s.Sesskey != "" },
		run:       resolveSesskey,
	},
	{
		name:      "api_keys",
		satisfied: session.Session.HasApiKeys,
		requires:  func(s session.Session) bool { return s.Sesskey != "" },
		run:       resolveApiKeys,
	},
}

type Resolver struct {
	portal Portal
	store  Store
	tel    telemetry.API
	mu     sync.Mutex
}

func NewResolver(p Portal, store Store, tel telemetry.API) *Resolver {
	assert.NotNil(p)
	assert.NotNil(store)
	assert.NotNil(tel)
	return &Resolver{
		portal: p,
		store:  store,
		tel:    telemetry.NewScopedAPI("credentials", tel),
	}
}

// resolution is the state of one Resolve call.
type resolution struct {
	*Resolver
	sess    session.Session
	landing string
}

// landingPage fetches the landing page at most once per resolution.
func (r *resolution) landingPage(ctx context.Context) (string, error) {
	if r.landing != "" {
		return r.landing, nil
	}
	page, err := r.portal.Page(ctx, r.sess.Cookie, portal.PathLanding)
	if err != nil {
		return "", err
	}
	r.landing = page
	return page, nil
}

// Resolve fills in every missing derived field of the stored session and
// persists each one as it is found. A failed step leaves its fields absent,
// only a missing cookie or a broken store fails the call.
func (r *Resolver) Resolve(ctx context.Context) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.store.Snapshot(ctx)
	if err != nil {
		return sess, apperr.Internal("credentials.resolve", err)
	}
	if !sess.Authenticated() {
		return sess, apperr.Unauthenticated("credentials.resolve", "not logged in")
	}

	res := &resolution{Resolver: r, sess: sess}
	for _, s := range steps {
		if s.satisfied(res.sess) {
			continue
		}
		if s.requires != nil && !s.requires(res.sess) {
			r.tel.ReportDebug("skipping step, requirements missing", s.name)
			continue
		}

		err := s.run(ctx, res)
		var storeErr *persistError
		switch {
		case errors.As(err, &storeErr):
			return res.sess, apperr.Internal("credentials.resolve", err)
		case errors.Is(err, portal.ErrLoggedOut):
			r.tel.ReportWarning(report_resolver_step, s.name, err)
			return res.sess, nil
		case err != nil:
			r.tel.ReportWarning(report_resolver_step, s.name, err)
		}
	}
	return res.sess, nil
}

type persistError struct {
	field session.Field
	err   error
}

func (e *persistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.field, e.err)
}

func (e *persistError) Unwrap() error {
	return e.err
}

func (r *resolution) persist(ctx context.Context, field session.Field, value string) error {
	err := r.store.Set(ctx, field, value)
	if err != nil {
		return &persistError{field: field, err: err}
	}
	return nil
}

func resolveUserId(ctx context.Context, r *resolution) error {
	page, err := r.landingPage(ctx)
	if err != nil {
		return err
	}
	raw := portal.ScrapeUserId(page)
	if raw == "" {
		return errors.New("user id not found on landing page")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q: %w", raw, err)
	}
	err = r.persist(ctx, session.FieldUserId, raw)
	if err != nil {
		return err
	}
	r.sess.UserId = id
	return nil
}

func resolveSesskey(ctx context.Context, r *resolution) error {
	page, err := r.landingPage(ctx)
	if err != nil {
		return err
	}
	sesskey := portal.ScrapeSesskey(page)
	if sesskey == "" {
		return errors.New("session key not found on landing page")
	}
	err = r.persist(ctx, session.FieldSesskey, sesskey)
	if err != nil {
		return err
	}
	r.sess.Sesskey = sesskey
	return nil
}

// resolveApiKeys assigns the tokens of the token page to web, features and
// my key in page order. Keys that are already set are never overwritten.
func resolveApiKeys(ctx context.Context, r *resolution) error {
	query := url.Values{"sesskey": {r.sess.Sesskey}}
	page, err := r.portal.Page(ctx, r.sess.Cookie, portal.PathTokens+"?"+query.Encode())
	if err != nil {
		return err
	}
	keys, err := portal.ScrapeApiKeys(page)
	if err != nil {
		return err
	}
	if len(keys) < 3 {
		r.tel.ReportWarning(report_resolver_keys, "fewer than 3 keys on token page", len(keys))
	}

	slots := []struct {
		field  session.Field
		target *string
	}{
		{session.FieldWebKey, &r.sess.WebKey},
		{session.FieldFeaturesKey, &r.sess.FeaturesKey},
		{session.FieldMyKey, &r.sess.MyKey},
	}
	for i, slot := range slots {
		if i >= len(keys) || *slot.target != "" {
			continue
		}
		err := r.persist(ctx, slot.field, keys[i])
		if err != nil {
			return err
		}
		*slot.target = keys[i]
	}
	return nil
}
