package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/content"
	"mydylms-backend/internal/portal"
	"mydylms-backend/internal/session"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	report_auth_login    = "auth.login"
	report_auth_validate = "auth.validate-session"
	report_auth_logout   = "auth.logout"
)

type Portal interface {
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, cookie, sesskey string) error
	Page(ctx context.Context, cookie, path string) (string, error)
}

type Store interface {
	Snapshot(ctx context.Context) (session.Session, error)
	SetAll(ctx context.Context, sess session.Session) error
	ClearAll(ctx context.Context) error
}

type Resolver interface {
	Resolve(ctx context.Context) (session.Session, error)
}

type SemesterPrimer interface {
	PrimeSemesters(ctx context.Context, landingPage string) error
}

type Service struct {
	portal    Portal
	store     Store
	resolver  Resolver
	semesters SemesterPrimer
	// valid remembers cookies the portal recently confirmed.
	valid *expirable.LRU[string, struct{}]
	tel   telemetry.API
}

func NewService(
	p Portal,
	store Store,
	resolver Resolver,
	semesters SemesterPrimer,
	validFor time.Duration,
	tel telemetry.API,
) *Service {
	assert.NotNil(p)
	assert.NotNil(store)
	assert.NotNil(resolver)
	assert.NotNil(semesters)
	assert.NotNil(tel)
	assert.Positive(validFor)

	return &Service{
		portal:    p,
		store:     store,
		resolver:  resolver,
		semesters: semesters,
		valid:     expirable.NewLRU[string, struct{}](16, nil, validFor),
		tel:       telemetry.NewScopedAPI("auth", tel),
	}
}

// Clear forgets every validated cookie, it runs when the session is cleared.
func (s *Service) Clear(context.Context) error {
	s.valid.Purge()
	return nil
}

// Login replaces any stored session with a fresh one and derives as many
// credentials as the portal hands out.
func (s *Service) Login(ctx context.Context, email, password string) (session.Session, error) {
	const op = report_auth_login

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return session.Session{}, apperr.BadRequest(op, "email and password are required")
	}

	cookie, err := s.portal.Login(ctx, email, password)
	switch {
	case errors.Is(err, portal.ErrInvalidCredentials):
		return session.Session{}, apperr.Wrap(apperr.KindUnauthenticated, op, "invalid credentials", err)
	case errors.Is(err, portal.ErrLoginUnrecognized), errors.Is(err, portal.ErrNoSessionCookie):
		return session.Session{}, apperr.Wrap(apperr.KindUpstreamMalformed, op, "login failed", err)
	case err != nil:
		return session.Session{}, content.PortalError(op, err)
	}

	err = s.store.ClearAll(ctx)
	if err != nil {
		return session.Session{}, apperr.Internal(op, err)
	}

	sess := session.Session{Cookie: cookie}
	landing, err := s.portal.Page(ctx, cookie, portal.PathLanding)
	if err != nil {
		// the resolver retries everything the landing page would have given
		s.tel.ReportWarning(op, "landing page", err)
	} else {
		sess.Sesskey = portal.ScrapeSesskey(landing)
		if id, err := strconv.ParseInt(portal.ScrapeUserId(landing), 10, 64); err == nil {
			sess.UserId = id
		}
	}

	err = s.store.SetAll(ctx, sess)
	if err != nil {
		return session.Session{}, apperr.Internal(op, err)
	}
	s.valid.Add(cookie, struct{}{})

	if landing != "" {
		err = s.semesters.PrimeSemesters(ctx, landing)
		if err != nil {
			s.tel.ReportWarning(op, "prime semesters", err)
		}
	}

	resolved, err := s.resolver.Resolve(ctx)
	if err != nil {
		return sess, err
	}
	return resolved, nil
}

// ValidateSession asks the portal whether the stored cookie is still logged in.
func (s *Service) ValidateSession(ctx context.Context) (bool, error) {
	const op = report_auth_validate

	sess, err := s.store.Snapshot(ctx)
	if err != nil {
		return false, apperr.Internal(op, err)
	}
	if !sess.Authenticated() {
		return false, nil
	}
	if s.valid.Contains(sess.Cookie) {
		return true, nil
	}

	page, err := s.portal.Page(ctx, sess.Cookie, portal.PathLanding)
	if errors.Is(err, portal.ErrLoggedOut) {
		return false, nil
	}
	if err != nil {
		return false, content.PortalError(op, err)
	}
	if !portal.IsLandingPage(page) {
		return false, nil
	}
	s.valid.Add(sess.Cookie, struct{}{})
	return true, nil
}

// Logout ends the portal session, local state is only cleared once the
// portal confirmed it.
func (s *Service) Logout(ctx context.Context) error {
	const op = report_auth_logout

	sess, err := s.store.Snapshot(ctx)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !sess.Authenticated() {
		return apperr.Unauthenticated(op, "not logged in")
	}
	if sess.Sesskey == "" {
		sess, err = s.resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		if sess.Sesskey == "" {
			return apperr.New(apperr.KindUpstreamUnavailable, op, "could not obtain a session key to log out with")
		}
	}

	err = s.portal.Logout(ctx, sess.Cookie, sess.Sesskey)
	if err != nil {
		return content.PortalError(op, err)
	}

	err = s.store.ClearAll(ctx)
	if err != nil {
		return apperr.Internal(op, err)
	}
	s.tel.ReportDebug("logged out")
	return nil
}

// Credentials resolves and returns every credential obtainable for the session.
func (s *Service) Credentials(ctx context.Context) (session.Session, error) {
	return s.resolver.Resolve(ctx)
}
