package content

import (
	"errors"
	"fmt"
	"net/http"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/portal"
)

// PortalError classifies a failure of the portal collaborator for op.
func PortalError(op string, err error) error {
	var statusErr *portal.StatusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, portal.ErrLoggedOut):
		return apperr.Wrap(apperr.KindUnauthenticated, op, "portal session expired, log in again", err)
	case errors.As(err, &statusErr):
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Wrap(apperr.KindUnauthenticated, op, "portal rejected the session", err)
		case http.StatusNotFound:
			return apperr.Wrap(apperr.KindNotFound, op, "resource not found on portal", err)
		}
		return apperr.Wrap(
			apperr.KindUpstreamUnavailable, op,
			fmt.Sprintf("portal responded with status %d", statusErr.Code),
			err,
		)
	}
	return apperr.Wrap(apperr.KindUpstreamUnavailable, op, "portal unreachable", err)
}

func malformed(op, message string, err error) error {
	return apperr.Wrap(apperr.KindUpstreamMalformed, op, message, err)
}
