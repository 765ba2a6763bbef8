package errs

import (
	"errors"
	"net/http"
)

var (
	ErrMissingToken    = errors.New("missing token")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrTokenExpired    = errors.New("token expired or not valid yet")
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrInvalidRole     = errors.New("invalid role claim")
	ErrSigningDisabled = errors.New("token signing not configured")

	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

// IsAuth reports whether err came from credential validation.
func IsAuth(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrInvalidIssuer) ||
		errors.Is(err, ErrInvalidAudience) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInvalidSubject) ||
		errors.Is(err, ErrInvalidRole)
}

func ToHTTP(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsAuth(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
