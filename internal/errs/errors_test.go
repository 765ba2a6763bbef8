package errs

import (
	"fmt"
	"net/http"
	"testing"
)

func TestToHTTP(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrMissingToken, http.StatusUnauthorized},
		{fmt.Errorf("%w: signature is invalid", ErrInvalidToken), http.StatusUnauthorized},
		{fmt.Errorf("%w: nurse", ErrInvalidRole), http.StatusUnauthorized},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{ErrSigningDisabled, http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := ToHTTP(c.err); got != c.want {
			t.Errorf("ToHTTP(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
