package httpmw

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/errs"
)

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// Auth requires a valid "Authorization: Bearer <jwt>" and stores the caller's
// identity in the request context.
func Auth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				authError(w, errs.ErrMissingToken)
				return
			}

			id, err := v.Verify(token)
			if err != nil {
				L(r.Context()).Warn("http auth failed", slog.Any("err", err))
				if !errs.IsAuth(err) {
					err = errs.ErrInvalidToken
				}
				authError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func IdentityFromCtx(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(domain.Identity)
	return id, ok
}

func bearer(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

func authError(w http.ResponseWriter, err error) {
	status := errs.ToHTTP(err)
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="signaling"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
