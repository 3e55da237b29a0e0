package middlewares

import (
	"net/http"
	"strings"

	"github.com/PlusaN/keycloak-provider/internal/http/errors"
	"github.com/google/uuid"
)

// HeaderAuthSessionID es el header que correlaciona los round-trips de un
// mismo intento de autenticación.
const HeaderAuthSessionID = "X-Auth-Session-ID"

// WithAuthSession propaga el ID de la sesión de autenticación del host.
// En el paso begin (required=false) genera uno nuevo si el host no lo envía;
// en los pasos siguientes el ID es obligatorio. Siempre se ecoa en el header
// de respuesta para que el host lo reenvíe.
func WithAuthSession(required bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := strings.TrimSpace(r.Header.Get(HeaderAuthSessionID))
			if sid == "" {
				if required {
					errors.WriteError(w, errors.ErrSessionRequired)
					return
				}
				sid = uuid.NewString()
			}

			w.Header().Set(HeaderAuthSessionID, sid)
			ctx := WithSessionID(r.Context(), sid)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
