package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	stepauth "github.com/stepauth-dev/stepauth"
)

// Guard authenticates the bearer token and attaches the session to the
// request context. Handlers read it back with stepauth.SessionFromContext.
func Guard(engine *stepauth.Engine) func(http.Handler) http.Handler {
	return RequireLevel(engine, stepauth.AccessNone)
}

// RequireLevel authenticates the bearer token and additionally demands the
// session hold at least the given access level. Sessions below it get a
// 403 with the stable error payload; everything else about the request is
// untouched.
func RequireLevel(engine *stepauth.Engine, level stepauth.AccessLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, stepauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, stepauth.ErrTokenInvalid)
				return
			}

			ctx := stepauth.WithClientIP(r.Context(), clientIP(r))
			sess, err := engine.Authenticate(ctx, token)
			if err != nil {
				writeError(w, err)
				return
			}

			if sess.Level < level {
				writeError(w, &stepauth.Error{
					Code:    "insufficient_access_level",
					Message: "session access level too low",
					Status:  http.StatusForbidden,
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(stepauth.WithSession(ctx, sess)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

func writeError(w http.ResponseWriter, err error) {
	payload := stepauth.AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(payload.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   payload.Code,
		"message": payload.Message,
	})
}
