package middleware

import (
	"net/http"

	stepauth "github.com/stepauth-dev/stepauth"
)

// CSRFHeader is the request header clients echo the token half into.
const CSRFHeader = "X-CSRF-Token"

// CSRFGuard enforces the double-submit check on state-changing methods.
// Safe methods pass through untouched.
func CSRFGuard(engine *stepauth.Engine, suffix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			if engine == nil {
				writeError(w, stepauth.ErrEngineNotReady)
				return
			}

			if err := engine.ValidateCSRF(r, suffix, r.Header.Get(CSRFHeader)); err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
