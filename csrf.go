package stepauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/stepauth-dev/stepauth/internal"
)

const (
	csrfTokenCookieName  = "csrf_token"
	csrfSecretCookieName = "csrf_secret"
)

// CSRFPair is the double-submit cookie pair. Token is readable by the
// client and echoed back on state-changing requests; Secret is an
// HttpOnly HMAC binding the token to the server key.
type CSRFPair struct {
	Token  *http.Cookie
	Secret *http.Cookie
}

// csrfSecretFor derives the secret cookie value from the token.
func (e *Engine) csrfSecretFor(token string) string {
	mac := hmac.New(sha256.New, e.config.Keys.CSRFKey)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// IssueCSRF mints a fresh double-submit pair. suffix scopes the cookie
// names so independent flows on one origin cannot clobber each other's
// pairs.
func (e *Engine) IssueCSRF(suffix string) (*CSRFPair, error) {
	if e == nil || e.config == nil {
		return nil, ErrEngineNotReady
	}

	token, err := internal.NewCSRFToken()
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	maxAge := int(e.config.CSRF.TTL.Seconds())
	base := http.Cookie{
		Domain:   e.config.CSRF.CookieDomain,
		Path:     e.config.CSRF.CookiePath,
		MaxAge:   maxAge,
		Secure:   e.config.CSRF.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	tokenCookie := base
	tokenCookie.Name = csrfTokenCookieName + suffix
	tokenCookie.Value = token
	// The token half is echoed by client code and must stay readable.
	tokenCookie.HttpOnly = false

	secretCookie := base
	secretCookie.Name = csrfSecretCookieName + suffix
	secretCookie.Value = e.csrfSecretFor(token)

	return &CSRFPair{Token: &tokenCookie, Secret: &secretCookie}, nil
}

// EnsureCSRF returns the request's existing double-submit pair when both
// cookies are present and the secret still validates the token; otherwise
// it mints a fresh pair and sets both cookies on the response. Repeated
// page loads within the TTL keep one pair instead of churning it.
func (e *Engine) EnsureCSRF(w http.ResponseWriter, r *http.Request, suffix string) (*CSRFPair, error) {
	if e == nil || e.config == nil {
		return nil, ErrEngineNotReady
	}

	tokenCookie, tokenErr := r.Cookie(csrfTokenCookieName + suffix)
	secretCookie, secretErr := r.Cookie(csrfSecretCookieName + suffix)
	if tokenErr == nil && secretErr == nil && tokenCookie.Value != "" {
		expected := e.csrfSecretFor(tokenCookie.Value)
		if hmac.Equal([]byte(expected), []byte(secretCookie.Value)) {
			return &CSRFPair{Token: tokenCookie, Secret: secretCookie}, nil
		}
	}

	pair, err := e.IssueCSRF(suffix)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, pair.Token)
	http.SetCookie(w, pair.Secret)
	return pair, nil
}

// ValidateCSRF checks an echoed token against the secret cookie from the
// same request. Any missing piece or mismatch fails closed.
func (e *Engine) ValidateCSRF(r *http.Request, suffix, echoedToken string) error {
	if e == nil || e.config == nil {
		return ErrEngineNotReady
	}
	if echoedToken == "" {
		return e.csrfReject(r)
	}

	secretCookie, err := r.Cookie(csrfSecretCookieName + suffix)
	if err != nil || secretCookie.Value == "" {
		return e.csrfReject(r)
	}

	expected := e.csrfSecretFor(echoedToken)
	if !hmac.Equal([]byte(expected), []byte(secretCookie.Value)) {
		return e.csrfReject(r)
	}

	return nil
}

func (e *Engine) csrfReject(r *http.Request) error {
	e.metricInc(MetricCSRFRejected)
	e.emitAudit(r.Context(), auditEventCSRFRejected, false, "", "", ErrCSRFInvalid, nil)
	return ErrCSRFInvalid
}
