package stepauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/stepauth-dev/stepauth/internal"
)

const pkceCookieName = "code_verifier"

// PKCEGrant carries a fresh code-exchange verifier. Challenge goes to the
// authorization request; Cookie holds the verifier, HMAC-bound to the
// server so a tampered cookie fails release.
type PKCEGrant struct {
	Challenge string
	Cookie    *http.Cookie
}

// PKCEChallenge computes the S256 challenge for a verifier.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (e *Engine) pkceSignature(verifier string) string {
	mac := hmac.New(sha256.New, e.config.Keys.CookieSigningKey)
	mac.Write([]byte(verifier))
	return hex.EncodeToString(mac.Sum(nil))
}

// IssuePKCE mints a verifier, binds it into an integrity-protected cookie,
// and returns the matching challenge.
func (e *Engine) IssuePKCE() (*PKCEGrant, error) {
	if e == nil || e.config == nil {
		return nil, ErrEngineNotReady
	}

	verifier, err := internal.NewCodeVerifier()
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	cookie := &http.Cookie{
		Name:     pkceCookieName,
		Value:    verifier + "." + e.pkceSignature(verifier),
		Domain:   e.config.PKCE.CookieDomain,
		Path:     e.config.PKCE.CookiePath,
		MaxAge:   int(e.config.PKCE.TTL.Seconds()),
		Secure:   e.config.PKCE.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &PKCEGrant{
		Challenge: PKCEChallenge(verifier),
		Cookie:    cookie,
	}, nil
}

// EnsurePKCE returns the grant for the request's existing verifier cookie
// when its signature still validates; otherwise it mints a fresh verifier
// and sets the cookie on the response. Reusing one verifier across
// repeated redirects within its TTL is intentional: every retry computes
// the same challenge.
func (e *Engine) EnsurePKCE(w http.ResponseWriter, r *http.Request) (*PKCEGrant, error) {
	if e == nil || e.config == nil {
		return nil, ErrEngineNotReady
	}

	if cookie, err := r.Cookie(pkceCookieName); err == nil && cookie.Value != "" {
		value, sig, found := strings.Cut(cookie.Value, ".")
		if found && hmac.Equal([]byte(e.pkceSignature(value)), []byte(sig)) {
			return &PKCEGrant{
				Challenge: PKCEChallenge(value),
				Cookie:    cookie,
			}, nil
		}
	}

	grant, err := e.IssuePKCE()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, grant.Cookie)
	return grant, nil
}

// ReleasePKCE extracts the verifier from the request cookie and returns it
// with an expiring replacement cookie for the response. Absent or tampered
// cookies fail with ErrPKCEMissing.
func (e *Engine) ReleasePKCE(r *http.Request) (verifier string, clear *http.Cookie, err error) {
	if e == nil || e.config == nil {
		return "", nil, ErrEngineNotReady
	}

	cookie, cookieErr := r.Cookie(pkceCookieName)
	if cookieErr != nil || cookie.Value == "" {
		return "", nil, e.pkceReject(r)
	}

	value, sig, found := strings.Cut(cookie.Value, ".")
	if !found {
		return "", nil, e.pkceReject(r)
	}
	if !hmac.Equal([]byte(e.pkceSignature(value)), []byte(sig)) {
		return "", nil, e.pkceReject(r)
	}

	clear = &http.Cookie{
		Name:     pkceCookieName,
		Value:    "",
		Domain:   e.config.PKCE.CookieDomain,
		Path:     e.config.PKCE.CookiePath,
		MaxAge:   -1,
		Secure:   e.config.PKCE.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return value, clear, nil
}

func (e *Engine) pkceReject(r *http.Request) error {
	e.metricInc(MetricPKCERejected)
	e.emitAudit(r.Context(), auditEventPKCERejected, false, "", "", ErrPKCEMissing, nil)
	return ErrPKCEMissing
}
