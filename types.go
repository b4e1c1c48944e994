package stepauth

import (
	"context"
	"strings"
	"time"
)

// Intent distinguishes concurrent verification use-cases that share the
// subject-keyed cache namespace. A token minted for one intent never
// verifies under another.
type Intent uint8

const (
	// IntentMFALogin is the second factor of a password login.
	IntentMFALogin Intent = iota
	// IntentMediumAccess is a post-login step-up proof.
	IntentMediumAccess
	// IntentRegister proves control of an address before an account exists.
	IntentRegister
	// IntentAddEmail proves control of a new email address on an existing
	// account.
	IntentAddEmail
	// IntentAddPhone proves control of a new phone number on an existing
	// account.
	IntentAddPhone

	intentCount
)

// String returns the stable wire name of the intent.
func (i Intent) String() string {
	switch i {
	case IntentMFALogin:
		return "mfa_login"
	case IntentMediumAccess:
		return "medium_access"
	case IntentRegister:
		return "register"
	case IntentAddEmail:
		return "add_email"
	case IntentAddPhone:
		return "add_phone"
	default:
		return "unknown"
	}
}

// Channel selects the delivery mechanism for a one-time-code challenge.
// It is resolved once at the entry point into a channel implementation;
// the verification engine itself is channel-agnostic.
type Channel uint8

const (
	// ChannelEmail delivers a 6-digit code by email.
	ChannelEmail Channel = iota
	// ChannelPhone delegates code delivery and checking to the phone
	// verification provider (SMS, voice, or WhatsApp).
	ChannelPhone
	// ChannelTOTP is the authenticator app. Nothing is delivered; the code
	// is derived from the account's enrolled secret.
	ChannelTOTP
)

// String returns the stable wire name of the channel.
func (c Channel) String() string {
	switch c {
	case ChannelEmail:
		return "email"
	case ChannelPhone:
		return "phone"
	case ChannelTOTP:
		return "totp"
	default:
		return "unknown"
	}
}

// PhoneChannel is the provider-side delivery mechanism for phone
// verifications.
type PhoneChannel string

const (
	// PhoneSMS delivers the code by text message.
	PhoneSMS PhoneChannel = "sms"
	// PhoneVoice delivers the code by voice call.
	PhoneVoice PhoneChannel = "call"
	// PhoneWhatsApp delivers the code over WhatsApp.
	PhoneWhatsApp PhoneChannel = "whatsapp"
)

// MFAMethod is a second-factor method an account may enable.
type MFAMethod string

const (
	// MFAEmail sends login codes to the verified email address.
	MFAEmail MFAMethod = "email"
	// MFASMS sends login codes by text message.
	MFASMS MFAMethod = "sms"
	// MFAWhatsApp sends login codes over WhatsApp.
	MFAWhatsApp MFAMethod = "whatsapp"
	// MFAApp uses the enrolled authenticator app.
	MFAApp MFAMethod = "app"
)

// AccountRecord is the read-mostly account view the engine consumes from
// the durable store. The engine never writes account fields directly except
// through the explicit AccountProvider mutations.
type AccountRecord struct {
	ID            string
	Email         string
	Phone         string
	PasswordHash  string
	EmailVerified bool
	PhoneVerified bool

	// TOTPKey is the account-random key material the authenticator secret
	// is derived from. Non-empty iff app MFA is enabled.
	TOTPKey []byte

	MFAEmailEnabled    bool
	MFASMSEnabled      bool
	MFAWhatsAppEnabled bool
	MFAAppEnabled      bool
}

// HasPassword reports whether the account can answer password challenges.
func (a AccountRecord) HasPassword() bool {
	return a.PasswordHash != ""
}

// EnabledMFAMethods lists the second-factor methods the account can answer,
// in preference order.
func (a AccountRecord) EnabledMFAMethods() []MFAMethod {
	var methods []MFAMethod
	if a.MFAAppEnabled && len(a.TOTPKey) > 0 {
		methods = append(methods, MFAApp)
	}
	if a.MFAEmailEnabled && a.EmailVerified {
		methods = append(methods, MFAEmail)
	}
	if a.MFASMSEnabled && a.PhoneVerified {
		methods = append(methods, MFASMS)
	}
	if a.MFAWhatsAppEnabled && a.PhoneVerified {
		methods = append(methods, MFAWhatsApp)
	}
	return methods
}

// MaskedEmail returns the account email with the local part reduced to its
// first rune, for display in challenge prompts.
func (a AccountRecord) MaskedEmail() string {
	return maskEmail(a.Email)
}

// MaskedPhone returns the phone number with all but the last two digits
// hidden.
func (a AccountRecord) MaskedPhone() string {
	return maskPhone(a.Phone)
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local := email[:at]
	return local[:1] + strings.Repeat("*", len(local)-1) + email[at:]
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return ""
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}

// SessionKind records how the session was established.
type SessionKind uint8

const (
	// SessionPassword is a session created by password login.
	SessionPassword SessionKind = iota
	// SessionFederated is a session created by a federated-identity login.
	SessionFederated
)

// DurableSession is the durable-store session row the engine creates at
// login and marks revoked on termination. The cache record is an
// accelerator; this row is the source of truth for revocation history.
type DurableSession struct {
	PrimaryID   string
	SecondaryID string
	AccountID   string
	Kind        SessionKind
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// AccountProvider is the durable account store the engine reads capability
// flags from. Implementations must be safe for concurrent use.
type AccountProvider interface {
	GetAccount(ctx context.Context, accountID string) (*AccountRecord, error)
	GetAccountByEmail(ctx context.Context, email string) (*AccountRecord, error)
	// EnableTOTP persists the account-random key material once enrollment
	// is confirmed.
	EnableTOTP(ctx context.Context, accountID string, key []byte) error
	DisableTOTP(ctx context.Context, accountID string) error
}

// SessionProvider is the durable session store. Revocation marks rows
// without deleting them so the history survives cache eviction.
type SessionProvider interface {
	CreateSession(ctx context.Context, row DurableSession) error
	GetSession(ctx context.Context, primaryID string) (*DurableSession, error)
	// UpdateSessionToken records a secondary-id rotation.
	UpdateSessionToken(ctx context.Context, primaryID, secondaryID string) error
	MarkRevoked(ctx context.Context, primaryID string) error
	// MarkAllRevoked revokes every active session of the account and
	// returns how many rows it touched.
	MarkAllRevoked(ctx context.Context, accountID string) (int, error)
}

// EmailSender dispatches rendered verification messages. Failures surface
// as a generic unavailable condition.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PhoneCheckStatus is the outcome of a provider-side code check.
type PhoneCheckStatus int

const (
	// PhoneCheckInvalid means the code did not match.
	PhoneCheckInvalid PhoneCheckStatus = iota
	// PhoneCheckValid means the code matched and the provider session is
	// consumed.
	PhoneCheckValid
	// PhoneCheckRateLimited means the provider throttled the check. The
	// engine retries exactly once before surfacing failure.
	PhoneCheckRateLimited
)

// PhoneVerifier is the outbound phone verification provider. The provider
// generates and delivers the code itself; the engine holds only the opaque
// verification-session id.
type PhoneVerifier interface {
	CreateVerification(ctx context.Context, number string, channel PhoneChannel) (sid string, err error)
	CheckVerification(ctx context.Context, sid, code string) (PhoneCheckStatus, error)
	CancelVerification(ctx context.Context, sid string) error
	FetchAttempts(ctx context.Context, sid string) (int, error)
}

// DeliveryPayload is the caller-supplied human-readable message for a code
// challenge. Body must contain CodePlaceholder; Start rejects payloads
// without it.
type DeliveryPayload struct {
	Subject string
	Body    string
}

// CodePlaceholder is the substitution marker every delivery body must carry.
const CodePlaceholder = "{{code}}"

// VerificationStart is returned by StartVerification. Token is the opaque
// caller-held correlation handle required by resend and verify.
type VerificationStart struct {
	Token     string
	ExpiresAt time.Time
}

// VerificationResend is returned by ResendVerification.
type VerificationResend struct {
	NextResendAt time.Time
	Remaining    int
}

// VerificationResult is a view of the consumed challenge, returned on a
// successful verify. Callers branch on its fields to finish the flow the
// challenge was guarding.
type VerificationResult struct {
	Intent  Intent
	Channel Channel
	// Subject is the verified address, or the account id for the
	// authenticator channel.
	Subject string
	// OwnerID is the account the challenge was bound to; empty for
	// pre-account intents.
	OwnerID string
}

// LoginResult is returned by the login operations. When MFARequired is set
// the caller must complete the challenge referenced by MFAToken before any
// token is issued.
type LoginResult struct {
	AccessToken string

	MFARequired bool
	MFAToken    string
	MFAMethods  []MFAMethod
	MaskedEmail string
	MaskedPhone string
}

// TOTPEnrollment is returned by BeginTOTPEnrollment.
type TOTPEnrollment struct {
	Secret string
	URI    string
}
