package stepauth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func emailStartRequest() StartVerificationRequest {
	return StartVerificationRequest{
		Intent:  IntentRegister,
		Channel: ChannelEmail,
		Subject: "new@example.com",
		Payload: DeliveryPayload{Subject: "verify", Body: CodePlaceholder},
	}
}

func TestStartVerificationRequiresPlaceholder(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req := emailStartRequest()
	req.Payload.Body = "no code here"

	if _, err := env.engine.StartVerification(context.Background(), req); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected invalid template, got %v", err)
	}
}

func TestEmailVerificationCompletes(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	req := emailStartRequest()

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	if start.Token == "" {
		t.Fatal("expected a challenge token")
	}
	if remaining := time.Until(start.ExpiresAt); remaining <= 0 || remaining > 10*time.Minute {
		t.Fatalf("unexpected expiry %v", start.ExpiresAt)
	}

	code := env.emails.lastCode(t)
	if len(code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}

	result, err := env.engine.CompleteVerification(ctx, req, start.Token, code)
	if err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
	if result.Intent != IntentRegister || result.Channel != ChannelEmail || result.Subject != "new@example.com" {
		t.Fatalf("unexpected result %+v", result)
	}

	// The record is consumed.
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, code); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected verification not found, got %v", err)
	}
}

func TestCompleteVerificationReturnsOwner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	req := emailStartRequest()
	req.Intent = IntentAddEmail
	req.OwnerID = "acct-1"

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	result, err := env.engine.CompleteVerification(ctx, req, start.Token, env.emails.lastCode(t))
	if err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
	if result.OwnerID != "acct-1" {
		t.Fatalf("expected owner acct-1, got %q", result.OwnerID)
	}
}

func TestCompleteVerificationRejectsTokenAndIntentMismatch(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	req := emailStartRequest()

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	code := env.emails.lastCode(t)

	if _, err := env.engine.CompleteVerification(ctx, req, "bogus-token", code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	wrongIntent := req
	wrongIntent.Intent = IntentAddEmail
	if _, err := env.engine.CompleteVerification(ctx, wrongIntent, start.Token, code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected intent mismatch rejection, got %v", err)
	}

	// The original pairing still works.
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, code); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}

func TestCompleteVerificationEnforcesOwner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	req := emailStartRequest()
	req.Intent = IntentAddEmail
	req.OwnerID = "acct-1"

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	code := env.emails.lastCode(t)

	stolen := req
	stolen.OwnerID = "acct-2"
	if _, err := env.engine.CompleteVerification(ctx, stolen, start.Token, code); !errors.Is(err, ErrVerificationForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestVerificationAttemptCapDestroysRecord(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	req := emailStartRequest()

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	code := env.emails.lastCode(t)

	// Four wrong entries are recoverable.
	for i := 0; i < 4; i++ {
		if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "000000"); !errors.Is(err, ErrInvalidEmailCode) {
			t.Fatalf("attempt %d: expected invalid email code, got %v", i+1, err)
		}
	}

	// The fifth failure reaches the cap and destroys the record.
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "000000"); !errors.Is(err, ErrEmailAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded, got %v", err)
	}

	// Even the right code is useless now; the flow must restart.
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, code); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected verification not found, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricVerificationAttemptsExceeded] != 1 {
		t.Fatalf("expected attempts-exceeded metric, got %d", snap.Counters[MetricVerificationAttemptsExceeded])
	}
}

func TestResendKeepsCodeAndEnforcesCaps(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.ResendCooldown = 50 * time.Millisecond
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	req := emailStartRequest()

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	original := env.emails.lastCode(t)

	// Inside the cooldown window.
	if _, err := env.engine.ResendVerification(ctx, req, start.Token); !errors.Is(err, ErrEmailResendCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	resend, err := env.engine.ResendVerification(ctx, req, start.Token)
	if err != nil {
		t.Fatalf("first resend failed: %v", err)
	}
	if resend.Remaining != 1 {
		t.Fatalf("expected 1 resend remaining, got %d", resend.Remaining)
	}
	if got := env.emails.lastCode(t); got != original {
		t.Fatalf("resend changed the code: %q != %q", got, original)
	}

	time.Sleep(60 * time.Millisecond)
	resend, err = env.engine.ResendVerification(ctx, req, start.Token)
	if err != nil {
		t.Fatalf("second resend failed: %v", err)
	}
	if resend.Remaining != 0 {
		t.Fatalf("expected 0 resends remaining, got %d", resend.Remaining)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := env.engine.ResendVerification(ctx, req, start.Token); !errors.Is(err, ErrEmailResendLimit) {
		t.Fatalf("expected resend limit, got %v", err)
	}

	// The resent code still verifies.
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, original); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}

func TestResendRestartsChallengeTTL(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.CodeTTL = time.Second
	cfg.Verification.ResendCooldown = 50 * time.Millisecond
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	req := emailStartRequest()

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	// Burn most of the window, then resend.
	env.mr.FastForward(700 * time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	if _, err := env.engine.ResendVerification(ctx, req, start.Token); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}

	// The re-delivered code lives a full window again.
	if ttl := env.mr.TTL("sa:vrf:email:new@example.com"); ttl < 900*time.Millisecond {
		t.Fatalf("expected refreshed TTL, got %v", ttl)
	}
}

func TestStartVerificationReplacesPending(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	req := emailStartRequest()

	first, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	second, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	code := env.emails.lastCode(t)

	if _, err := env.engine.CompleteVerification(ctx, req, first.Token, code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected stale token rejection, got %v", err)
	}
	if _, err := env.engine.CompleteVerification(ctx, req, second.Token, code); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}

func TestVerificationExpiresWithTTL(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	req := emailStartRequest()

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	code := env.emails.lastCode(t)

	env.mr.FastForward(11 * time.Minute)

	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, code); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}

func TestPhoneVerificationDelegatesToProvider(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	req := StartVerificationRequest{
		Intent:       IntentAddPhone,
		Channel:      ChannelPhone,
		Subject:      "+15550001111",
		PhoneChannel: PhoneSMS,
		OwnerID:      "acct-1",
	}

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	if env.phone.created != 1 {
		t.Fatalf("expected one provider verification, got %d", env.phone.created)
	}
	// No email and no locally held code for the phone channel.
	if env.emails.count() != 0 {
		t.Fatal("phone challenge must not send email")
	}

	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "111111"); !errors.Is(err, ErrInvalidPhoneCode) {
		t.Fatalf("expected invalid phone code, got %v", err)
	}
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "424242"); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}

func TestStartVerificationCancelsReplacedProviderSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	req := StartVerificationRequest{
		Intent:  IntentAddPhone,
		Channel: ChannelPhone,
		Subject: "+15550001111",
		OwnerID: "acct-1",
	}

	first, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	// The replaced challenge releases its provider session.
	if env.phone.created != 2 {
		t.Fatalf("expected two provider verifications, got %d", env.phone.created)
	}
	if len(env.phone.canceled) != 1 || env.phone.canceled[0] != "sid-1" {
		t.Fatalf("expected provider cancel for sid-1, got %v", env.phone.canceled)
	}

	if _, err := env.engine.CompleteVerification(ctx, req, first.Token, "424242"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected stale token rejection, got %v", err)
	}
	if _, err := env.engine.CompleteVerification(ctx, req, second.Token, "424242"); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}

func TestPhoneResendCancelsReplacedProviderSession(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.ResendCooldown = 50 * time.Millisecond
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	req := StartVerificationRequest{
		Intent:  IntentAddPhone,
		Channel: ChannelPhone,
		Subject: "+15550001111",
		OwnerID: "acct-1",
	}

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := env.engine.ResendVerification(ctx, req, start.Token); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}

	// The provider re-dispatched under a fresh session; the superseded one
	// is released.
	if env.phone.created != 2 {
		t.Fatalf("expected two provider verifications, got %d", env.phone.created)
	}
	if len(env.phone.canceled) != 1 || env.phone.canceled[0] != "sid-1" {
		t.Fatalf("expected provider cancel for sid-1, got %v", env.phone.canceled)
	}

	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "424242"); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}

func TestPhoneCheckRetriesOnceOnProviderThrottle(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	req := StartVerificationRequest{
		Intent:  IntentAddPhone,
		Channel: ChannelPhone,
		Subject: "+15550001111",
		OwnerID: "acct-1",
	}

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	// One throttled check; the single retry succeeds.
	env.phone.throttleNextChecks(1)
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "424242"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	start, err = env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	// Sustained throttling surfaces as unavailable, not as a wrong code.
	env.phone.throttleNextChecks(2)
	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "424242"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
}

func TestCancelVerificationReleasesProviderSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	req := StartVerificationRequest{
		Intent:  IntentAddPhone,
		Channel: ChannelPhone,
		Subject: "+15550001111",
		OwnerID: "acct-1",
	}

	start, err := env.engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	if err := env.engine.CancelVerification(ctx, req, start.Token); err != nil {
		t.Fatalf("CancelVerification failed: %v", err)
	}
	if len(env.phone.canceled) != 1 || env.phone.canceled[0] != "sid-1" {
		t.Fatalf("expected provider cancel for sid-1, got %v", env.phone.canceled)
	}

	if _, err := env.engine.CompleteVerification(ctx, req, start.Token, "424242"); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected verification not found, got %v", err)
	}
}

// logCapture is a slog handler that records attribute sets.
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]string
}

func (h *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (h *logCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	h.entries = append(h.entries, attrs)
	h.mu.Unlock()
	return nil
}

func (h *logCapture) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logCapture) WithGroup(string) slog.Handler      { return h }

func (h *logCapture) lastBody(t *testing.T) string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.entries) - 1; i >= 0; i-- {
		if body, ok := h.entries[i]["body"]; ok {
			return body
		}
	}
	t.Fatal("no suppressed delivery was logged")
	return ""
}

func TestNonProductionLogsCodeInsteadOfSending(t *testing.T) {
	_, rdb := newTestRedis(t)
	capture := &logCapture{}

	cfg := testConfig()
	cfg.Environment = EnvDevelopment

	// No email sender at all; outside production none is needed.
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(newMockAccounts()).
		WithSessionProvider(newMockSessions()).
		WithLogger(slog.New(capture)).
		WithPasswordConfig(fastPasswordConfig()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	req := emailStartRequest()

	start, err := engine.StartVerification(ctx, req)
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	code := capture.lastBody(t)
	if len(code) != 6 {
		t.Fatalf("expected the logged body to be the code, got %q", code)
	}

	if _, err := engine.CompleteVerification(ctx, req, start.Token, code); err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
}
