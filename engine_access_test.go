package stepauth

import (
	"context"
	"errors"
	"testing"
)

func TestRequestAccessValidation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedAccount(t, "correct-horse-battery", func(a *AccountRecord) {
		a.EmailVerified = true
		a.MFAEmailEnabled = true
	})
	ctx := context.Background()
	token := env.loginWithEmailMFA(t, "alice@example.com", "correct-horse-battery")

	// High is a reserved tier; no challenge can be started for it.
	if _, err := env.engine.RequestAccess(ctx, token, AccessHigh, MFAEmail, DeliveryPayload{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected rejection for reserved tier request, got %v", err)
	}

	if _, err := env.engine.RequestAccess(ctx, token, AccessMedium, MFASMS, DeliveryPayload{}); !errors.Is(err, ErrMFAMethodNotEnabled) {
		t.Fatalf("expected method not enabled, got %v", err)
	}
}

func TestMediumAccessGrantViaEmail(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedAccount(t, "correct-horse-battery", func(a *AccountRecord) {
		a.EmailVerified = true
		a.MFAEmailEnabled = true
	})
	ctx := context.Background()
	token := env.loginWithEmailMFA(t, "alice@example.com", "correct-horse-battery")

	payload := DeliveryPayload{Subject: "step up", Body: CodePlaceholder}
	start, err := env.engine.RequestAccess(ctx, token, AccessMedium, MFAEmail, payload)
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}

	elevated, err := env.engine.ConfirmAccess(ctx, token, start.Token, MFAEmail, env.emails.lastCode(t))
	if err != nil {
		t.Fatalf("ConfirmAccess failed: %v", err)
	}

	sess, err := env.engine.Authenticate(ctx, elevated)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess.Level != AccessMedium {
		t.Fatalf("expected medium level, got %v", sess.Level)
	}
	if !sess.MFAVerified {
		t.Fatal("expected MFA-verified session after a code proof")
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricAccessGrantMedium]; got != 1 {
		t.Fatalf("expected 1 medium grant counted, got %d", got)
	}

	// The held level cannot be requested again.
	if _, err := env.engine.RequestAccess(ctx, elevated, AccessMedium, MFAEmail, payload); !errors.Is(err, ErrRedundantAccessRequest) {
		t.Fatalf("expected redundant request, got %v", err)
	}
	if _, err := env.engine.ConfirmAccess(ctx, elevated, start.Token, MFAEmail, "000000"); !errors.Is(err, ErrRedundantAccessRequest) {
		t.Fatalf("expected redundant confirm, got %v", err)
	}

	// Password re-entry is just another Medium proof; an elevated session
	// is turned away before the password is even looked at.
	if _, err := env.engine.ConfirmAccessPassword(ctx, elevated, "correct-horse-battery"); !errors.Is(err, ErrRedundantAccessRequest) {
		t.Fatalf("expected redundant password confirm, got %v", err)
	}
}

func TestPasswordProofGrantsMediumAccess(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedAccount(t, "correct-horse-battery", nil)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := env.engine.ConfirmAccessPassword(ctx, result.AccessToken, "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}

	elevated, err := env.engine.ConfirmAccessPassword(ctx, result.AccessToken, "correct-horse-battery")
	if err != nil {
		t.Fatalf("ConfirmAccessPassword failed: %v", err)
	}

	sess, err := env.engine.Authenticate(ctx, elevated)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess.Level != AccessMedium {
		t.Fatalf("expected medium level, got %v", sess.Level)
	}
	if sess.MFAVerified {
		t.Fatal("password re-entry must not mark the session MFA-verified")
	}

	if _, err := env.engine.ConfirmAccessPassword(ctx, elevated, "correct-horse-battery"); !errors.Is(err, ErrRedundantAccessRequest) {
		t.Fatalf("expected redundant request, got %v", err)
	}
}

func TestRedundantPasswordConfirmSkipsPasswordCheck(t *testing.T) {
	cfg := testConfig()
	cfg.StepUp.MaxFailedAttempts = 1
	env := newTestEnv(t, cfg)
	env.seedAccount(t, "correct-horse-battery", nil)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	elevated, err := env.engine.ConfirmAccessPassword(ctx, result.AccessToken, "correct-horse-battery")
	if err != nil {
		t.Fatalf("ConfirmAccessPassword failed: %v", err)
	}

	// A wrong password on an already-elevated session is rejected as
	// redundant before the hash check, so it neither reveals a password
	// verdict nor counts against the abuse threshold.
	if _, err := env.engine.ConfirmAccessPassword(ctx, elevated, "wrong"); !errors.Is(err, ErrRedundantAccessRequest) {
		t.Fatalf("expected redundant request, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, elevated); err != nil {
		t.Fatalf("expected session to survive, got %v", err)
	}
}

func TestAbuseThresholdRevokesSession(t *testing.T) {
	cfg := testConfig()
	cfg.StepUp.MaxFailedAttempts = 3
	env := newTestEnv(t, cfg)
	env.seedAccount(t, "correct-horse-battery", nil)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	token := result.AccessToken

	sess, err := env.engine.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ConfirmAccessPassword(ctx, token, "wrong"); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("attempt %d: expected invalid password, got %v", i+1, err)
		}
	}

	// The third sustained failure revokes the session outright.
	if _, err := env.engine.ConfirmAccessPassword(ctx, token, "wrong"); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected session revoked, got %v", err)
	}

	if _, err := env.engine.Authenticate(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected dead session, got %v", err)
	}
	row, _ := env.sessions.Row(sess.PrimaryID)
	if row.RevokedAt == nil {
		t.Fatal("expected durable row marked revoked")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAbuseRevocation]; got != 1 {
		t.Fatalf("expected 1 abuse revocation counted, got %d", got)
	}
}

func TestProofFailuresShareOneCounter(t *testing.T) {
	cfg := testConfig()
	cfg.StepUp.MaxFailedAttempts = 3
	env := newTestEnv(t, cfg)
	env.seedAccount(t, "correct-horse-battery", func(a *AccountRecord) {
		a.EmailVerified = true
		a.MFAEmailEnabled = true
	})
	ctx := context.Background()
	token := env.loginWithEmailMFA(t, "alice@example.com", "correct-horse-battery")

	payload := DeliveryPayload{Subject: "step up", Body: CodePlaceholder}
	start, err := env.engine.RequestAccess(ctx, token, AccessMedium, MFAEmail, payload)
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}

	// Two wrong codes and one wrong password; different proofs, one
	// counter.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.ConfirmAccess(ctx, token, start.Token, MFAEmail, "000000"); !errors.Is(err, ErrInvalidEmailCode) {
			t.Fatalf("attempt %d: expected invalid email code, got %v", i+1, err)
		}
	}
	if _, err := env.engine.ConfirmAccessPassword(ctx, token, "wrong"); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected session revoked, got %v", err)
	}
}

func TestSuccessfulProofResetsAbuseCounter(t *testing.T) {
	cfg := testConfig()
	cfg.StepUp.MaxFailedAttempts = 3
	env := newTestEnv(t, cfg)
	env.seedAccount(t, "correct-horse-battery", nil)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ConfirmAccessPassword(ctx, result.AccessToken, "wrong"); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("attempt %d: expected invalid password, got %v", i+1, err)
		}
	}

	// A successful proof lands before the threshold and clears the slate.
	if _, err := env.engine.ConfirmAccessPassword(ctx, result.AccessToken, "correct-horse-battery"); err != nil {
		t.Fatalf("ConfirmAccessPassword failed: %v", err)
	}
}
