package stepauth

import (
	"context"

	"github.com/stepauth-dev/stepauth/internal"
	"github.com/stepauth-dev/stepauth/session"
)

// Login verifies email and password. Accounts with a second factor enabled
// get back an MFA challenge reference instead of a token; everyone else
// gets a fresh session immediately. Unknown account and wrong password are
// indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.takeRate(ctx, "login", "", email); err != nil {
		return nil, err
	}

	account, err := e.accountProvider.GetAccountByEmail(ctx, email)
	if err != nil || account == nil || !account.HasPassword() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	methods := account.EnabledMFAMethods()
	if len(methods) > 0 {
		tokenID, err := internal.NewID()
		if err != nil {
			return nil, ErrServiceUnavailable
		}

		rec := &mfaLoginRecord{AccountID: account.ID}
		if err := e.mfaLoginStore.Save(ctx, tokenID.String(), rec, e.config.Login.MFATokenTTL); err != nil {
			return nil, ErrServiceUnavailable
		}

		e.metricInc(MetricLoginMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, account.ID, "", nil, nil)

		return &LoginResult{
			MFARequired: true,
			MFAToken:    tokenID.String(),
			MFAMethods:  methods,
			MaskedEmail: account.MaskedEmail(),
			MaskedPhone: account.MaskedPhone(),
		}, nil
	}

	return e.createSession(ctx, account.ID, session.KindPassword, false)
}

// RequestLoginMFA picks a second-factor method for a pending login and
// starts its code challenge. For the app method nothing is dispatched.
func (e *Engine) RequestLoginMFA(ctx context.Context, mfaToken string, method MFAMethod, payload DeliveryPayload) error {
	if e == nil || e.mfaLoginStore == nil {
		return ErrEngineNotReady
	}

	rec, err := e.mfaLoginStore.Get(ctx, mfaToken)
	if err != nil {
		return mapMFALoginError(err)
	}

	account, err := e.accountProvider.GetAccount(ctx, rec.AccountID)
	if err != nil || account == nil {
		return ErrAccountNotFound
	}
	if !methodEnabled(account, method) {
		return ErrMFAMethodNotEnabled
	}

	req, err := challengeRequest(account, method, payload)
	if err != nil {
		return err
	}

	start, err := e.StartVerification(ctx, req)
	if err != nil {
		return err
	}

	rec.Method = method
	rec.Subject = req.Subject
	rec.VerifyToken = start.Token
	rec.Delivery = req.PhoneChannel

	ttl := e.config.Login.MFATokenTTL
	if err := e.mfaLoginStore.Save(ctx, mfaToken, rec, ttl); err != nil {
		return ErrServiceUnavailable
	}

	return nil
}

// ConfirmLoginMFA completes the pending login's challenge and creates the
// session. The session is marked MFA-verified; its access level still
// starts at the base tier.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, mfaToken, submitted string) (*LoginResult, error) {
	if e == nil || e.mfaLoginStore == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.mfaLoginStore.Get(ctx, mfaToken)
	if err != nil {
		return nil, mapMFALoginError(err)
	}
	if rec.VerifyToken == "" {
		return nil, ErrVerificationNotFound
	}

	req := StartVerificationRequest{
		Intent:       IntentMFALogin,
		Channel:      methodChannel(rec.Method),
		Subject:      rec.Subject,
		PhoneChannel: rec.Delivery,
		OwnerID:      rec.AccountID,
	}
	if _, err := e.CompleteVerification(ctx, req, rec.VerifyToken, submitted); err != nil {
		e.metricInc(MetricMFALoginFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, rec.AccountID, "", err, nil)
		return nil, err
	}

	if err := e.mfaLoginStore.Delete(ctx, mfaToken); err != nil {
		return nil, ErrServiceUnavailable
	}

	e.metricInc(MetricMFALoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, rec.AccountID, "", nil, nil)

	return e.createSession(ctx, rec.AccountID, session.KindPassword, true)
}

// FederatedLogin creates a session for an identity already proven by an
// upstream provider. Credential and MFA checks are the provider's problem;
// the session carries the federated kind and the base access level.
func (e *Engine) FederatedLogin(ctx context.Context, accountID string) (*LoginResult, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.takeRate(ctx, "login", accountID, ""); err != nil {
		return nil, err
	}

	account, err := e.accountProvider.GetAccount(ctx, accountID)
	if err != nil || account == nil {
		return nil, ErrAccountNotFound
	}

	return e.createSession(ctx, account.ID, session.KindFederated, false)
}

func (e *Engine) createSession(ctx context.Context, accountID string, kind uint8, mfaVerified bool) (*LoginResult, error) {
	primary, err := internal.NewID()
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	secondary, err := internal.NewID()
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	now := nowFunc()
	rec := &session.Record{
		PrimaryID:   primary.String(),
		SecondaryID: secondary.String(),
		AccountID:   accountID,
		Level:       session.LevelNone,
		Kind:        kind,
		MFAVerified: mfaVerified,
		CreatedAt:   now.Unix(),
	}

	if err := e.sessionStore.Save(ctx, rec); err != nil {
		return nil, ErrServiceUnavailable
	}

	durableKind := SessionPassword
	if kind == session.KindFederated {
		durableKind = SessionFederated
	}
	if err := e.sessionProvider.CreateSession(ctx, DurableSession{
		PrimaryID:   rec.PrimaryID,
		SecondaryID: rec.SecondaryID,
		AccountID:   accountID,
		Kind:        durableKind,
		CreatedAt:   now,
	}); err != nil {
		_ = e.sessionStore.Delete(ctx, rec.SecondaryID)
		return nil, ErrServiceUnavailable
	}

	token, err := e.jwtManager.CreateAccess(accountID, rec.PrimaryID, rec.SecondaryID, rec.Level, rec.MFAVerified)
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, accountID, rec.PrimaryID, nil, nil)

	return &LoginResult{AccessToken: token}, nil
}

func methodEnabled(account *AccountRecord, method MFAMethod) bool {
	for _, m := range account.EnabledMFAMethods() {
		if m == method {
			return true
		}
	}
	return false
}

func methodChannel(method MFAMethod) Channel {
	switch method {
	case MFAApp:
		return ChannelTOTP
	case MFASMS, MFAWhatsApp:
		return ChannelPhone
	default:
		return ChannelEmail
	}
}

func challengeRequest(account *AccountRecord, method MFAMethod, payload DeliveryPayload) (StartVerificationRequest, error) {
	req := StartVerificationRequest{
		Intent:  IntentMFALogin,
		Channel: methodChannel(method),
		OwnerID: account.ID,
		Payload: payload,
	}

	switch method {
	case MFAEmail:
		req.Subject = account.Email
	case MFASMS:
		req.Subject = account.Phone
		req.PhoneChannel = PhoneSMS
	case MFAWhatsApp:
		req.Subject = account.Phone
		req.PhoneChannel = PhoneWhatsApp
	case MFAApp:
		req.Subject = account.ID
	default:
		return req, ErrMFAMethodNotEnabled
	}

	return req, nil
}

func mapMFALoginError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == errMFALoginNotFound:
		return ErrVerificationNotFound
	default:
		return ErrServiceUnavailable
	}
}
