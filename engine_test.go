package stepauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stepauth-dev/stepauth/password"
)

func testKey(fill byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = fill
	}
	return key
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Keys.TOTPKey = testKey(0x01)
	cfg.Keys.CSRFKey = testKey(0x02)
	cfg.Keys.CookieSigningKey = testKey(0x03)
	cfg.Token.Secret = testKey(0x04)
	cfg.RateLimit.Account = ScopeLimitConfig{Max: 1000, Window: time.Minute}
	cfg.RateLimit.Data = ScopeLimitConfig{Max: 1000, Window: time.Minute}
	cfg.RateLimit.IP = ScopeLimitConfig{Max: 1000, Window: time.Minute}
	return cfg
}

func fastPasswordConfig() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type mockAccounts struct {
	mu      sync.RWMutex
	byID    map[string]AccountRecord
	byEmail map[string]string
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{
		byID:    make(map[string]AccountRecord),
		byEmail: make(map[string]string),
	}
}

func (p *mockAccounts) Put(a AccountRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[a.ID] = a
	p.byEmail[a.Email] = a.ID
}

func (p *mockAccounts) Record(id string) AccountRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byID[id]
}

func (p *mockAccounts) GetAccount(_ context.Context, accountID string) (*AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.byID[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (p *mockAccounts) GetAccountByEmail(_ context.Context, email string) (*AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := p.byID[id]
	return &a, nil
}

func (p *mockAccounts) EnableTOTP(_ context.Context, accountID string, key []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.TOTPKey = key
	a.MFAAppEnabled = true
	p.byID[accountID] = a
	return nil
}

func (p *mockAccounts) DisableTOTP(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.TOTPKey = nil
	a.MFAAppEnabled = false
	p.byID[accountID] = a
	return nil
}

type mockSessions struct {
	mu   sync.Mutex
	rows map[string]DurableSession
}

func newMockSessions() *mockSessions {
	return &mockSessions{rows: make(map[string]DurableSession)}
}

func (p *mockSessions) Row(primaryID string) (DurableSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[primaryID]
	return row, ok
}

func (p *mockSessions) CreateSession(_ context.Context, row DurableSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[row.PrimaryID] = row
	return nil
}

func (p *mockSessions) GetSession(_ context.Context, primaryID string) (*DurableSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.rows[primaryID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &row, nil
}

func (p *mockSessions) UpdateSessionToken(_ context.Context, primaryID, secondaryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.rows[primaryID]
	if !ok {
		return ErrSessionNotFound
	}
	row.SecondaryID = secondaryID
	p.rows[primaryID] = row
	return nil
}

func (p *mockSessions) MarkRevoked(_ context.Context, primaryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.rows[primaryID]
	if !ok || row.RevokedAt != nil {
		return nil
	}
	now := time.Now()
	row.RevokedAt = &now
	p.rows[primaryID] = row
	return nil
}

func (p *mockSessions) MarkAllRevoked(_ context.Context, accountID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int
	now := time.Now()
	for id, row := range p.rows {
		if row.AccountID != accountID || row.RevokedAt != nil {
			continue
		}
		row.RevokedAt = &now
		p.rows[id] = row
		n++
	}
	return n, nil
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (c *captureSender) Send(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// lastCode extracts the code from the most recent message. Tests send the
// bare placeholder as the body, so the delivered body is the code itself.
func (c *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sent) == 0 {
		t.Fatal("no email was sent")
	}
	return strings.TrimSpace(c.sent[len(c.sent)-1].Body)
}

// mockPhone is a phone verification provider that holds one code per
// created verification session.
type mockPhone struct {
	mu        sync.Mutex
	code      string
	created   int
	throttled int
	canceled  []string
}

func newMockPhone(code string) *mockPhone {
	return &mockPhone{code: code}
}

func (p *mockPhone) throttleNextChecks(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throttled = n
}

func (p *mockPhone) CreateVerification(_ context.Context, _ string, _ PhoneChannel) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return fmt.Sprintf("sid-%d", p.created), nil
}

func (p *mockPhone) CheckVerification(_ context.Context, _ string, code string) (PhoneCheckStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.throttled > 0 {
		p.throttled--
		return PhoneCheckRateLimited, nil
	}
	if code == p.code {
		return PhoneCheckValid, nil
	}
	return PhoneCheckInvalid, nil
}

func (p *mockPhone) CancelVerification(_ context.Context, sid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, sid)
	return nil
}

func (p *mockPhone) FetchAttempts(_ context.Context, _ string) (int, error) {
	return 0, nil
}

type testEnv struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	accounts *mockAccounts
	sessions *mockSessions
	emails   *captureSender
	phone    *mockPhone
	hasher   *password.Hasher
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)

	env := &testEnv{
		mr:       mr,
		rdb:      rdb,
		accounts: newMockAccounts(),
		sessions: newMockSessions(),
		emails:   &captureSender{},
		phone:    newMockPhone("424242"),
	}

	hasher, err := password.NewHasher(fastPasswordConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	env.hasher = hasher

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(env.accounts).
		WithSessionProvider(env.sessions).
		WithEmailSender(env.emails).
		WithPhoneVerifier(env.phone).
		WithPasswordConfig(fastPasswordConfig()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) seedAccount(t *testing.T, pass string, mutate func(*AccountRecord)) AccountRecord {
	t.Helper()

	account := AccountRecord{
		ID:    "acct-1",
		Email: "alice@example.com",
		Phone: "+15550001111",
	}
	if pass != "" {
		hash, err := env.hasher.Hash(pass)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
		account.PasswordHash = hash
	}
	if mutate != nil {
		mutate(&account)
	}

	env.accounts.Put(account)
	return account
}

// loginWithEmailMFA drives the full second-factor login and returns the
// resulting access token.
func (env *testEnv) loginWithEmailMFA(t *testing.T, email, pass string) string {
	t.Helper()
	ctx := context.Background()

	result, err := env.engine.Login(ctx, email, pass)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected MFA to be required")
	}

	payload := DeliveryPayload{Subject: "code", Body: CodePlaceholder}
	if err := env.engine.RequestLoginMFA(ctx, result.MFAToken, MFAEmail, payload); err != nil {
		t.Fatalf("RequestLoginMFA failed: %v", err)
	}

	confirmed, err := env.engine.ConfirmLoginMFA(ctx, result.MFAToken, env.emails.lastCode(t))
	if err != nil {
		t.Fatalf("ConfirmLoginMFA failed: %v", err)
	}
	return confirmed.AccessToken
}

func TestBuildRequiresProviders(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected build to fail without providers")
	}

	if _, err := New().
		WithConfig(testConfig()).
		WithAccountProvider(newMockAccounts()).
		WithSessionProvider(newMockSessions()).
		Build(); err == nil {
		t.Fatal("expected build to fail without redis")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)

	b := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithAccountProvider(newMockAccounts()).
		WithSessionProvider(newMockSessions()).
		WithPasswordConfig(fastPasswordConfig())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}
