package stepauth

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stepauth-dev/stepauth/password"
)

func newAuditedEngine(t *testing.T, sink AuditSink) (*Engine, *mockAccounts) {
	t.Helper()

	_, rdb := newTestRedis(t)
	accounts := newMockAccounts()

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithAccountProvider(accounts).
		WithSessionProvider(newMockSessions()).
		WithEmailSender(&captureSender{}).
		WithAuditSink(sink).
		WithPasswordConfig(fastPasswordConfig()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine, accounts
}

func TestAuditPipelineDeliversEvents(t *testing.T) {
	sink := NewChannelSink(32)
	engine, accounts := newAuditedEngine(t, sink)
	ctx := context.Background()

	hasher, err := password.NewHasher(fastPasswordConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	accounts.Put(AccountRecord{ID: "acct-1", Email: "alice@example.com", PasswordHash: hash})

	if _, err := engine.Login(ctx, "alice@example.com", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Close drains everything already queued.
	engine.Close()

	var types []string
	for {
		select {
		case event := <-sink.Events():
			types = append(types, event.EventType)
			continue
		default:
		}
		break
	}

	wantOrder := []string{"login_failure", "login_success"}
	if len(types) != len(wantOrder) {
		t.Fatalf("expected %d events, got %v", len(wantOrder), types)
	}
	for i, want := range wantOrder {
		if types[i] != want {
			t.Fatalf("event %d: got %q, want %q", i, types[i], want)
		}
	}
}

func TestAuditEventCarriesContext(t *testing.T) {
	sink := NewChannelSink(32)
	engine, _ := newAuditedEngine(t, sink)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := engine.Login(ctx, "nobody@example.com", "x"); err == nil {
		t.Fatal("expected login failure")
	}
	engine.Close()

	select {
	case event := <-sink.Events():
		if event.EventType != "login_failure" || event.Success {
			t.Fatalf("unexpected event %+v", event)
		}
		if event.IP != "203.0.113.9" {
			t.Fatalf("expected client ip on event, got %q", event.IP)
		}
		if event.Error == "" {
			t.Fatal("expected the failure reason on the event")
		}
		if event.Timestamp.IsZero() || time.Since(event.Timestamp) > time.Minute {
			t.Fatalf("unexpected timestamp %v", event.Timestamp)
		}
	default:
		t.Fatal("expected a drained event")
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: "login_success", AccountID: "acct-1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "csrf_rejected"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.EventType != "login_success" || decoded.AccountID != "acct-1" || !decoded.Success {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelSink(8)

	cfg := testConfig()
	cfg.Audit.Enabled = false

	_, rdb := newTestRedis(t)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(newMockAccounts()).
		WithSessionProvider(newMockSessions()).
		WithAuditSink(sink).
		WithPasswordConfig(fastPasswordConfig()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, err := engine.Login(context.Background(), "nobody@example.com", "x"); err == nil {
		t.Fatal("expected login failure")
	}
	engine.Close()

	select {
	case event := <-sink.Events():
		t.Fatalf("unexpected event %+v", event)
	default:
	}

	if engine.AuditDropped() != 0 {
		t.Fatalf("disabled audit must not count drops, got %d", engine.AuditDropped())
	}
}
