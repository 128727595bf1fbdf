package engine_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
	"github.com/tradewire/gofix/internal/settings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildEngine(t *testing.T, text string) *engine.Engine {
	t.Helper()
	ss, err := settings.Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse settings: %v", err)
	}
	e, err := engine.New(ss, fix.NullApplication{}, fix.MemoryStoreFactory{}, discardLogger(), nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

const twoSessions = `
[DEFAULT]
ConnectionType=acceptor
SocketAcceptPort=5001
BeginString=FIX.4.4
SenderCompID=EXEC

[SESSION]
TargetCompID=BANZAI

[SESSION]
TargetCompID=QUANT
ResetOnLogon=Y
`

func TestEngineCreatesSessionsFromSettings(t *testing.T) {
	t.Parallel()

	e := buildEngine(t, twoSessions)

	ids := e.SessionIDs()
	if len(ids) != 2 {
		t.Fatalf("SessionIDs = %v", ids)
	}

	sess, ok := e.Lookup(fix.NewSessionID(fix.BeginStringFIX44, "EXEC", "BANZAI"))
	if !ok {
		t.Fatal("session not registered")
	}
	if sess.IsInitiator() {
		t.Error("acceptor session reports initiator")
	}
	if sess.Status() != fix.StatusDisconnected {
		t.Errorf("fresh session status = %v", sess.Status())
	}
}

func TestLookupByCompIDsReverses(t *testing.T) {
	t.Parallel()

	e := buildEngine(t, twoSessions)

	// The counterparty introduces itself as BANZAI->EXEC; we are EXEC->BANZAI.
	sess, ok := e.LookupByCompIDs(fix.BeginStringFIX44, "BANZAI", "EXEC")
	if !ok {
		t.Fatal("reversed lookup failed")
	}
	if sess.ID().SenderCompID != "EXEC" || sess.ID().TargetCompID != "BANZAI" {
		t.Errorf("resolved wrong session: %v", sess.ID())
	}

	if _, ok := e.LookupByCompIDs(fix.BeginStringFIX44, "NOBODY", "EXEC"); ok {
		t.Error("unknown counterparty resolved")
	}
}

func TestSendToTargetUnknownSession(t *testing.T) {
	t.Parallel()

	e := buildEngine(t, twoSessions)
	msg := fix.NewMessage("D")
	err := e.SendToTarget(msg, fix.NewSessionID(fix.BeginStringFIX44, "X", "Y"))
	if !errors.Is(err, engine.ErrSessionNotFound) {
		t.Errorf("SendToTarget error = %v, want ErrSessionNotFound", err)
	}
}

func TestEngineRequiresDictionaryWhenEnabled(t *testing.T) {
	t.Parallel()

	text := `
[SESSION]
ConnectionType=acceptor
SocketAcceptPort=5001
BeginString=FIX.4.4
SenderCompID=A
TargetCompID=B
UseDataDictionary=Y
`
	ss, err := settings.Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := engine.New(ss, fix.NullApplication{}, fix.MemoryStoreFactory{}, discardLogger(), nil); err == nil {
		t.Fatal("engine accepted UseDataDictionary=Y without a dictionary path")
	}
}
