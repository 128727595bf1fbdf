package settings_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/tradewire/gofix/internal/fix"
	"github.com/tradewire/gofix/internal/settings"
)

const validSettings = `
# engine sessions
[DEFAULT]
ConnectionType=initiator
HeartBtInt=30
SocketConnectHost=fix.example.com
SocketConnectPort=9876
BeginString=FIX.4.4
SenderCompID = BANZAI

[SESSION]
TargetCompID=EXEC

[SESSION]
TargetCompID=EXEC2
HeartBtInt=15
`

func TestParseInheritsDefaults(t *testing.T) {
	t.Parallel()

	ss, err := settings.Parse(strings.NewReader(validSettings))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ids := ss.SessionIDs()
	if len(ids) != 2 {
		t.Fatalf("SessionIDs = %v", ids)
	}
	want := fix.NewSessionID(fix.BeginStringFIX44, "BANZAI", "EXEC")
	if ids[0] != want {
		t.Errorf("first session = %v, want %v", ids[0], want)
	}

	d, ok := ss.Get(want)
	if !ok {
		t.Fatal("session dictionary missing")
	}
	// Inherited from DEFAULT; keys are case-insensitive.
	if hb, err := d.GetInt("heartbtint"); err != nil || hb != 30 {
		t.Errorf("HeartBtInt = %d, %v", hb, err)
	}
	if host, _ := d.GetString(settings.KeySocketConnectHost); host != "fix.example.com" {
		t.Errorf("host = %q", host)
	}

	// Per-session override wins over DEFAULT.
	d2, _ := ss.Get(fix.NewSessionID(fix.BeginStringFIX44, "BANZAI", "EXEC2"))
	if hb, _ := d2.GetInt(settings.KeyHeartBtInt); hb != 15 {
		t.Errorf("override HeartBtInt = %d, want 15", hb)
	}
}

func TestParseValidationFailures(t *testing.T) {
	t.Parallel()

	base := `
[DEFAULT]
BeginString=FIX.4.4
SenderCompID=A
TargetCompID=B
`
	tests := []struct {
		name string
		body string
	}{
		{"missing connection type", base + "[SESSION]\n"},
		{"bad connection type", base + "[SESSION]\nConnectionType=both\n"},
		{"qualifier on acceptor", base +
			"[SESSION]\nConnectionType=acceptor\nSocketAcceptPort=5001\nSessionQualifier=Q\n"},
		{"acceptor without port", base + "[SESSION]\nConnectionType=acceptor\n"},
		{"initiator without heartbeat", base +
			"[SESSION]\nConnectionType=initiator\nSocketConnectHost=h\nSocketConnectPort=1\n"},
		{"zero heartbeat", base +
			"[SESSION]\nConnectionType=initiator\nHeartBtInt=0\nSocketConnectHost=h\nSocketConnectPort=1\n"},
		{"initiator without host", base +
			"[SESSION]\nConnectionType=initiator\nHeartBtInt=30\n"},
		{"start day without end day", base +
			"[SESSION]\nConnectionType=acceptor\nSocketAcceptPort=5001\nStartDay=MO\n"},
		{"end day without start day", base +
			"[SESSION]\nConnectionType=acceptor\nSocketAcceptPort=5001\nEndDay=FR\n"},
		{"logon time outside window", base +
			"[SESSION]\nConnectionType=acceptor\nSocketAcceptPort=5001\n" +
			"StartTime=09:00:00\nEndTime=17:00:00\nLogonTime=08:00:00\n"},
		{"unsupported begin string", `
[SESSION]
ConnectionType=acceptor
SocketAcceptPort=5001
BeginString=FIX.9.9
SenderCompID=A
TargetCompID=B
`},
		{"fixt without applverid", `
[SESSION]
ConnectionType=acceptor
SocketAcceptPort=5001
BeginString=FIXT.1.1
SenderCompID=A
TargetCompID=B
`},
		{"duplicate session", base +
			"[SESSION]\nConnectionType=acceptor\nSocketAcceptPort=5001\n" +
			"[SESSION]\nConnectionType=acceptor\nSocketAcceptPort=5001\n"},
		{"unknown section", "[GLOBAL]\nKey=1\n"},
		{"key before section", "Key=1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := settings.Parse(strings.NewReader(tt.body))
			if !errors.Is(err, settings.ErrConfig) {
				t.Errorf("Parse error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestParseAcceptsFIXTWithApplVerID(t *testing.T) {
	t.Parallel()

	text := `
[SESSION]
ConnectionType=acceptor
SocketAcceptPort=5001
BeginString=FIXT.1.1
SenderCompID=A
TargetCompID=B
DefaultApplVerID=9
`
	ss, err := settings.Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	id := ss.SessionIDs()[0]
	if !id.IsFIXT() {
		t.Errorf("session %v not recognized as FIXT", id)
	}
}

func TestDictionaryAccessors(t *testing.T) {
	t.Parallel()

	d := settings.NewDictionary("SESSION")
	d.Set("  BoolKey  ", " Y ")
	d.Set("IntKey", "42")
	d.Set("DayKey", "Friday")

	if v, err := d.GetBool("boolkey"); err != nil || !v {
		t.Errorf("GetBool = %v, %v", v, err)
	}
	if v, err := d.GetInt("INTKEY"); err != nil || v != 42 {
		t.Errorf("GetInt = %d, %v", v, err)
	}
	if v, err := d.GetDay("daykey"); err != nil || v != 6 {
		t.Errorf("GetDay = %d, %v", v, err)
	}
	if v, err := d.GetDay("absent"); err != nil || v != fix.DayUnset {
		t.Errorf("GetDay absent = %d, %v", v, err)
	}
	if _, err := d.GetString("missing"); !errors.Is(err, settings.ErrKeyNotFound) {
		t.Errorf("GetString missing = %v", err)
	}
	if v, err := d.GetBoolDefault("missing", true); err != nil || !v {
		t.Errorf("GetBoolDefault = %v, %v", v, err)
	}
}
