package server_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
	"github.com/tradewire/gofix/internal/server"
	"github.com/tradewire/gofix/internal/settings"
)

const testSettings = `
[SESSION]
ConnectionType=acceptor
SocketAcceptPort=5001
BeginString=FIX.4.4
SenderCompID=EXEC
TargetCompID=BANZAI
`

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	ss, err := settings.Parse(strings.NewReader(testSettings))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := engine.New(ss, fix.NullApplication{}, fix.MemoryStoreFactory{}, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	srv := httptest.NewServer(server.New(e, logger))
	t.Cleanup(srv.Close)
	return srv, e
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func post(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestSessionsListing(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	code, body := get(t, srv.URL+"/sessions")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, "FIX.4.4-EXEC-BANZAI") {
		t.Errorf("listing missing session: %q", body)
	}
	if !strings.Contains(body, "status=Disconnected") {
		t.Errorf("listing missing status: %q", body)
	}
}

func TestSessionDetailAndControl(t *testing.T) {
	t.Parallel()

	srv, e := newTestServer(t)
	id := "FIX.4.4-EXEC-BANZAI"

	code, body := get(t, srv.URL+"/sessions/"+id)
	if code != http.StatusOK || !strings.Contains(body, "next_sender: 1") {
		t.Errorf("detail = %d %q", code, body)
	}

	// Disable then re-enable through the API.
	if code, _ := post(t, srv.URL+"/sessions/"+id+"/disable"); code != http.StatusOK {
		t.Fatalf("disable status = %d", code)
	}
	sess, _ := e.Lookup(fix.NewSessionID(fix.BeginStringFIX44, "EXEC", "BANZAI"))
	if sess.IsEnabled() {
		t.Error("session still enabled after disable")
	}
	if code, _ := post(t, srv.URL+"/sessions/"+id+"/enable"); code != http.StatusOK {
		t.Fatalf("enable status = %d", code)
	}
	if !sess.IsEnabled() {
		t.Error("session not enabled after enable")
	}

	// Reset returns the seqnums to 1.
	if code, _ := post(t, srv.URL+"/sessions/"+id+"/reset"); code != http.StatusOK {
		t.Fatalf("reset status = %d", code)
	}
	if sender, target := sess.SeqNums(); sender != 1 || target != 1 {
		t.Errorf("seqnums after reset = (%d, %d)", sender, target)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	if code, _ := get(t, srv.URL+"/sessions/FIX.4.2-A-B"); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}
