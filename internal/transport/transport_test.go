package transport_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
	"github.com/tradewire/gofix/internal/settings"
	"github.com/tradewire/gofix/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildEngine parses settings text and creates an engine over memory
// stores.
func buildEngine(t *testing.T, settingsText string) *engine.Engine {
	t.Helper()
	ss, err := settings.Parse(strings.NewReader(settingsText))
	if err != nil {
		t.Fatalf("parse settings: %v", err)
	}
	e, err := engine.New(ss, fix.NullApplication{}, fix.MemoryStoreFactory{}, discardLogger(), nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

const acceptorSettings = `
[DEFAULT]
ConnectionType=acceptor
SocketAcceptPort=0

[SESSION]
BeginString=FIX.4.4
SenderCompID=SERVER
TargetCompID=CLIENT
`

const initiatorSettings = `
[DEFAULT]
ConnectionType=initiator
HeartBtInt=30
SocketConnectHost=127.0.0.1
SocketConnectPort=1
ReconnectInterval=1

[SESSION]
BeginString=FIX.4.4
SenderCompID=CLIENT
TargetCompID=SERVER
`

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestAcceptorInitiatorLogon wires a real acceptor and initiator over
// loopback TCP and drives the full logon handshake and graceful logoff.
func TestAcceptorInitiatorLogon(t *testing.T) {
	serverEngine := buildEngine(t, acceptorSettings)
	clientEngine := buildEngine(t, initiatorSettings)

	acc := transport.NewAcceptor(serverEngine, []transport.ListenerConfig{
		{Address: "127.0.0.1:0", Options: transport.SocketOptions{ReuseAddress: true, NoDelay: true}},
	}, discardLogger())
	if err := acc.Start(context.Background()); err != nil {
		t.Fatalf("start acceptor: %v", err)
	}
	defer acc.Stop(true)

	addrs := acc.Addrs()
	if len(addrs) != 1 {
		t.Fatalf("acceptor addrs = %v", addrs)
	}
	port := addrs[0].(*net.TCPAddr).Port

	clientID := fix.NewSessionID(fix.BeginStringFIX44, "CLIENT", "SERVER")
	ini := transport.NewInitiator(clientEngine, []transport.DialConfig{
		{
			SessionID:         clientID,
			Host:              "127.0.0.1",
			Port:              port,
			ReconnectInterval: time.Second,
		},
	}, discardLogger())
	if err := ini.Start(context.Background()); err != nil {
		t.Fatalf("start initiator: %v", err)
	}
	defer ini.Stop(true)

	clientSess, _ := clientEngine.Lookup(clientID)
	serverSess, _ := serverEngine.Lookup(fix.NewSessionID(fix.BeginStringFIX44, "SERVER", "CLIENT"))

	waitFor(t, "both sides logged on", func() bool {
		return clientSess.IsLoggedOn() && serverSess.IsLoggedOn()
	})

	// Application traffic flows end to end: the client sends an order and
	// the server's next-target advances.
	_, targetBefore := serverSess.SeqNums()
	order := fix.NewMessage("D")
	order.Body.Set(fix.Tag(11), "ORD-1")
	if err := clientSess.Send(order); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "order delivered", func() bool {
		_, target := serverSess.SeqNums()
		return target == targetBefore+1
	})

	// Graceful stop: the initiator logs out and both sides disconnect.
	ini.Stop(false)
	waitFor(t, "both sides logged off", func() bool {
		return !clientSess.IsLoggedOn() && !serverSess.IsLoggedOn()
	})
}

// TestReactorLogon drives the same handshake through the single-threaded
// reactor flavor.
func TestReactorLogon(t *testing.T) {
	serverEngine := buildEngine(t, acceptorSettings)

	re := transport.NewReactor(serverEngine, []transport.ListenerConfig{
		{Address: "127.0.0.1:0"},
	}, discardLogger())
	if err := re.Start(context.Background()); err != nil {
		t.Fatalf("start reactor: %v", err)
	}
	defer re.Stop(true)

	addr := re.Addrs()[0].String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Raw client logon.
	logon := fix.NewMessage(fix.MsgTypeLogon)
	logon.Header.Set(fix.TagBeginString, fix.BeginStringFIX44)
	logon.Header.Set(fix.TagSenderCompID, "CLIENT")
	logon.Header.Set(fix.TagTargetCompID, "SERVER")
	logon.Header.SetInt(fix.TagMsgSeqNum, 1)
	logon.Header.Set(fix.TagSendingTime, fix.FormatUTCTimestamp(time.Now(), false))
	logon.Body.SetInt(fix.TagEncryptMethod, 0)
	logon.Body.SetInt(fix.TagHeartBtInt, 30)
	if _, err := conn.Write(logon.Serialize()); err != nil {
		t.Fatalf("write logon: %v", err)
	}

	// Expect the logon reply on the wire.
	reader := transport.NewFrameReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	frame, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply, err := fix.ParseMessage(frame)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.MsgType() != fix.MsgTypeLogon {
		t.Fatalf("reply type = %q, want Logon", reply.MsgType())
	}

	serverSess, _ := serverEngine.Lookup(fix.NewSessionID(fix.BeginStringFIX44, "SERVER", "CLIENT"))
	waitFor(t, "server logged on", func() bool { return serverSess.IsLoggedOn() })
}
