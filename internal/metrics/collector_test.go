package fixmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	fixmetrics "github.com/tradewire/gofix/internal/metrics"
)

const sessionID = "FIX.4.4-EXEC-BANZAI"

// gatherValue reads back one metric's value for the test session.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !matchesSession(m) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s for session %s not found", name, sessionID)
	return 0
}

func matchesSession(m *dto.Metric) bool {
	for _, l := range m.GetLabel() {
		if l.GetName() == "session_id" && l.GetValue() == sessionID {
			return true
		}
	}
	return false
}

func TestCollectorLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	c.RegisterSession(sessionID)
	if v := gatherValue(t, reg, "gofix_session_configured"); v != 1 {
		t.Errorf("configured = %v", v)
	}
	if v := gatherValue(t, reg, "gofix_session_logged_on"); v != 0 {
		t.Errorf("logged_on = %v", v)
	}

	c.SetLoggedOn(sessionID, true)
	if v := gatherValue(t, reg, "gofix_session_logged_on"); v != 1 {
		t.Errorf("logged_on after logon = %v", v)
	}

	c.IncMessagesSent(sessionID)
	c.IncMessagesSent(sessionID)
	c.IncMessagesReceived(sessionID)
	c.IncResendRequests(sessionID)
	c.IncRejects(sessionID)
	c.IncDisconnects(sessionID)

	if v := gatherValue(t, reg, "gofix_session_messages_sent_total"); v != 2 {
		t.Errorf("messages_sent_total = %v", v)
	}
	if v := gatherValue(t, reg, "gofix_session_messages_received_total"); v != 1 {
		t.Errorf("messages_received_total = %v", v)
	}
	if v := gatherValue(t, reg, "gofix_session_resend_requests_total"); v != 1 {
		t.Errorf("resend_requests_total = %v", v)
	}

	// Unregister removes the per-session series.
	c.UnregisterSession(sessionID)
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, fam := range families {
		if fam.GetName() != "gofix_session_configured" {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchesSession(m) {
				t.Error("configured series survived unregister")
			}
		}
	}
}
