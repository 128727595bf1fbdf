package transport_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak from the driver start/stop cycles.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
