package fixmetrics_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak from collector usage.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
