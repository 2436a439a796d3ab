package testutils

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger

	logs *bytes.Buffer
}

// NewTestHelper creates a test helper whose logger captures output in memory.
func NewTestHelper(t *testing.T) *TestHelper {
	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(logs)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("captured logs:\n%s", logs.String())
		}
	})

	return &TestHelper{
		T:      t,
		Logger: logger,
		logs:   logs,
	}
}

// Logs returns everything logged so far
func (h *TestHelper) Logs() string {
	return h.logs.String()
}

// Eventually waits up to timeout for cond to hold.
func (h *TestHelper) Eventually(cond func() bool, timeout time.Duration, msgAndArgs ...interface{}) {
	h.T.Helper()
	require.Eventually(h.T, cond, timeout, 5*time.Millisecond, msgAndArgs...)
}

// F returns a pointer to v, for building expected readings
func F(v float64) *float64 {
	return &v
}

// FixedClock returns a clock that always reports t
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
