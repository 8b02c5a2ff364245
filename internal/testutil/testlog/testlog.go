// Package testlog configures the test logging profile and brackets each test.
package testlog

import (
	"testing"

	logs "github.com/danmuck/sessionctl/internal/logging"
)

func Start(t testing.TB) {
	t.Helper()
	logs.ConfigureTests()
	logs.Debugf("testlog.Start test=%s", t.Name())
	t.Cleanup(func() {
		if t.Failed() {
			logs.Warnf("testlog.Done test=%s failed=true", t.Name())
		}
	})
}
