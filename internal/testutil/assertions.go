package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertLogged checks that the captured log output contains a record with
// the given message and, for each key/value pair in attrs, that attribute.
func AssertLogged(t *testing.T, logs *SafeBuffer, msg string, attrs ...string) {
	t.Helper()
	out := logs.String()
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "msg=\""+msg+"\"") && !strings.Contains(line, "msg="+msg) {
			continue
		}
		matched := true
		for i := 0; i+1 < len(attrs); i += 2 {
			if !strings.Contains(line, attrs[i]+"="+attrs[i+1]) {
				matched = false
				break
			}
		}
		if matched {
			return
		}
	}
	require.Failf(t, "log record not found", "expected %q with %v in logs:\n%s", msg, attrs, out)
}
