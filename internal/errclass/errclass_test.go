package errclass

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want Class
	}{
		{"Authentication failure: code expired", Critical},
		{"account BANNED by remote", Critical},
		{"invalid session state", Critical},
		{"Protocol error (Runtime.callFunction): target closed", Critical},
		{"401 Unauthorized", Critical},
		{"element not found", Critical},
		{"network error while polling", NetworkTransient},
		{"dial tcp 127.0.0.1:9222: connection refused", NetworkTransient},
		{"navigation timeout exceeded", NetworkTransient},
		{"socket hang up", NetworkTransient},
		{"getaddrinfo ENOTFOUND example.com", NetworkTransient},
		{"DNS lookup failed", NetworkTransient},
		{"connection timed out", NetworkTransient},
		{"something odd happened", Generic},
		{"", Generic},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.msg))
		})
	}
}

func TestCriticalRulesWinOverNetwork(t *testing.T) {
	// "not found" (critical) precedes "enotfound" (network) in the table.
	assert.Equal(t, Critical, ClassifyMessage("host not found after timeout"))
	assert.Equal(t, NetworkTransient, ClassifyMessage("ENOTFOUND"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Generic, Classify(nil))
	wrapped := fmt.Errorf("poll page: %w", errors.New("connection refused"))
	assert.Equal(t, NetworkTransient, Classify(wrapped))
}

func TestClassLevelAndString(t *testing.T) {
	assert.Equal(t, "critical", Critical.Level())
	assert.Equal(t, "warning", NetworkTransient.Level())
	assert.Equal(t, "error", Generic.Level())

	for _, c := range []Class{Generic, NetworkTransient, Critical} {
		assert.Equal(t, c, Parse(c.String()))
	}
	assert.Equal(t, Generic, Parse("bogus"))
}

func TestRulesReturnsCopy(t *testing.T) {
	r := Rules()
	r[0].Class = Generic
	assert.Equal(t, Critical, Rules()[0].Class)
	assert.Equal(t, NetworkTransient, r[len(r)-1].Class)
}
