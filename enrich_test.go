package pulselog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldserve/pulselog/core"
)

func TestCategorizeError(t *testing.T) {
	cases := []struct {
		name, message string
		want          core.ErrorCategory
	}{
		{"", "request timed out", core.TimeoutError},
		{"", "context deadline exceeded", core.TimeoutError},
		// Timeout wins over the network family.
		{"", "connection timeout", core.TimeoutError},
		{"", "dial tcp: connection refused", core.NetworkError},
		{"", "ECONNRESET while reading body", core.NetworkError},
		{"", "sql: no rows in result set", core.DatabaseError},
		{"", "deadlock detected", core.DatabaseError},
		{"", "validation failed on field email", core.ValidationError},
		{"", "value must be positive", core.ValidationError},
		{"", "unauthorized", core.AuthenticationError},
		{"", "bad credentials", core.AuthenticationError},
		{"", "access denied for role viewer", core.AuthorizationError},
		{"", "operation not allowed", core.AuthorizationError},
		{"", "rate limit exceeded", core.RateLimitError},
		{"", "429 too many requests", core.RateLimitError},
		{"", "missing setting SMTP_HOST", core.ConfigurationError},
		{"", "upstream returned 502", core.ThirdPartyError},
		{"", "something odd happened", core.UnknownError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategorizeError(tc.name, tc.message), "message %q", tc.message)
	}
}

func TestCategorizeErrorUsesTypeName(t *testing.T) {
	assert.Equal(t, core.DatabaseError, CategorizeError("*pq.DatabaseError", "boom"))
}

func TestAssessImpact(t *testing.T) {
	assert.Equal(t, core.ImpactCritical, AssessImpact("", "payment declined unexpectedly"))
	assert.Equal(t, core.ImpactCritical, AssessImpact("", "index corrupt"))
	assert.Equal(t, core.ImpactHigh, AssessImpact("", "database unreachable"))
	assert.Equal(t, core.ImpactHigh, AssessImpact("", "service unavailable"))
	assert.Equal(t, core.ImpactLow, AssessImpact("", "user not found"))
	assert.Equal(t, core.ImpactLow, AssessImpact("", "invalid postcode"))
	assert.Equal(t, core.ImpactMedium, AssessImpact("", "unexpected nil pointer"))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable("connection reset by peer"))
	assert.True(t, IsRecoverable("rate limit exceeded"))
	assert.True(t, IsRecoverable("request timeout"))
	assert.False(t, IsRecoverable("segmentation fault"))
}

func TestRedactDataMasks(t *testing.T) {
	in := map[string]any{
		"userId":   "u-1",
		"password": "hunter2",
		"nested": map[string]any{
			"apiKey": "k-123",
			"count":  3,
		},
	}
	out := RedactData(in, "mask")

	assert.Equal(t, "u-1", out["userId"])
	assert.Equal(t, "[REDACTED]", out["password"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["apiKey"])
	assert.Equal(t, 3, nested["count"])
	// The input map is left alone.
	assert.Equal(t, "hunter2", in["password"])
}

func TestRedactDataRemoves(t *testing.T) {
	out := RedactData(map[string]any{"authorization": "Bearer x", "ok": true}, "remove")
	_, present := out["authorization"]
	assert.False(t, present)
	assert.Equal(t, true, out["ok"])
}

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "192.168.1.0", AnonymizeIP("192.168.1.42"))
	assert.Equal(t, "10.0.0.0", AnonymizeIP("10.0.0.1"))
	assert.Equal(t, "2001:db8::1:0", AnonymizeIP("2001:db8::1:8a2e"))
	// Malformed input passes through untouched.
	assert.Equal(t, "localhost", AnonymizeIP("localhost"))
	assert.Equal(t, "", AnonymizeIP(""))
}
