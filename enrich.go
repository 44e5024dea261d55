package pulselog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fieldserve/pulselog/core"
)

// maxCauseDepth bounds how far an error chain is unwrapped into Cause links.
const maxCauseDepth = 5

// errorInfoFor converts an error into categorized ErrorInfo, unwrapping the
// cause chain. The stack is attached to the outermost error only.
func errorInfoFor(err error, stack string) *core.ErrorInfo {
	info := buildErrorInfo(err, 0)
	info.Stack = stack
	return info
}

func buildErrorInfo(err error, depth int) *core.ErrorInfo {
	name := fmt.Sprintf("%T", err)
	msg := err.Error()

	info := &core.ErrorInfo{
		Name:          name,
		Message:       msg,
		Category:      CategorizeError(name, msg),
		Impact:        AssessImpact(name, msg),
		IsRecoverable: IsRecoverable(msg),
	}

	if depth < maxCauseDepth {
		if cause := errors.Unwrap(err); cause != nil {
			info.Cause = buildErrorInfo(cause, depth+1)
		}
	}
	return info
}

// CategorizeError maps an error's name and message onto the taxonomy using
// ordered case-insensitive keyword matching. Earlier families win: a
// "connection timeout" is a TimeoutError, not a NetworkError.
func CategorizeError(name, message string) core.ErrorCategory {
	text := strings.ToLower(name + " " + message)

	switch {
	case containsAny(text, "timeout", "timed out", "deadline exceeded"):
		return core.TimeoutError
	case containsAny(text, "network", "econnrefused", "econnreset", "dns", "socket", "fetch failed", "connection refused"):
		return core.NetworkError
	case containsAny(text, "database", "sql", "query", "relation", "constraint", "deadlock"):
		return core.DatabaseError
	case containsAny(text, "validation", "invalid", "zod", "required", "must be"):
		return core.ValidationError
	case containsAny(text, "unauthorized", "unauthenticated", "authentication", "login", "credential"):
		return core.AuthenticationError
	case containsAny(text, "forbidden", "permission", "access denied", "not allowed"):
		return core.AuthorizationError
	case containsAny(text, "rate limit", "ratelimit", "throttle", "too many requests"):
		return core.RateLimitError
	case containsAny(text, "config", "environment variable", "missing setting"):
		return core.ConfigurationError
	case containsAny(text, "third party", "third-party", "external service", "upstream", "api error"):
		return core.ThirdPartyError
	default:
		return core.UnknownError
	}
}

// AssessImpact grades an error by keyword family: payment, security, and
// corruption signals are critical; infrastructure failures high; validation
// and lookup misses low; everything else medium.
func AssessImpact(name, message string) core.ErrorImpact {
	text := strings.ToLower(name + " " + message)

	switch {
	case containsAny(text, "payment", "security", "corrupt", "data loss"):
		return core.ImpactCritical
	case containsAny(text, "database", "auth", "connection failed", "unavailable"):
		return core.ImpactHigh
	case containsAny(text, "validation", "not found", "invalid"):
		return core.ImpactLow
	default:
		return core.ImpactMedium
	}
}

// IsRecoverable reports whether the error message suggests a transient
// condition worth retrying.
func IsRecoverable(message string) bool {
	text := strings.ToLower(message)
	return containsAny(text, "timeout", "network", "connection", "rate limit", "throttle", "validation")
}

// AnonymizeIP masks the host portion of an address: the last octet of an
// IPv4, the last segment of an IPv6. It is a best-effort string transform
// and returns malformed input unchanged.
func AnonymizeIP(ip string) string {
	if idx := strings.LastIndex(ip, "."); idx > 0 && !strings.Contains(ip, ":") {
		return ip[:idx] + ".0"
	}
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		return ip[:idx] + ":0"
	}
	return ip
}

var sensitiveKeywords = []string{"password", "secret", "token", "apikey", "api_key", "credential", "authorization"}

// RedactData returns a copy of data with sensitive keys handled per mode:
// "remove" drops the pair, anything else masks the value with "[REDACTED]".
// Nested maps are walked; a sensitive key wins over recursion.
func RedactData(data map[string]any, mode string) map[string]any {
	if len(data) == 0 {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if containsAny(strings.ToLower(k), sensitiveKeywords...) {
			if mode != "remove" {
				out[k] = "[REDACTED]"
			}
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactData(nested, mode)
			continue
		}
		out[k] = v
	}
	return out
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
