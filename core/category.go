package core

// ErrorCategory classifies an error for downstream triage and alerting.
// The pipeline itself never branches delivery behavior on the category.
type ErrorCategory string

const (
	NetworkError        ErrorCategory = "NetworkError"
	DatabaseError       ErrorCategory = "DatabaseError"
	ValidationError     ErrorCategory = "ValidationError"
	AuthenticationError ErrorCategory = "AuthenticationError"
	AuthorizationError  ErrorCategory = "AuthorizationError"
	RateLimitError      ErrorCategory = "RateLimitError"
	TimeoutError        ErrorCategory = "TimeoutError"
	ConfigurationError  ErrorCategory = "ConfigurationError"
	ThirdPartyError     ErrorCategory = "ThirdPartyError"
	UnknownError        ErrorCategory = "UnknownError"
)

// Valid reports whether the category is a member of the taxonomy.
func (c ErrorCategory) Valid() bool {
	switch c {
	case NetworkError, DatabaseError, ValidationError, AuthenticationError,
		AuthorizationError, RateLimitError, TimeoutError, ConfigurationError,
		ThirdPartyError, UnknownError:
		return true
	}
	return false
}

// ErrorImpact grades how badly an error affects the surrounding system.
type ErrorImpact string

const (
	ImpactCritical ErrorImpact = "critical"
	ImpactHigh     ErrorImpact = "high"
	ImpactMedium   ErrorImpact = "medium"
	ImpactLow      ErrorImpact = "low"
)
