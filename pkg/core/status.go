package core

// ErrorCategory classifies the type of error for logging and exit codes
type ErrorCategory int

const (
	ErrCategoryNone          ErrorCategory = iota // No error
	ErrCategoryCancelled                          // Caller's context was cancelled mid-wait
	ErrCategoryHost                               // Host surface refused or failed an action
	ErrCategoryTimeout                            // Caller-imposed deadline elapsed
	ErrCategoryConnection                         // Device/server connection lost
	ErrCategoryConfig                             // Invalid configuration, missing required field
	ErrCategoryAuthorization                      // Accessibility service not enabled on the device
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryCancelled:
		return "cancelled"
	case ErrCategoryHost:
		return "host"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}
