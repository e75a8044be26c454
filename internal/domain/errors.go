package domain

import "fmt"

// ErrorCode is a stable machine-readable failure class surfaced to callers.
type ErrorCode string

const (
	ErrProjectNotFound      ErrorCode = "PROJECT_NOT_FOUND"
	ErrAgentNotRegistered   ErrorCode = "AGENT_NOT_REGISTERED"
	ErrPolicyBlocked        ErrorCode = "POLICY_BLOCKED"
	ErrContactPending       ErrorCode = "CONTACT_PENDING"
	ErrLinkRequired         ErrorCode = "LINK_REQUIRED"
	ErrClaimConflict        ErrorCode = "CLAIM_CONFLICT"
	ErrInvalidArgument      ErrorCode = "INVALID_ARGUMENT"
	ErrTimeout              ErrorCode = "TIMEOUT"
	ErrIndexArchiveMismatch ErrorCode = "INDEX_ARCHIVE_MISMATCH"
)

// Error carries a stable code plus a human-readable message naming the
// offending field or entity.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not a domain error.
func CodeOf(err error) ErrorCode {
	var de *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			de = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if de == nil {
		return ""
	}
	return de.Code
}
