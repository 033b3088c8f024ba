package shared

import "fmt"

// DomainError is a rule violation callers branch on by Code.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError with the same code, so errors.Is against a
// sentinel also matches its detailed copies.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with a formatted detail appended to the message.
func (e *DomainError) Withf(format string, args ...any) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message + ": " + fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidRange  = NewDomainError("INVALID_RANGE", "invalid date range")
	ErrAlreadyLocked = NewDomainError("ALREADY_LOCKED", "sweep is locked by another process")
)
