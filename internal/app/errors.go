package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// errInvalidPhase rejects an operation the project's current phase does
// not allow.
func errInvalidPhase(current, attempted string) *DomainError {
	return domainError(409, "INVALID_PHASE",
		fmt.Sprintf("cannot %s while project is %s", attempted, current),
		map[string]string{"phase": current})
}

func errValidation(message string) *DomainError {
	return domainError(422, "VALIDATION_ERROR", message, nil)
}

// errBackend surfaces a Job Backend failure without leaking its body.
func errBackend(err error) *DomainError {
	return domainError(502, "BACKEND_UNAVAILABLE", "translation backend unavailable",
		map[string]string{"cause": err.Error()})
}
