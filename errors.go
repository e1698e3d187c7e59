package goAccount

import (
	"errors"
	"fmt"
	"net/http"
)

// Errno is the stable numeric error code returned to clients.
type Errno int

const (
	ErrnoAccountExists          Errno = 101
	ErrnoAccountUnknown         Errno = 102
	ErrnoIncorrectPassword      Errno = 103
	ErrnoInvalidOrExpiredCode   Errno = 105
	ErrnoInvalidParameter       Errno = 107
	ErrnoInvalidToken           Errno = 110
	ErrnoIncorrectEmailCase     Errno = 120
	ErrnoCannotDeletePrimary    Errno = 137
	ErrnoCannotDeleteLastEmail  Errno = 138
	ErrnoEmailNotVerified       Errno = 147
	ErrnoEmailExists            Errno = 148
	ErrnoEmailNotOwnedByAccount Errno = 150
	ErrnoPasswordReuse          Errno = 151
	ErrnoServiceUnavailable     Errno = 201
	ErrnoUnexpected             Errno = 999
)

// Error is a client-facing failure with a stable errno and HTTP status.
// Two Errors match under errors.Is when their errnos are equal, so a wrapped
// copy carrying a cause still matches its sentinel.
type Error struct {
	Errno   Errno
	Code    int
	Name    string
	Message string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Errno == e.Errno
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.cause = cause
	return &out
}

func (e *Error) Wrapf(format string, args ...any) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

var (
	ErrAccountExists          = &Error{Errno: ErrnoAccountExists, Code: http.StatusBadRequest, Name: "AccountExists", Message: "Account already exists"}
	ErrAccountUnknown         = &Error{Errno: ErrnoAccountUnknown, Code: http.StatusBadRequest, Name: "AccountUnknown", Message: "Unknown account"}
	ErrIncorrectPassword      = &Error{Errno: ErrnoIncorrectPassword, Code: http.StatusBadRequest, Name: "IncorrectPassword", Message: "Incorrect password"}
	ErrInvalidOrExpiredCode   = &Error{Errno: ErrnoInvalidOrExpiredCode, Code: http.StatusBadRequest, Name: "InvalidOrExpiredCode", Message: "Invalid or expired verification code"}
	ErrInvalidParameter       = &Error{Errno: ErrnoInvalidParameter, Code: http.StatusBadRequest, Name: "InvalidParameter", Message: "Invalid parameter in request body"}
	ErrInvalidToken           = &Error{Errno: ErrnoInvalidToken, Code: http.StatusUnauthorized, Name: "InvalidToken", Message: "Invalid authentication token in request signature"}
	ErrIncorrectEmailCase     = &Error{Errno: ErrnoIncorrectEmailCase, Code: http.StatusBadRequest, Name: "IncorrectEmailCase", Message: "Incorrect email case"}
	ErrCannotDeletePrimary    = &Error{Errno: ErrnoCannotDeletePrimary, Code: http.StatusBadRequest, Name: "CannotDeletePrimary", Message: "Can not delete primary email"}
	ErrCannotDeleteLastEmail  = &Error{Errno: ErrnoCannotDeleteLastEmail, Code: http.StatusBadRequest, Name: "CannotDeleteLastEmail", Message: "Can not delete the only email of an account"}
	ErrEmailNotVerified       = &Error{Errno: ErrnoEmailNotVerified, Code: http.StatusBadRequest, Name: "EmailNotVerified", Message: "Can not change primary email to an unverified email"}
	ErrEmailExists            = &Error{Errno: ErrnoEmailExists, Code: http.StatusBadRequest, Name: "EmailExists", Message: "Email already exists"}
	ErrEmailNotOwnedByAccount = &Error{Errno: ErrnoEmailNotOwnedByAccount, Code: http.StatusBadRequest, Name: "EmailNotOwnedByAccount", Message: "Can not change primary email to an email that does not belong to this account"}
	ErrPasswordReuse          = &Error{Errno: ErrnoPasswordReuse, Code: http.StatusBadRequest, Name: "PasswordReuse", Message: "New password must be different from the current password"}
	ErrServiceUnavailable     = &Error{Errno: ErrnoServiceUnavailable, Code: http.StatusServiceUnavailable, Name: "ServiceUnavailable", Message: "Service unavailable"}
	ErrUnexpected             = &Error{Errno: ErrnoUnexpected, Code: http.StatusInternalServerError, Name: "Unexpected", Message: "Unspecified error"}

	// ErrEngineNotReady is returned when an Engine was not built by a Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// IncorrectEmailCaseError rejects a login that named the right account
// through an address other than its canonical one. Email is the canonical
// address the client should retry with.
type IncorrectEmailCaseError struct {
	Email string
}

func (e *IncorrectEmailCaseError) Error() string {
	return ErrIncorrectEmailCase.Message
}

func (e *IncorrectEmailCaseError) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Errno == ErrnoIncorrectEmailCase
}

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Errno   Errno  `json:"errno"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Email   string `json:"email,omitempty"`
}

// ToErrorResponse maps err onto the client result shape. Errors that are
// not *Error values become Unexpected.
func ToErrorResponse(err error) ErrorResponse {
	var caseErr *IncorrectEmailCaseError
	if errors.As(err, &caseErr) {
		return ErrorResponse{
			Code:    ErrIncorrectEmailCase.Code,
			Errno:   ErrnoIncorrectEmailCase,
			Error:   http.StatusText(ErrIncorrectEmailCase.Code),
			Message: ErrIncorrectEmailCase.Message,
			Email:   caseErr.Email,
		}
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = ErrUnexpected
	}
	return ErrorResponse{
		Code:    apiErr.Code,
		Errno:   apiErr.Errno,
		Error:   http.StatusText(apiErr.Code),
		Message: apiErr.Message,
	}
}
