package domain

import (
	"errors"
	"fmt"
)

// Code is the stable numeric result code returned to callers.
type Code int32

const (
	CodeOK                    Code = 0
	CodeValueInvalid          Code = -50
	CodeServiceNotExist       Code = -55
	CodeComponentInfoInvalid  Code = -56
	CodeComponentNotExist     Code = -58
	CodePermissionOperFailed  Code = -59
	CodeClickEventInvalid     Code = -60
	CodeCallerInvalid         Code = -62
	CodeWaitForDialogClose    Code = -64
	CodeInMaliciousList       Code = -65
	CodeChallengeCheckFailed  Code = -101
	CodeClickExtraCheckFailed Code = -102
	CodeEnhanceCallbackFailed Code = -103
)

// Error is a result-code error carrying an optional diagnostic message.
// Messages are for host-side diagnostics and never rendered to end users.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValueInvalid          = &Error{Code: CodeValueInvalid, Message: "value invalid"}
	ErrServiceNotExist       = &Error{Code: CodeServiceNotExist, Message: "service not exist"}
	ErrComponentInfoInvalid  = &Error{Code: CodeComponentInfoInvalid, Message: "component info invalid"}
	ErrComponentNotExist     = &Error{Code: CodeComponentNotExist, Message: "component not exist"}
	ErrPermissionOperFailed  = &Error{Code: CodePermissionOperFailed, Message: "permission operation failed"}
	ErrClickEventInvalid     = &Error{Code: CodeClickEventInvalid, Message: "click event invalid"}
	ErrCallerInvalid         = &Error{Code: CodeCallerInvalid, Message: "caller invalid"}
	ErrInMaliciousList       = &Error{Code: CodeInMaliciousList, Message: "app is in malicious list"}
	ErrChallengeCheckFailed  = &Error{Code: CodeChallengeCheckFailed, Message: "challenge check failed"}
	ErrClickExtraCheckFailed = &Error{Code: CodeClickExtraCheckFailed, Message: "click extra check failed"}
	ErrEnhanceCallbackFailed = &Error{Code: CodeEnhanceCallbackFailed, Message: "enhance callback failed"}
)

// Errorf returns an error of kind base with a formatted diagnostic message.
func Errorf(base *Error, format string, args ...any) error {
	return &Error{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf maps any error to its result code. Unknown errors map to CodeValueInvalid.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeValueInvalid
}

// MessageOf returns the diagnostic message of err, or "" for nil.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
