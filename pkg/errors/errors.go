// Package errors defines the coded errors the plugin runtime returns
// across its API boundaries.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a coded error carrying the HTTP status it maps to
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	CodeInternalError     = "INTERNAL_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodePluginNotFound    = "PLUGIN_NOT_FOUND"
	CodeManifestError     = "MANIFEST_ERROR"
	CodeLoadError         = "LOAD_ERROR"
	CodeRegistrationError = "REGISTRATION_ERROR"
	CodeLifecycleError    = "LIFECYCLE_ERROR"
	CodeHookError         = "HOOK_ERROR"
)

var (
	ErrInternal     = &AppError{Code: CodeInternalError, Message: "internal server error", Status: http.StatusInternalServerError}
	ErrUnauthorized = &AppError{Code: CodeUnauthorized, Message: "unauthorized", Status: http.StatusUnauthorized}
	ErrForbidden    = &AppError{Code: CodeForbidden, Message: "forbidden", Status: http.StatusForbidden}

	ErrPluginNotFound = &AppError{Code: CodePluginNotFound, Message: "plugin not found", Status: http.StatusNotFound}
	ErrManifest       = &AppError{Code: CodeManifestError, Message: "invalid plugin manifest", Status: http.StatusUnprocessableEntity}
	ErrLoad           = &AppError{Code: CodeLoadError, Message: "plugin module failed to load", Status: http.StatusUnprocessableEntity}
	ErrRegistration   = &AppError{Code: CodeRegistrationError, Message: "plugin extension registration failed", Status: http.StatusConflict}
	ErrLifecycle      = &AppError{Code: CodeLifecycleError, Message: "invalid plugin lifecycle transition", Status: http.StatusConflict}
	ErrHook           = &AppError{Code: CodeHookError, Message: "plugin hook failed", Status: http.StatusInternalServerError}
)

// byKind maps a plugin error kind to its sentinel
var byKind = map[string]*AppError{
	"manifest":     ErrManifest,
	"load":         ErrLoad,
	"registration": ErrRegistration,
	"lifecycle":    ErrLifecycle,
	"hook":         ErrHook,
}

// ForKind returns the sentinel for a plugin error kind, ErrInternal when
// the kind is unknown
func ForKind(kind string) *AppError {
	if e, ok := byKind[kind]; ok {
		return e
	}
	return ErrInternal
}

// Wrap attaches err to a copy of appErr
func Wrap(err error, appErr *AppError) *AppError {
	return &AppError{
		Code:    appErr.Code,
		Message: appErr.Message,
		Status:  appErr.Status,
		Err:     err,
	}
}

// WithMessage returns a copy with a custom message
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Status:  e.Status,
		Err:     e.Err,
	}
}

// WithMessagef returns a copy with a formatted message
func (e *AppError) WithMessagef(format string, args ...any) *AppError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries target's code
func Is(err error, target *AppError) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == target.Code
}

// GetStatus returns the HTTP status of err, 500 for foreign errors
func GetStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// GetCode returns the code of err, CodeInternalError for foreign errors
func GetCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}
