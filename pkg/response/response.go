package response

import (
	"errors"
	"fmt"
	"net/http"
)

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error Codes
type ErrCode string

var (
	FAILED_REQUEST ErrCode = "REQUEST_FAILED"
	BAD_REQUEST    ErrCode = "FAILED_TO_DECODE"
	NOT_FOUND      ErrCode = "NOT_FOUND"
	LOCKED         ErrCode = "LOCKED"
	CONFLICT       ErrCode = "CONFLICT"
	NOT_AVAILABLE  ErrCode = "SESSION_NOT_AVAILABLE"
	FORBIDDEN      ErrCode = "FORBIDDEN"
	UNAUTHORIZED   ErrCode = "UNAUTHORIZED"
	INVALID_STATE  ErrCode = "INVALID_STATE"
	IN_THE_PAST    ErrCode = "IN_THE_PAST"
	VALIDATION     ErrCode = "VALIDATION_ERROR"
	UNAVAILABLE    ErrCode = "UNAVAILABLE"
)

var (
	ErrBadRequest      = errors.New("bad request")
	ErrNotFound        = errors.New("resource not found")
	ErrLocked          = errors.New("resource is locked")
	ErrConflict        = errors.New("conflict")
	ErrNotAvailable    = errors.New("session is not available")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrInThePast       = errors.New("session is in the past")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("store unavailable")
	ErrVersionConflict = errors.New("concurrent modification")
)

// RuleError is a domain error of kind Kind whose Msg is safe to show to callers.
type RuleError struct {
	Kind error
	Msg  string
}

func (e *RuleError) Error() string {
	return e.Kind.Error() + ": " + e.Msg
}

func (e *RuleError) Unwrap() error {
	return e.Kind
}

// Rule builds a RuleError. Operation prefixes wrapped around it never reach the body.
func Rule(kind error, format string, args ...any) error {
	return &RuleError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}

// FromError maps an error kind to the HTTP status and body a handler should render.
// Rule-carrying kinds show the rule text, everything else a fixed message.
func FromError(err error, fallback string) (int, Response) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Error(string(NOT_FOUND), "resource not found")
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, Error(string(FORBIDDEN), ruleText(err, "operation not permitted"))
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, Error(string(UNAUTHORIZED), "authentication required")
	case errors.Is(err, ErrNotAvailable):
		return http.StatusConflict, Error(string(NOT_AVAILABLE), ruleText(err, "session is not available"))
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, Error(string(INVALID_STATE), ruleText(err, "invalid state transition"))
	case errors.Is(err, ErrConflict), errors.Is(err, ErrVersionConflict):
		return http.StatusConflict, Error(string(CONFLICT), ruleText(err, "request conflicts with existing sessions"))
	case errors.Is(err, ErrInThePast):
		return http.StatusUnprocessableEntity, Error(string(IN_THE_PAST), "session time has already passed")
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, Error(string(VALIDATION), ruleText(err, "validation failed"))
	case errors.Is(err, ErrLocked):
		return http.StatusLocked, Error(string(LOCKED), "resource is locked")
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, Error(string(UNAVAILABLE), "service temporarily unavailable")
	default:
		return http.StatusInternalServerError, Error(string(FAILED_REQUEST), fallback)
	}
}

func ruleText(err error, fallback string) string {
	var rule *RuleError
	if errors.As(err, &rule) {
		return rule.Msg
	}
	return fallback
}
