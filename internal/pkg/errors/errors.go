// Package errors carries a Code on every failure the render service
// reports. The HTTP layer maps codes to statuses and the job monitor
// records EXECUTION_FAILED and JOB_LOST messages on job records.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

type Code string

const (
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeTimeout       Code = "TIMEOUT"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeExecution     Code = "EXECUTION_FAILED"
	CodeLost          Code = "JOB_LOST"
	CodeTooLarge      Code = "PAYLOAD_TOO_LARGE"
)

// statusByCode lists every code that is not a 500.
var statusByCode = map[Code]int{
	CodeValidation:    http.StatusBadRequest,
	CodeBadRequest:    http.StatusBadRequest,
	CodeNotFound:      http.StatusNotFound,
	CodeConflict:      http.StatusConflict,
	CodeAlreadyExists: http.StatusConflict,
	CodeLost:          http.StatusGone,
	CodeTooLarge:      http.StatusRequestEntityTooLarge,
	CodeUnavailable:   http.StatusServiceUnavailable,
	CodeTimeout:       http.StatusGatewayTimeout,
}

const maxFrames = 10

type Error struct {
	Code    Code
	Message string
	// Op names the failing operation, e.g. "jobs.file.update".
	Op     string
	Err    error
	Fields map[string]any
	Stack  []Frame
}

type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders as "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Code != "" {
		parts = append(parts, "["+string(e.Code)+"]")
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	s := strings.Join(parts, " ")
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithField(key string, value any) *Error {
	return e.WithFields(map[string]any{key: value})
}

func (e *Error) WithFields(fields map[string]any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// build is the single constructor; skip counts frames above the exported
// helper that called it.
func build(skip int, code Code, op, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     cause,
		Stack:   callers(skip + 1),
	}
}

func New(code Code, message string) *Error {
	return build(2, code, "", message, nil)
}

func Newf(code Code, format string, args ...any) *Error {
	return build(2, code, "", fmt.Sprintf(format, args...), nil)
}

// Wrap annotates err with op and message. A wrapped *Error keeps its code
// and fields; anything else becomes INTERNAL_ERROR.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	code := CodeInternal
	var inner *Error
	if errors.As(err, &inner) {
		code = inner.Code
	}
	e := build(2, code, op, message, err)
	if inner != nil {
		e.Fields = inner.Fields
	}
	return e
}

func Wrapf(err error, op, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, op, fmt.Sprintf(format, args...))
	e.Stack = callers(2)
	return e
}

// WrapWithCode annotates err and replaces its code.
func WrapWithCode(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return build(2, code, op, message, err)
}

func Internal(message string) *Error { return build(2, CodeInternal, "", message, nil) }

func Internalf(format string, args ...any) *Error {
	return build(2, CodeInternal, "", fmt.Sprintf(format, args...), nil)
}

func NotFound(resource, id string) *Error {
	return build(2, CodeNotFound, "", resource+" not found: "+id, nil).
		WithFields(map[string]any{"resource": resource, "id": id})
}

func Validation(message string) *Error { return build(2, CodeValidation, "", message, nil) }

func Validationf(format string, args ...any) *Error {
	return build(2, CodeValidation, "", fmt.Sprintf(format, args...), nil)
}

// ValidationField reports message against a named request field.
func ValidationField(field, message string) *Error {
	return build(2, CodeValidation, "", message, nil).WithField("field", field)
}

func Conflict(message string) *Error { return build(2, CodeConflict, "", message, nil) }

func AlreadyExists(resource, id string) *Error {
	return build(2, CodeAlreadyExists, "", resource+" already exists: "+id, nil).
		WithFields(map[string]any{"resource": resource, "id": id})
}

func Timeout(operation string) *Error {
	return build(2, CodeTimeout, "", "operation timed out: "+operation, nil).
		WithField("operation", operation)
}

func Unavailable(service string) *Error {
	return build(2, CodeUnavailable, "", "service unavailable: "+service, nil).
		WithField("service", service)
}

// Execution reports a render that crashed, timed out or produced no
// usable output.
func Execution(message string) *Error { return build(2, CodeExecution, "", message, nil) }

// Lost reports a provider job id the provider no longer recognizes.
func Lost(providerJobID string) *Error {
	return build(2, CodeLost, "", "provider lost job during processing", nil).
		WithField("provider_job_id", providerJobID)
}

// TooLarge reports an upload over limit bytes.
func TooLarge(limit int64) *Error {
	return build(2, CodeTooLarge, "", fmt.Sprintf("file too large, maximum size is %d bytes", limit), nil).
		WithField("max_size", limit)
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// GetCode returns the code of the outermost *Error in err's chain, or
// INTERNAL_ERROR.
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	if e, ok := asError(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	if e, ok := asError(err); ok {
		return e.Fields
	}
	return nil
}

// Message is the client-facing text: the outermost *Error message, or
// err.Error() for foreign errors. Job records store this form.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func IsCode(err error, code Code) bool { return GetCode(err) == code }

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

// IsConflict also matches ALREADY_EXISTS.
func IsConflict(err error) bool {
	c := GetCode(err)
	return c == CodeConflict || c == CodeAlreadyExists
}

func IsUnavailable(err error) bool { return IsCode(err, CodeUnavailable) }

// callers records up to maxFrames non-runtime frames starting skip frames
// above its caller.
func callers(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var out []Frame
	for len(out) < maxFrames {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return out
}

func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
