// Package middleware holds the HTTP middleware shared by the render API
// and the adapter that turns handler errors into JSON envelopes.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"sort"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"proofrender/internal/httpkit"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen caps client-supplied ids; longer ones are replaced.
const maxRequestIDLen = 128

// RequestID propagates X-Request-ID, minting a UUID when the client sent
// none, and stores it in the request context for the logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}

// Logging writes one record per request. 4xx responses log at warn and
// 5xx at error.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLog := log.FromContext(r.Context())
			level := reqLog.Info
			switch {
			case status >= 500:
				level = reqLog.Error
			case status >= 400:
				level = reqLog.Warn
			}
			level("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Recovery turns a handler panic into a 500 envelope.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.FromContext(r.Context()).Error("handler panicked",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				WriteErrorResponse(w, errors.CodeInternal, "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout puts a deadline on the request context. HandleError reports an
// expired deadline as TIMEOUT. Streaming routes are mounted outside it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ErrorHandlerFunc is a handler that reports failure by returning an error.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleError(w, r, log, err)
		}
	}
}

// HandleError logs err and writes its envelope. Internal errors are
// reported to the client without their message.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	if errors.Is(err, context.DeadlineExceeded) && !errors.IsCode(err, errors.CodeTimeout) {
		err = errors.WrapWithCode(err, errors.CodeTimeout, r.URL.Path, "request timeout")
	}

	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)
	fields := errors.GetFields(err)

	args := []any{
		"error", err.Error(),
		"code", string(code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}

	reqLog := log.FromContext(r.Context())
	message := errors.Message(err)
	if status >= http.StatusInternalServerError {
		var appErr *errors.Error
		if errors.As(err, &appErr) && len(appErr.Stack) > 0 {
			args = append(args, "stack", appErr.StackTrace())
		}
		reqLog.Error("request failed", args...)
		if code == errors.CodeInternal {
			message = "internal server error"
		}
	} else {
		reqLog.Warn("request rejected", args...)
	}
	WriteErrorResponse(w, code, message, fields)
}

func WriteErrorResponse(w http.ResponseWriter, code errors.Code, message string, details map[string]any) {
	httpkit.WriteErr(w, (&errors.Error{Code: code}).HTTPStatus(), string(code), message, details)
}
