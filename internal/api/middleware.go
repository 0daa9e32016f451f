package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"

	HeaderRequestID = "X-Request-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

var errMissingActor = errors.New("missing actor headers")

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Warn("http request", fields...)
				return
			}
			logger.Info("http request", fields...)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// actorFromRequest reads the principal resolved by the upstream auth layer.
func actorFromRequest(r *http.Request) (appointment.Actor, error) {
	rawID := r.Header.Get(HeaderActorID)
	rawRole := r.Header.Get(HeaderActorRole)
	if rawID == "" || rawRole == "" {
		return appointment.Actor{}, errMissingActor
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%s must be a valid UUID", HeaderActorID)
	}

	role := appointment.Role(rawRole)
	switch role {
	case appointment.RoleClient, appointment.RoleClinicStaff, appointment.RoleVet:
	default:
		// system actions come from workers, never from HTTP callers
		return appointment.Actor{}, fmt.Errorf("unsupported actor role %q", rawRole)
	}
	return appointment.Actor{UserID: id, Role: role}, nil
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
