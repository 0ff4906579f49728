// Package logging carries a short request id through contexts and log lines.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"regexp"
)

// HeaderRequestID is read from and echoed on every request.
const HeaderRequestID = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "requestId"

var inboundID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the context's request ID, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Middleware reuses a well-formed inbound X-Request-ID or generates one,
// stores it in the request context and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if !inboundID.MatchString(id) {
			id = GenerateRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Printf logs with the context's request id as a prefix.
func Printf(ctx context.Context, format string, args ...any) {
	if id := GetRequestID(ctx); id != "" {
		log.Printf("["+id+"] "+format, args...)
		return
	}
	log.Printf(format, args...)
}
