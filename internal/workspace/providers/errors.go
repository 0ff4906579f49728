package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/util"
)

// APIError is a non-2xx provider response.
type APIError struct {
	Provider   models.Provider
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s api returned %d", e.Provider.DisplayName(), e.StatusCode)
	if hint := statusHint(e.StatusCode); hint != "" {
		b.WriteString(" (" + hint + ")")
	}
	if e.Code != "" {
		b.WriteString(": " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// statusHint puts the words the retry and error classifiers look for into
// the message.
func statusHint(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized, token expired or revoked"
	case status == http.StatusForbidden:
		return "permission denied"
	case status == http.StatusNotFound:
		return "not found"
	case status == http.StatusTooManyRequests:
		return "rate limit exceeded"
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return "service temporarily unavailable"
	case status >= 500:
		return "provider server error"
	}
	return ""
}

// errorBody covers both Google ({"error":{"code":..,"message":..,"status":..}})
// and Microsoft Graph ({"error":{"code":"..","message":".."}}) shapes.
type errorBody struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Status  string          `json:"status"`
		Details []struct {
			Reason     string            `json:"reason"`
			RetryDelay string            `json:"retryDelay"`
			Metadata   map[string]string `json:"metadata"`
		} `json:"details"`
	} `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func newAPIError(provider models.Provider, resp *http.Response) *APIError {
	apiErr := &APIError{Provider: provider, StatusCode: resp.StatusCode}
	apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = util.TruncateBytes(raw)
		return apiErr
	}

	apiErr.Message = body.Error.Message
	if apiErr.Message == "" {
		apiErr.Message = body.ErrorDescription
	}
	var code string
	if json.Unmarshal(body.Error.Code, &code) == nil {
		apiErr.Code = code
	} else if body.Error.Status != "" {
		apiErr.Code = body.Error.Status
	}

	if apiErr.RetryAfter == 0 {
		for _, d := range body.Error.Details {
			delay := d.RetryDelay
			if delay == "" && d.Metadata != nil {
				delay = d.Metadata["retryDelay"]
			}
			if parsed, err := time.ParseDuration(delay); err == nil {
				apiErr.RetryAfter = parsed
				break
			}
		}
	}
	return apiErr
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
