// Package handlers serves the workspace HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/pysugar/workspace-nexus/internal/auth/oauth"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/logging"
	"github.com/pysugar/workspace-nexus/internal/workspace/integration"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
	"github.com/pysugar/workspace-nexus/internal/workspace/scheduler"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

// writeError maps err onto a status code and a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Printf(r.Context(), "❌ %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": err.Error(), "type": errorType(status)},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, tools.ErrInvalidParams),
		errors.Is(err, oauth.ErrInvalidState),
		errors.Is(err, integration.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, permission.ErrPermissionNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, oauth.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, permission.ErrConnectionUnavailable),
		errors.Is(err, scheduler.ErrTaskRunning),
		errors.Is(err, oauth.ErrNoRefreshToken),
		errors.Is(err, oauth.ErrRefreshRejected):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusConflict:
		return "conflict_error"
	}
	return "api_error"
}

// decodeBody decodes a JSON body into v and validates its struct tags.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return tools.ValidateStruct(v)
}

// providerParam accepts the lower-case route slug or the enum value.
func providerParam(raw string) (models.Provider, error) {
	p := models.Provider(strings.ToUpper(raw))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %s", oauth.ErrUnknownProvider, raw)
	}
	return p, nil
}

func limitParam(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, badRequest("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// actor names who performed a mutating call, for audit metadata.
func actor(r *http.Request, fallback string) string {
	if by := r.URL.Query().Get("by"); by != "" {
		return by
	}
	if by := r.Header.Get("X-Nexus-Actor"); by != "" {
		return by
	}
	return fallback
}
