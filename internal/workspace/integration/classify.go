package integration

import (
	"errors"
	"strings"

	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
)

// Category groups failures by what the user can do about them.
type Category string

const (
	CategoryPermission      Category = "permission"
	CategoryConnection      Category = "connection"
	CategoryRateLimit       Category = "rate_limit"
	CategoryNetwork         Category = "network"
	CategoryExternalService Category = "external_service"
	CategoryValidation      Category = "validation"
	CategoryInternal        Category = "internal"
	CategoryGeneric         Category = "generic"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Classification is the outcome of running an error through the rule table.
type Classification struct {
	Category  Category            `json:"category"`
	Severity  Severity            `json:"severity"`
	Retryable bool                `json:"retryable"`
	Kind      workspace.ErrorKind `json:"kind,omitempty"`
}

type classificationRule struct {
	kinds     []workspace.ErrorKind
	keywords  []string
	category  Category
	severity  Severity
	retryable bool
}

func (r classificationRule) matches(kind workspace.ErrorKind, msg string) bool {
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	for _, kw := range r.keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// classificationRules are tried in order; the first match wins.
var classificationRules = []classificationRule{
	{
		kinds:     []workspace.ErrorKind{workspace.ErrorRateLimited},
		keywords:  []string{"rate limit", "quota", "too many requests"},
		category:  CategoryRateLimit,
		severity:  SeverityMedium,
		retryable: true,
	},
	{
		kinds:    []workspace.ErrorKind{workspace.ErrorNoPermission, workspace.ErrorScopeMismatch},
		keywords: []string{"permission denied", "forbidden", "not allowed", "insufficient", "access denied"},
		category: CategoryPermission,
		severity: SeverityHigh,
	},
	{
		kinds:    []workspace.ErrorKind{workspace.ErrorNoConnection, workspace.ErrorConnectionInactive, workspace.ErrorExpiredToken},
		keywords: []string{"unauthorized", "token expired", "revoked", "invalid_grant", "reconnect"},
		category: CategoryConnection,
		severity: SeverityHigh,
	},
	{
		keywords:  []string{"network", "timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host"},
		category:  CategoryNetwork,
		severity:  SeverityMedium,
		retryable: true,
	},
	{
		keywords:  []string{"temporarily", "unavailable", "server error", "bad gateway"},
		category:  CategoryExternalService,
		severity:  SeverityMedium,
		retryable: true,
	},
	{
		kinds:    []workspace.ErrorKind{workspace.ErrorProviderAPIFailure},
		category: CategoryExternalService,
		severity: SeverityLow,
	},
	{
		keywords: []string{"invalid tool parameters", "failed rule", "unknown tool", "unknown workspace command"},
		category: CategoryValidation,
		severity: SeverityLow,
	},
	{
		keywords: []string{"database", "sql", "record not found", "panic"},
		category: CategoryInternal,
		severity: SeverityCritical,
	},
}

// Classify maps err to a category, severity and retryability. A workspace
// error kind is matched before the message keywords of later rules.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryGeneric, Severity: SeverityLow}
	}
	kind, _ := workspace.KindOf(err)
	msg := strings.ToLower(err.Error())

	for _, r := range classificationRules {
		if r.matches(kind, msg) {
			c := Classification{Category: r.category, Severity: r.severity, Retryable: r.retryable, Kind: kind}
			var apiErr *providers.APIError
			if c.Category == CategoryExternalService && errors.As(err, &apiErr) {
				c.Retryable = apiErr.Temporary()
			}
			return c
		}
	}
	return Classification{Category: CategoryGeneric, Severity: SeverityMedium, Kind: kind}
}
