// Package google implements the workspace capabilities over the Gmail,
// Calendar, Sheets and Drive REST APIs.
package google

import (
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// Endpoints are the API roots; tests point them at an httptest server.
type Endpoints struct {
	Gmail       string
	Calendar    string
	Sheets      string
	Drive       string
	DriveUpload string
}

// DefaultEndpoints are the public Google API roots.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Gmail:       "https://gmail.googleapis.com/gmail/v1/users/me",
		Calendar:    "https://www.googleapis.com/calendar/v3",
		Sheets:      "https://sheets.googleapis.com/v4/spreadsheets",
		Drive:       "https://www.googleapis.com/drive/v3",
		DriveUpload: "https://www.googleapis.com/upload/drive/v3",
	}
}

// EndpointsAt roots every API under base, e.g. an httptest server URL.
func EndpointsAt(base string) Endpoints {
	base = strings.TrimRight(base, "/")
	return Endpoints{
		Gmail:       base + "/gmail/v1/users/me",
		Calendar:    base + "/calendar/v3",
		Sheets:      base + "/v4/spreadsheets",
		Drive:       base + "/drive/v3",
		DriveUpload: base + "/upload/drive/v3",
	}
}

// Capabilities returns the Google implementations for the tool registry.
func Capabilities(endpoints Endpoints, timeout time.Duration, opts ...providers.Option) tools.ProviderCapabilities {
	client := providers.NewClient(models.ProviderGoogleWorkspace, timeout, opts...)
	return tools.ProviderCapabilities{
		Email:    &Gmail{client: client, base: endpoints.Gmail},
		Calendar: &Calendar{client: client, base: endpoints.Calendar},
		Sheets:   &Sheets{client: client, base: endpoints.Sheets},
		Drive:    &Drive{client: client, base: endpoints.Drive, uploadBase: endpoints.DriveUpload},
	}
}
