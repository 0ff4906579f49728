// Package microsoft implements the workspace mail and calendar capabilities
// over Microsoft Graph.
package microsoft

import (
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// GraphBase is the public Graph v1.0 root.
const GraphBase = "https://graph.microsoft.com/v1.0"

// Capabilities returns the Graph implementations for the tool registry.
// Sheets and Drive are left nil and surface as unsupported.
func Capabilities(base string, timeout time.Duration, opts ...providers.Option) tools.ProviderCapabilities {
	if base == "" {
		base = GraphBase
	}
	base = strings.TrimRight(base, "/")
	client := providers.NewClient(models.ProviderMicrosoft365, timeout, opts...)
	return tools.ProviderCapabilities{
		Email:    &Mail{client: client, base: base},
		Calendar: &Calendar{client: client, base: base},
	}
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

func recipients(addrs []string) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
	}
	return out
}

func addresses(rs []recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.EmailAddress.Address)
	}
	return out
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

func textBody(s string, html bool) itemBody {
	if html {
		return itemBody{ContentType: "HTML", Content: s}
	}
	return itemBody{ContentType: "Text", Content: s}
}
