// Package providers holds the REST plumbing shared by the per-provider
// capability implementations.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
)

// UserAgent is sent on every provider call.
const UserAgent = "workspace-nexus/1.0"

const maxErrorBody = 4 << 10

// TokenSourceFunc returns the token used to call the provider for conn.
type TokenSourceFunc func(ctx context.Context, conn *models.WorkspaceConnection) oauth2.TokenSource

// ConnectionToken serves the access token stored on the connection. The
// refresh loop keeps it current; validation rejects expired ones first.
func ConnectionToken(_ context.Context, conn *models.WorkspaceConnection) oauth2.TokenSource {
	tok := &oauth2.Token{AccessToken: conn.AccessToken, TokenType: "Bearer"}
	if conn.TokenExpiresAt != nil {
		tok.Expiry = *conn.TokenExpiresAt
	}
	return oauth2.StaticTokenSource(tok)
}

// Client performs authenticated JSON calls against one provider.
type Client struct {
	provider models.Provider
	base     *http.Client
	tokens   TokenSourceFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client, e.g. for httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithTokenSource replaces ConnectionToken.
func WithTokenSource(fn TokenSourceFunc) Option {
	return func(c *Client) { c.tokens = fn }
}

// NewClient builds a client for provider. timeout bounds each request when
// the caller's context has no earlier deadline.
func NewClient(provider models.Provider, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		base:     &http.Client{Timeout: timeout},
		tokens:   ConnectionToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() models.Provider {
	return c.provider
}

func (c *Client) httpClient(ctx context.Context, conn *models.WorkspaceConnection) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	return oauth2.NewClient(ctx, c.tokens(ctx, conn))
}

// DoJSON sends in as a JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, conn *models.WorkspaceConnection, method, rawURL string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	return c.Do(ctx, conn, method, rawURL, query, "application/json", body, out)
}

// Do sends body with contentType and decodes a JSON response into out.
func (c *Client) Do(ctx context.Context, conn *models.WorkspaceConnection, method, rawURL string, query url.Values, contentType string, body io.Reader, out any) error {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient(ctx, conn).Do(req)
	if err != nil {
		return c.wrap(fmt.Errorf("%s %s: network error: %w", method, redactQuery(rawURL), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := newAPIError(c.provider, resp)
		log.Printf("⚠️ %s %s %s returned %d", c.provider, method, redactQuery(rawURL), resp.StatusCode)
		return c.wrap(apiErr)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return c.wrap(fmt.Errorf("decode %s response: %w", c.provider.DisplayName(), err))
	}
	return nil
}

func (c *Client) wrap(err error) error {
	return &workspace.WorkspaceError{
		Kind:     workspace.ErrorProviderAPIFailure,
		Message:  c.provider.DisplayName() + " request failed",
		Provider: c.provider,
		Err:      err,
	}
}

func redactQuery(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// PathEscape escapes one path segment.
func PathEscape(s string) string {
	return url.PathEscape(s)
}
