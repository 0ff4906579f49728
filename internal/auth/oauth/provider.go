// Package oauth connects workspace accounts over OAuth 2.0 and keeps the
// resulting connections refreshed, validated and revocable.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/scopes"
)

// Credentials are one provider's OAuth client registration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Configured reports whether both client id and secret are set.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// Profile is the account identity read after the code exchange.
type Profile struct {
	Email       string
	DisplayName string
	// HostedDomain is set by Google for Workspace accounts.
	HostedDomain string
}

// Provider describes how to authorize, identify and revoke accounts at one
// workspace provider.
type Provider struct {
	ID         models.Provider
	Config     *oauth2.Config
	ProfileURL string
	// RevokeURL receives the token as a "token" form value. Empty means the
	// provider has no revocation endpoint.
	RevokeURL string
	AuthOpts  []oauth2.AuthCodeOption

	parseProfile func(raw []byte) (Profile, error)
}

// Google builds the Google Workspace provider.
func Google(creds Credentials) *Provider {
	return &Provider{
		ID:         models.ProviderGoogleWorkspace,
		Config:     oauthConfig(creds, googleOAuth.Endpoint, scopes.Request(models.ProviderGoogleWorkspace)),
		ProfileURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		RevokeURL:  "https://oauth2.googleapis.com/revoke",
		AuthOpts: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.ApprovalForce,
			oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		},
		parseProfile: parseGoogleProfile,
	}
}

// Microsoft builds the Microsoft 365 provider for tenant ("common" when empty).
func Microsoft(creds Credentials, tenant string) *Provider {
	if tenant == "" {
		tenant = "common"
	}
	return &Provider{
		ID:         models.ProviderMicrosoft365,
		Config:     oauthConfig(creds, microsoft.AzureADEndpoint(tenant), scopes.Request(models.ProviderMicrosoft365)),
		ProfileURL: "https://graph.microsoft.com/v1.0/me",
		AuthOpts: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
		parseProfile: parseGraphProfile,
	}
}

// Zoho builds the Zoho Workplace provider. accountsHost selects the data
// center, e.g. https://accounts.zoho.eu.
func Zoho(creds Credentials, accountsHost string) *Provider {
	if accountsHost == "" {
		accountsHost = "https://accounts.zoho.com"
	}
	accountsHost = strings.TrimRight(accountsHost, "/")
	endpoint := oauth2.Endpoint{
		AuthURL:   accountsHost + "/oauth/v2/auth",
		TokenURL:  accountsHost + "/oauth/v2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &Provider{
		ID:         models.ProviderZoho,
		Config:     oauthConfig(creds, endpoint, scopes.Request(models.ProviderZoho)),
		ProfileURL: accountsHost + "/oauth/user/info",
		RevokeURL:  accountsHost + "/oauth/v2/token/revoke",
		AuthOpts: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.ApprovalForce,
		},
		parseProfile: parseZohoProfile,
	}
}

func oauthConfig(creds Credentials, endpoint oauth2.Endpoint, requested []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes:       requested,
		Endpoint:     endpoint,
	}
}

// fetchProfile reads the account identity with the freshly issued token.
func (p *Provider) fetchProfile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	client := p.Config.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("user info returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	profile, err := p.parseProfile(raw)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to decode user info: %w", err)
	}
	if profile.Email == "" {
		return Profile{}, fmt.Errorf("%s user info has no email address", p.ID.DisplayName())
	}
	profile.Email = strings.ToLower(profile.Email)
	return profile, nil
}

// revoke invalidates token at the provider. Providers without an endpoint
// are a no-op.
func (p *Provider) revoke(ctx context.Context, hc *http.Client, token string) error {
	if p.RevokeURL == "" || token == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("revoke returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func parseGoogleProfile(raw []byte) (Profile, error) {
	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		HD    string `json:"hd"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return Profile{}, err
	}
	return Profile{Email: info.Email, DisplayName: info.Name, HostedDomain: info.HD}, nil
}

func parseGraphProfile(raw []byte) (Profile, error) {
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := json.Unmarshal(raw, &me); err != nil {
		return Profile{}, err
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return Profile{Email: email, DisplayName: me.DisplayName}, nil
}

func parseZohoProfile(raw []byte) (Profile, error) {
	var info struct {
		Email       string `json:"Email"`
		DisplayName string `json:"Display_Name"`
		FirstName   string `json:"First_Name"`
		LastName    string `json:"Last_Name"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return Profile{}, err
	}
	name := info.DisplayName
	if name == "" {
		name = strings.TrimSpace(info.FirstName + " " + info.LastName)
	}
	return Profile{Email: info.Email, DisplayName: name}, nil
}
