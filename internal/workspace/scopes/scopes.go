// Package scopes is the static registry of OAuth scopes each workspace
// provider must grant.
package scopes

import (
	"strings"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

const (
	googleAPI = "https://www.googleapis.com/auth/"
	graphAPI  = "https://graph.microsoft.com/"
)

var (
	GoogleGmailSend    = googleAPI + "gmail.send"
	GoogleGmailModify  = googleAPI + "gmail.modify"
	GoogleCalendar     = googleAPI + "calendar"
	GoogleDrive        = googleAPI + "drive"
	GoogleSpreadsheets = googleAPI + "spreadsheets"
	GoogleDocuments    = googleAPI + "documents"
	GoogleUserEmail    = googleAPI + "userinfo.email"
	GoogleUserProfile  = googleAPI + "userinfo.profile"
	OpenID             = "openid"

	GraphMailReadWrite      = graphAPI + "Mail.ReadWrite"
	GraphMailSend           = graphAPI + "Mail.Send"
	GraphCalendarsReadWrite = graphAPI + "Calendars.ReadWrite"
	GraphFilesReadWrite     = graphAPI + "Files.ReadWrite"
	GraphUserRead           = graphAPI + "User.Read"
	OfflineAccess           = "offline_access"
)

var required = map[models.Provider][]string{
	models.ProviderGoogleWorkspace: {
		GoogleGmailSend,
		GoogleGmailModify,
		GoogleCalendar,
		GoogleDrive,
		GoogleSpreadsheets,
		GoogleDocuments,
		GoogleUserEmail,
		GoogleUserProfile,
		OpenID,
	},
	models.ProviderMicrosoft365: {
		GraphMailReadWrite,
		GraphMailSend,
		GraphCalendarsReadWrite,
		GraphFilesReadWrite,
		GraphUserRead,
	},
	models.ProviderZoho: {
		"ZohoMail.accounts.READ",
		"ZohoMail.messages.ALL",
		"ZohoMail.folders.ALL",
		"ZohoCalendar.calendar.ALL",
		"ZohoCalendar.event.ALL",
		"ZohoSheet.dataAPI.READ",
		"ZohoSheet.dataAPI.UPDATE",
		"ZohoWriter.documentEditor.ALL",
		"ZohoWriter.merge.ALL",
		"WorkDrive.files.ALL",
		"WorkDrive.workspace.ALL",
		"WorkDrive.team.READ",
		"WorkDrive.teamfolders.ALL",
		"aaaserver.profile.READ",
	},
}

// Required returns a copy of the scopes provider must grant.
func Required(provider models.Provider) []string {
	return append([]string(nil), required[provider]...)
}

// Request returns the scopes to ask for during authorization. Microsoft
// needs offline_access to issue a refresh token.
func Request(provider models.Provider) []string {
	out := Required(provider)
	if provider == models.ProviderMicrosoft365 {
		out = append(out, OfflineAccess)
	}
	return out
}

// ValidateScopes reports whether the space-delimited granted string contains
// every required scope for provider.
func ValidateScopes(provider models.Provider, granted string) bool {
	if _, ok := required[provider]; !ok {
		return false
	}
	return len(GetMissingScopes(provider, granted)) == 0
}

// GetMissingScopes lists required scopes absent from the space-delimited
// granted string, in registry order.
func GetMissingScopes(provider models.Provider, granted string) []string {
	have := parse(granted)
	var missing []string
	for _, s := range required[provider] {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func parse(granted string) map[string]struct{} {
	fields := strings.Fields(granted)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
