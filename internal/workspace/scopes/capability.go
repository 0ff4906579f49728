package scopes

import "github.com/pysugar/workspace-nexus/internal/db/models"

type domain int

const (
	domainEmailRead domain = iota
	domainEmailSend
	domainCalendar
	domainDocuments
	domainDrive
	domainSheets
	domainContacts
)

var capabilityDomains = map[models.Capability]domain{
	models.CapabilityEmailRead:         domainEmailRead,
	models.CapabilityEmailSend:         domainEmailSend,
	models.CapabilityCalendarRead:      domainCalendar,
	models.CapabilityCalendarCreate:    domainCalendar,
	models.CapabilityCalendarEdit:      domainCalendar,
	models.CapabilityCalendarDelete:    domainCalendar,
	models.CapabilityDocumentRead:      domainDocuments,
	models.CapabilityDocumentCreate:    domainDocuments,
	models.CapabilityDocumentEdit:      domainDocuments,
	models.CapabilityDriveRead:         domainDrive,
	models.CapabilityDriveUpload:       domainDrive,
	models.CapabilityDriveManage:       domainDrive,
	models.CapabilitySpreadsheetRead:   domainSheets,
	models.CapabilitySpreadsheetCreate: domainSheets,
	models.CapabilitySpreadsheetEdit:   domainSheets,
	models.CapabilityContactsRead:      domainContacts,
	models.CapabilityContactsManage:    domainContacts,
}

var domainScopes = map[models.Provider]map[domain][]string{
	models.ProviderGoogleWorkspace: {
		domainEmailRead: {GoogleGmailModify},
		domainEmailSend: {GoogleGmailSend},
		domainCalendar:  {GoogleCalendar},
		domainDocuments: {GoogleDocuments},
		domainDrive:     {GoogleDrive},
		domainSheets:    {GoogleSpreadsheets},
		domainContacts:  {GoogleUserProfile},
	},
	models.ProviderMicrosoft365: {
		domainEmailRead: {GraphMailReadWrite},
		domainEmailSend: {GraphMailSend},
		domainCalendar:  {GraphCalendarsReadWrite},
		domainDocuments: {GraphFilesReadWrite},
		domainDrive:     {GraphFilesReadWrite},
		domainSheets:    {GraphFilesReadWrite},
		domainContacts:  {GraphUserRead},
	},
	models.ProviderZoho: {
		domainEmailRead: {"ZohoMail.messages.ALL", "ZohoMail.folders.ALL"},
		domainEmailSend: {"ZohoMail.messages.ALL", "ZohoMail.accounts.READ"},
		domainCalendar:  {"ZohoCalendar.calendar.ALL", "ZohoCalendar.event.ALL"},
		domainDocuments: {"ZohoWriter.documentEditor.ALL"},
		domainDrive:     {"WorkDrive.files.ALL", "WorkDrive.workspace.ALL"},
		domainSheets:    {"ZohoSheet.dataAPI.READ", "ZohoSheet.dataAPI.UPDATE"},
		domainContacts:  {"aaaserver.profile.READ"},
	},
}

// ScopesForCapability returns the provider scopes a capability's API calls
// need. Workflow capabilities run inside this service and need none.
func ScopesForCapability(provider models.Provider, capability models.Capability) []string {
	d, ok := capabilityDomains[capability]
	if !ok {
		return nil
	}
	return append([]string(nil), domainScopes[provider][d]...)
}

// MissingForCapability lists the scopes from ScopesForCapability that the
// granted string lacks.
func MissingForCapability(provider models.Provider, capability models.Capability, granted string) []string {
	have := parse(granted)
	var missing []string
	for _, s := range ScopesForCapability(provider, capability) {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}
