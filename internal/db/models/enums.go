package models

// Provider identifies the workspace suite behind a connection.
type Provider string

const (
	ProviderGoogleWorkspace Provider = "GOOGLE_WORKSPACE"
	ProviderMicrosoft365    Provider = "MICROSOFT_365"
	ProviderZoho            Provider = "ZOHO"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderGoogleWorkspace, ProviderMicrosoft365, ProviderZoho}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogleWorkspace, ProviderMicrosoft365, ProviderZoho:
		return true
	}
	return false
}

// DisplayName returns the product name shown to users.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderGoogleWorkspace:
		return "Google Workspace"
	case ProviderMicrosoft365:
		return "Microsoft 365"
	case ProviderZoho:
		return "Zoho Workplace"
	}
	return string(p)
}

type AccountType string

const (
	AccountTypePersonal       AccountType = "PERSONAL"
	AccountTypeOrganizational AccountType = "ORGANIZATIONAL"
)

type ConnectionType string

const (
	ConnectionTypeDelegated      ConnectionType = "DELEGATED"
	ConnectionTypeServiceAccount ConnectionType = "SERVICE_ACCOUNT"
)

type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "ACTIVE"
	ConnectionStatusExpired ConnectionStatus = "EXPIRED"
	ConnectionStatusError   ConnectionStatus = "ERROR"
	ConnectionStatusRevoked ConnectionStatus = "REVOKED"
)

// Capability is a fine-grained workspace operation an agent can be granted.
type Capability string

const (
	CapabilityEmailRead         Capability = "EMAIL_READ"
	CapabilityEmailSend         Capability = "EMAIL_SEND"
	CapabilityCalendarRead      Capability = "CALENDAR_READ"
	CapabilityCalendarCreate    Capability = "CALENDAR_CREATE"
	CapabilityCalendarEdit      Capability = "CALENDAR_EDIT"
	CapabilityCalendarDelete    Capability = "CALENDAR_DELETE"
	CapabilityDocumentRead      Capability = "DOCUMENT_READ"
	CapabilityDocumentCreate    Capability = "DOCUMENT_CREATE"
	CapabilityDocumentEdit      Capability = "DOCUMENT_EDIT"
	CapabilityDriveRead         Capability = "DRIVE_READ"
	CapabilityDriveUpload       Capability = "DRIVE_UPLOAD"
	CapabilityDriveManage       Capability = "DRIVE_MANAGE"
	CapabilitySpreadsheetRead   Capability = "SPREADSHEET_READ"
	CapabilitySpreadsheetCreate Capability = "SPREADSHEET_CREATE"
	CapabilitySpreadsheetEdit   Capability = "SPREADSHEET_EDIT"
	CapabilityContactsRead      Capability = "CONTACTS_READ"
	CapabilityContactsManage    Capability = "CONTACTS_MANAGE"
	CapabilityWorkflowCreate    Capability = "WORKFLOW_CREATE"
	CapabilityWorkflowManage    Capability = "WORKFLOW_MANAGE"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{
	CapabilityEmailRead, CapabilityEmailSend,
	CapabilityCalendarRead, CapabilityCalendarCreate, CapabilityCalendarEdit, CapabilityCalendarDelete,
	CapabilityDocumentRead, CapabilityDocumentCreate, CapabilityDocumentEdit,
	CapabilityDriveRead, CapabilityDriveUpload, CapabilityDriveManage,
	CapabilitySpreadsheetRead, CapabilitySpreadsheetCreate, CapabilitySpreadsheetEdit,
	CapabilityContactsRead, CapabilityContactsManage,
	CapabilityWorkflowCreate, CapabilityWorkflowManage,
}

var capabilityLabels = map[Capability]string{
	CapabilityEmailRead:         "read email",
	CapabilityEmailSend:         "send email",
	CapabilityCalendarRead:      "read calendar",
	CapabilityCalendarCreate:    "create calendar events",
	CapabilityCalendarEdit:      "edit calendar events",
	CapabilityCalendarDelete:    "delete calendar events",
	CapabilityDocumentRead:      "read documents",
	CapabilityDocumentCreate:    "create documents",
	CapabilityDocumentEdit:      "edit documents",
	CapabilityDriveRead:         "read files",
	CapabilityDriveUpload:       "upload files",
	CapabilityDriveManage:       "manage files",
	CapabilitySpreadsheetRead:   "read spreadsheets",
	CapabilitySpreadsheetCreate: "create spreadsheets",
	CapabilitySpreadsheetEdit:   "edit spreadsheets",
	CapabilityContactsRead:      "read contacts",
	CapabilityContactsManage:    "manage contacts",
	CapabilityWorkflowCreate:    "create workflows",
	CapabilityWorkflowManage:    "manage workflows",
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	_, ok := capabilityLabels[c]
	return ok
}

// Label returns a short human-readable description, e.g. "send email".
func (c Capability) Label() string {
	if l, ok := capabilityLabels[c]; ok {
		return l
	}
	return string(c)
}

// AccessLevel orders how much an agent may do with a granted capability.
type AccessLevel string

const (
	AccessLevelNone  AccessLevel = "NONE"
	AccessLevelRead  AccessLevel = "READ"
	AccessLevelWrite AccessLevel = "WRITE"
	AccessLevelAdmin AccessLevel = "ADMIN"
)

func (l AccessLevel) rank() int {
	switch l {
	case AccessLevelRead:
		return 1
	case AccessLevelWrite:
		return 2
	case AccessLevelAdmin:
		return 3
	}
	return 0
}

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	return l == AccessLevelNone || l.rank() > 0
}

// Allows reports whether l is at least required.
func (l AccessLevel) Allows(required AccessLevel) bool {
	return l.rank() >= required.rank()
}

type AuditAction string

const (
	AuditActionAccessGranted       AuditAction = "ACCESS_GRANTED"
	AuditActionAccessRevoked       AuditAction = "ACCESS_REVOKED"
	AuditActionConnectionCreated   AuditAction = "CONNECTION_CREATED"
	AuditActionConnectionRefreshed AuditAction = "CONNECTION_REFRESHED"
	AuditActionConnectionRevoked   AuditAction = "CONNECTION_REVOKED"
	AuditActionToolExecuted        AuditAction = "TOOL_EXECUTED"
	AuditActionExecutionFailed     AuditAction = "EXECUTION_FAILED"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "SUCCESS"
	AuditResultFailure AuditResult = "FAILURE"
)
