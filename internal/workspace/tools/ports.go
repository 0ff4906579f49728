package tools

import (
	"context"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// EmailMessage is a provider-neutral mail summary.
type EmailMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId,omitempty"`
	From      string    `json:"from"`
	To        []string  `json:"to,omitempty"`
	Cc        []string  `json:"cc,omitempty"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet,omitempty"`
	Body      string    `json:"body,omitempty"`
	Date      time.Time `json:"date"`
	Unread    bool      `json:"unread"`
	Important bool      `json:"important"`
	Labels    []string  `json:"labels,omitempty"`
}

// SentMessage identifies a message accepted by the provider.
type SentMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
}

// CalendarEvent is a provider-neutral event.
type CalendarEvent struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendarId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	Link        string    `json:"link,omitempty"`
}

// Spreadsheet identifies a created or opened spreadsheet.
type Spreadsheet struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	URL    string   `json:"url,omitempty"`
	Sheets []string `json:"sheets,omitempty"`
}

// SheetValues is a rectangular block of cells.
type SheetValues struct {
	SpreadsheetID string     `json:"spreadsheetId"`
	Range         string     `json:"range"`
	Values        [][]string `json:"values"`
	UpdatedCells  int        `json:"updatedCells,omitempty"`
}

// DriveFile is a provider-neutral file or folder.
type DriveFile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size,omitempty"`
	ParentIDs  []string  `json:"parentIds,omitempty"`
	URL        string    `json:"url,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt,omitempty"`
	Folder     bool      `json:"folder"`
}

// EmailCapabilities performs mail calls against one provider.
type EmailCapabilities interface {
	SendEmail(ctx context.Context, conn *models.WorkspaceConnection, p SendEmailParams) (*SentMessage, error)
	ReplyToEmail(ctx context.Context, conn *models.WorkspaceConnection, p ReplyToEmailParams) (*SentMessage, error)
	ForwardEmail(ctx context.Context, conn *models.WorkspaceConnection, p ForwardEmailParams) (*SentMessage, error)
	GetEmail(ctx context.Context, conn *models.WorkspaceConnection, messageID string) (*EmailMessage, error)
	SearchEmails(ctx context.Context, conn *models.WorkspaceConnection, p SearchEmailsParams) ([]EmailMessage, error)
}

// CalendarCapabilities performs calendar calls against one provider.
type CalendarCapabilities interface {
	CreateEvent(ctx context.Context, conn *models.WorkspaceConnection, p ScheduleEventParams) (*CalendarEvent, error)
	ListEvents(ctx context.Context, conn *models.WorkspaceConnection, p ReadCalendarParams) ([]CalendarEvent, error)
	UpdateEvent(ctx context.Context, conn *models.WorkspaceConnection, p EditEventParams) (*CalendarEvent, error)
	DeleteEvent(ctx context.Context, conn *models.WorkspaceConnection, p DeleteEventParams) error
}

// SheetsCapabilities performs spreadsheet calls against one provider.
type SheetsCapabilities interface {
	CreateSpreadsheet(ctx context.Context, conn *models.WorkspaceConnection, p CreateSpreadsheetParams) (*Spreadsheet, error)
	ReadRange(ctx context.Context, conn *models.WorkspaceConnection, p ReadSpreadsheetParams) (*SheetValues, error)
	UpdateRange(ctx context.Context, conn *models.WorkspaceConnection, p UpdateSpreadsheetParams) (*SheetValues, error)
}

// DriveCapabilities performs file storage calls against one provider.
type DriveCapabilities interface {
	SearchFiles(ctx context.Context, conn *models.WorkspaceConnection, p SearchFilesParams) ([]DriveFile, error)
	GetFile(ctx context.Context, conn *models.WorkspaceConnection, fileID string) (*DriveFile, error)
	UploadFile(ctx context.Context, conn *models.WorkspaceConnection, p UploadFileParams) (*DriveFile, error)
	CreateFolder(ctx context.Context, conn *models.WorkspaceConnection, p CreateFolderParams) (*DriveFile, error)
	ShareFile(ctx context.Context, conn *models.WorkspaceConnection, p ShareFileParams) error
	MoveFile(ctx context.Context, conn *models.WorkspaceConnection, p MoveFileParams) (*DriveFile, error)
}

// ProviderCapabilities bundles one provider's implementations. Nil members
// are not supported by that provider.
type ProviderCapabilities struct {
	Email    EmailCapabilities
	Calendar CalendarCapabilities
	Sheets   SheetsCapabilities
	Drive    DriveCapabilities
}

// Registry resolves capability implementations by provider.
type Registry map[models.Provider]ProviderCapabilities

func (r Registry) email(p models.Provider) (EmailCapabilities, error) {
	if c := r[p].Email; c != nil {
		return c, nil
	}
	return nil, unsupported(p, "email")
}

func (r Registry) calendar(p models.Provider) (CalendarCapabilities, error) {
	if c := r[p].Calendar; c != nil {
		return c, nil
	}
	return nil, unsupported(p, "calendar")
}

func (r Registry) sheets(p models.Provider) (SheetsCapabilities, error) {
	if c := r[p].Sheets; c != nil {
		return c, nil
	}
	return nil, unsupported(p, "spreadsheets")
}

func (r Registry) drive(p models.Provider) (DriveCapabilities, error) {
	if c := r[p].Drive; c != nil {
		return c, nil
	}
	return nil, unsupported(p, "files")
}
