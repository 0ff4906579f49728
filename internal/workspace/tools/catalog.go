package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

// execution is what a tool body sees once access has been confirmed.
type execution struct {
	conn     *models.WorkspaceConnection
	registry Registry
	now      time.Time
}

type invocation func(ctx context.Context, x *execution) (any, error)

// Tool is one catalogue entry. Parameters are decoded and validated before
// any permission check so malformed input never reaches a provider.
type Tool struct {
	Name        string
	Description string
	Capability  models.Capability
	AccessLevel models.AccessLevel
	params      any
	prepare     func(raw json.RawMessage) (invocation, error)
}

// Info returns the discovery view of t.
func (t Tool) Info() ToolInfo {
	return ToolInfo{
		Name:        t.Name,
		Description: t.Description,
		Capability:  t.Capability,
		AccessLevel: t.AccessLevel,
		Parameters:  describeParams(t.params),
	}
}

// ToolInfo is what an agent sees when listing tools.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Capability  models.Capability  `json:"capability"`
	AccessLevel models.AccessLevel `json:"accessLevel"`
	Parameters  []ParamInfo        `json:"parameters"`
	Connections []ToolConnection   `json:"connections,omitempty"`
}

// ToolConnection is a connection on which a listed tool may run.
type ToolConnection struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Provider models.Provider `json:"provider"`
}

func define[P any](name, description string, capability models.Capability, run func(ctx context.Context, x *execution, p P) (any, error)) Tool {
	var zero P
	return Tool{
		Name:        name,
		Description: description,
		Capability:  capability,
		AccessLevel: permission.DefaultAccessLevel(capability),
		params:      zero,
		prepare: func(raw json.RawMessage) (invocation, error) {
			p, err := DecodeParams[P](raw)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, x *execution) (any, error) { return run(ctx, x, p) }, nil
		},
	}
}

// Catalog returns every tool in a stable order.
func Catalog() []Tool {
	return []Tool{
		define("send_email", "Send a new email from the connected account.", models.CapabilityEmailSend,
			func(ctx context.Context, x *execution, p SendEmailParams) (any, error) {
				c, err := x.registry.email(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.SendEmail(ctx, x.conn, p)
			}),
		define("reply_to_email", "Reply to an email, optionally to all recipients.", models.CapabilityEmailSend,
			func(ctx context.Context, x *execution, p ReplyToEmailParams) (any, error) {
				c, err := x.registry.email(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.ReplyToEmail(ctx, x.conn, p)
			}),
		define("forward_email", "Forward an email to new recipients.", models.CapabilityEmailSend,
			func(ctx context.Context, x *execution, p ForwardEmailParams) (any, error) {
				c, err := x.registry.email(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.ForwardEmail(ctx, x.conn, p)
			}),
		define("read_specific_email", "Read one email by id.", models.CapabilityEmailRead,
			func(ctx context.Context, x *execution, p ReadEmailParams) (any, error) {
				c, err := x.registry.email(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.GetEmail(ctx, x.conn, p.MessageID)
			}),
		define("search_emails", "Search the mailbox.", models.CapabilityEmailRead,
			func(ctx context.Context, x *execution, p SearchEmailsParams) (any, error) {
				c, err := x.registry.email(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.SearchEmails(ctx, x.conn, p)
			}),
		define("get_email_analytics", "Summarize recent mail by sender, day and state.", models.CapabilityEmailRead,
			func(ctx context.Context, x *execution, p MailboxWindowParams) (any, error) {
				msgs, q, err := recentMail(ctx, x, p)
				if err != nil {
					return nil, err
				}
				return AnalyzeEmails(msgs, *q.Since), nil
			}),
		define("find_important_emails", "List recent emails that are flagged or look urgent.", models.CapabilityEmailRead,
			func(ctx context.Context, x *execution, p MailboxWindowParams) (any, error) {
				msgs, _, err := recentMail(ctx, x, p)
				if err != nil {
					return nil, err
				}
				return FindImportantEmails(msgs), nil
			}),
		define("get_action_items", "Extract requests and deadlines from recent mail.", models.CapabilityEmailRead,
			func(ctx context.Context, x *execution, p MailboxWindowParams) (any, error) {
				msgs, _, err := recentMail(ctx, x, p)
				if err != nil {
					return nil, err
				}
				return ExtractActionItems(msgs), nil
			}),
		define("schedule_event", "Create a calendar event.", models.CapabilityCalendarCreate,
			func(ctx context.Context, x *execution, p ScheduleEventParams) (any, error) {
				c, err := x.registry.calendar(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.CreateEvent(ctx, x.conn, p)
			}),
		define("read_calendar", "List calendar events in a time range.", models.CapabilityCalendarRead,
			func(ctx context.Context, x *execution, p ReadCalendarParams) (any, error) {
				c, err := x.registry.calendar(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.ListEvents(ctx, x.conn, p)
			}),
		define("find_availability", "Find free time slots of a given length.", models.CapabilityCalendarRead,
			func(ctx context.Context, x *execution, p FindAvailabilityParams) (any, error) {
				c, err := x.registry.calendar(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				events, err := c.ListEvents(ctx, x.conn, ReadCalendarParams{CalendarID: p.CalendarID, From: p.From, To: p.To})
				if err != nil {
					return nil, err
				}
				return FindFreeSlots(events, p.From, p.To, time.Duration(p.DurationMinutes)*time.Minute,
					p.WorkdayStartHour, p.WorkdayEndHour), nil
			}),
		define("edit_event", "Change an existing calendar event.", models.CapabilityCalendarEdit,
			func(ctx context.Context, x *execution, p EditEventParams) (any, error) {
				c, err := x.registry.calendar(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.UpdateEvent(ctx, x.conn, p)
			}),
		define("delete_event", "Delete a calendar event.", models.CapabilityCalendarDelete,
			func(ctx context.Context, x *execution, p DeleteEventParams) (any, error) {
				c, err := x.registry.calendar(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				if err := c.DeleteEvent(ctx, x.conn, p); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": true, "eventId": p.EventID}, nil
			}),
		define("get_calendar_summary", "Summarize scheduled hours in a time range.", models.CapabilityCalendarRead,
			func(ctx context.Context, x *execution, p ReadCalendarParams) (any, error) {
				c, err := x.registry.calendar(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				events, err := c.ListEvents(ctx, x.conn, p)
				if err != nil {
					return nil, err
				}
				return SummarizeCalendar(events), nil
			}),
		define("create_spreadsheet", "Create a spreadsheet, optionally with headers and rows.", models.CapabilitySpreadsheetCreate,
			func(ctx context.Context, x *execution, p CreateSpreadsheetParams) (any, error) {
				c, err := x.registry.sheets(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.CreateSpreadsheet(ctx, x.conn, p)
			}),
		define("create_expense_tracker", "Create a spreadsheet laid out for tracking expenses.", models.CapabilitySpreadsheetCreate,
			func(ctx context.Context, x *execution, p CreateExpenseTrackerParams) (any, error) {
				c, err := x.registry.sheets(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.CreateSpreadsheet(ctx, x.conn, expenseTracker(p, x.now))
			}),
		define("read_spreadsheet", "Read a cell range from a spreadsheet.", models.CapabilitySpreadsheetRead,
			func(ctx context.Context, x *execution, p ReadSpreadsheetParams) (any, error) {
				c, err := x.registry.sheets(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.ReadRange(ctx, x.conn, p)
			}),
		define("update_spreadsheet", "Write or append values to a spreadsheet range.", models.CapabilitySpreadsheetEdit,
			func(ctx context.Context, x *execution, p UpdateSpreadsheetParams) (any, error) {
				c, err := x.registry.sheets(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.UpdateRange(ctx, x.conn, p)
			}),
		define("search_files", "Search stored files.", models.CapabilityDriveRead,
			func(ctx context.Context, x *execution, p SearchFilesParams) (any, error) {
				c, err := x.registry.drive(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.SearchFiles(ctx, x.conn, p)
			}),
		define("get_file", "Get file details by id.", models.CapabilityDriveRead,
			func(ctx context.Context, x *execution, p GetFileParams) (any, error) {
				c, err := x.registry.drive(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.GetFile(ctx, x.conn, p.FileID)
			}),
		define("upload_file", "Upload a text file.", models.CapabilityDriveUpload,
			func(ctx context.Context, x *execution, p UploadFileParams) (any, error) {
				c, err := x.registry.drive(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.UploadFile(ctx, x.conn, p)
			}),
		define("create_folder", "Create a folder.", models.CapabilityDriveManage,
			func(ctx context.Context, x *execution, p CreateFolderParams) (any, error) {
				c, err := x.registry.drive(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.CreateFolder(ctx, x.conn, p)
			}),
		define("share_file", "Share a file with someone.", models.CapabilityDriveManage,
			func(ctx context.Context, x *execution, p ShareFileParams) (any, error) {
				c, err := x.registry.drive(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				if p.Role == "" {
					p.Role = "reader"
				}
				if err := c.ShareFile(ctx, x.conn, p); err != nil {
					return nil, err
				}
				return map[string]any{"shared": true, "fileId": p.FileID, "email": p.Email, "role": p.Role}, nil
			}),
		define("move_file", "Move a file into another folder.", models.CapabilityDriveManage,
			func(ctx context.Context, x *execution, p MoveFileParams) (any, error) {
				c, err := x.registry.drive(x.conn.Provider)
				if err != nil {
					return nil, err
				}
				return c.MoveFile(ctx, x.conn, p)
			}),
	}
}

func recentMail(ctx context.Context, x *execution, p MailboxWindowParams) ([]EmailMessage, SearchEmailsParams, error) {
	c, err := x.registry.email(x.conn.Provider)
	if err != nil {
		return nil, SearchEmailsParams{}, err
	}
	q := p.search(x.now)
	msgs, err := c.SearchEmails(ctx, x.conn, q)
	return msgs, q, err
}

var defaultExpenseCategories = []string{"Travel", "Meals", "Office", "Software", "Other"}

func expenseTracker(p CreateExpenseTrackerParams, now time.Time) CreateSpreadsheetParams {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = fmt.Sprintf("Expenses %s", now.Format("January 2006"))
	}
	currency := strings.ToUpper(p.Currency)
	if currency == "" {
		currency = "USD"
	}
	categories := p.Categories
	if len(categories) == 0 {
		categories = defaultExpenseCategories
	}
	rows := make([][]string, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []string{"", "", c, "", "", ""})
	}
	return CreateSpreadsheetParams{
		Title:   title,
		Sheets:  []string{"Expenses"},
		Headers: []string{"Date", "Description", "Category", "Amount (" + currency + ")", "Payment Method", "Notes"},
		Rows:    rows,
	}
}
