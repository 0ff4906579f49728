package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidParams wraps every parameter decoding or validation failure.
var ErrInvalidParams = errors.New("invalid tool parameters")

// ValidateStruct checks s against its validate tags and joins the failures
// into one readable error.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msg := fmt.Sprintf("field '%s' failed rule '%s'", jsonFieldPath(e.Namespace()), e.Tag())
		if e.Param() != "" {
			msg += "=" + e.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
}

// jsonFieldPath drops the struct name from a validator namespace.
func jsonFieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// DecodeParams unmarshals raw JSON into T and validates it. Unknown fields
// are ignored since parsers often attach extra entities.
func DecodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := ValidateStruct(&p); err != nil {
		return p, err
	}
	return p, nil
}

// SendEmailParams sends a new message.
type SendEmailParams struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Cc      []string `json:"cc,omitempty" validate:"omitempty,dive,email"`
	Bcc     []string `json:"bcc,omitempty" validate:"omitempty,dive,email"`
	Subject string   `json:"subject" validate:"required,max=998"`
	Body    string   `json:"body" validate:"required"`
	HTML    bool     `json:"html,omitempty"`
}

// ReplyToEmailParams answers an existing message.
type ReplyToEmailParams struct {
	MessageID string `json:"messageId" validate:"required"`
	Body      string `json:"body" validate:"required"`
	ReplyAll  bool   `json:"replyAll,omitempty"`
}

// ForwardEmailParams forwards an existing message.
type ForwardEmailParams struct {
	MessageID string   `json:"messageId" validate:"required"`
	To        []string `json:"to" validate:"required,min=1,dive,email"`
	Note      string   `json:"note,omitempty"`
}

// ReadEmailParams fetches one message.
type ReadEmailParams struct {
	MessageID string `json:"messageId" validate:"required"`
}

// SearchEmailsParams filters the mailbox. Query uses the provider's own syntax.
type SearchEmailsParams struct {
	Query      string     `json:"query,omitempty"`
	From       string     `json:"from,omitempty" validate:"omitempty,email"`
	UnreadOnly bool       `json:"unreadOnly,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	MaxResults int        `json:"maxResults,omitempty" validate:"omitempty,min=1,max=100"`
}

// MailboxWindowParams bounds analysis tools to the last Days days.
type MailboxWindowParams struct {
	Days       int `json:"days,omitempty" validate:"omitempty,min=1,max=90"`
	MaxResults int `json:"maxResults,omitempty" validate:"omitempty,min=1,max=100"`
}

func (p MailboxWindowParams) search(now time.Time) SearchEmailsParams {
	days := p.Days
	if days == 0 {
		days = 7
	}
	limit := p.MaxResults
	if limit == 0 {
		limit = 50
	}
	since := now.AddDate(0, 0, -days)
	return SearchEmailsParams{Since: &since, MaxResults: limit}
}

// ScheduleEventParams creates a calendar event.
type ScheduleEventParams struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtfield=Start"`
	Attendees   []string  `json:"attendees,omitempty" validate:"omitempty,dive,email"`
	CalendarID  string    `json:"calendarId,omitempty"`
	TimeZone    string    `json:"timeZone,omitempty"`
}

// ReadCalendarParams lists events in [From, To).
type ReadCalendarParams struct {
	CalendarID string    `json:"calendarId,omitempty"`
	From       time.Time `json:"from" validate:"required"`
	To         time.Time `json:"to" validate:"required,gtfield=From"`
	MaxResults int       `json:"maxResults,omitempty" validate:"omitempty,min=1,max=250"`
}

// FindAvailabilityParams searches for free slots of DurationMinutes.
type FindAvailabilityParams struct {
	CalendarID       string    `json:"calendarId,omitempty"`
	From             time.Time `json:"from" validate:"required"`
	To               time.Time `json:"to" validate:"required,gtfield=From"`
	DurationMinutes  int       `json:"durationMinutes" validate:"required,min=5,max=480"`
	WorkdayStartHour int       `json:"workdayStartHour,omitempty" validate:"omitempty,min=0,max=23"`
	WorkdayEndHour   int       `json:"workdayEndHour,omitempty" validate:"omitempty,min=1,max=24,gtfield=WorkdayStartHour"`
}

// EditEventParams patches an event; nil or empty fields are left unchanged.
type EditEventParams struct {
	EventID     string     `json:"eventId" validate:"required"`
	CalendarID  string     `json:"calendarId,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Attendees   []string   `json:"attendees,omitempty" validate:"omitempty,dive,email"`
}

// DeleteEventParams removes an event.
type DeleteEventParams struct {
	EventID         string `json:"eventId" validate:"required"`
	CalendarID      string `json:"calendarId,omitempty"`
	NotifyAttendees bool   `json:"notifyAttendees,omitempty"`
}

// CreateSpreadsheetParams creates a spreadsheet, optionally seeded with rows.
type CreateSpreadsheetParams struct {
	Title   string     `json:"title" validate:"required"`
	Sheets  []string   `json:"sheets,omitempty" validate:"omitempty,dive,required"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

// CreateExpenseTrackerParams creates a preformatted expense sheet.
type CreateExpenseTrackerParams struct {
	Title      string   `json:"title,omitempty"`
	Currency   string   `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Categories []string `json:"categories,omitempty" validate:"omitempty,dive,required"`
}

// ReadSpreadsheetParams reads an A1 range.
type ReadSpreadsheetParams struct {
	SpreadsheetID string `json:"spreadsheetId" validate:"required"`
	Range         string `json:"range" validate:"required"`
}

// UpdateSpreadsheetParams writes or appends values at an A1 range.
type UpdateSpreadsheetParams struct {
	SpreadsheetID string     `json:"spreadsheetId" validate:"required"`
	Range         string     `json:"range" validate:"required"`
	Values        [][]string `json:"values" validate:"required,min=1"`
	Append        bool       `json:"append,omitempty"`
}

// SearchFilesParams filters stored files.
type SearchFilesParams struct {
	Query      string `json:"query,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	FolderID   string `json:"folderId,omitempty"`
	MaxResults int    `json:"maxResults,omitempty" validate:"omitempty,min=1,max=100"`
}

// GetFileParams fetches file metadata.
type GetFileParams struct {
	FileID string `json:"fileId" validate:"required"`
}

// UploadFileParams uploads text content as a new file.
type UploadFileParams struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content" validate:"required"`
	ParentID string `json:"parentId,omitempty"`
}

// CreateFolderParams creates a folder.
type CreateFolderParams struct {
	Name     string `json:"name" validate:"required"`
	ParentID string `json:"parentId,omitempty"`
}

// ShareFileParams grants someone access to a file.
type ShareFileParams struct {
	FileID string `json:"fileId" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Role   string `json:"role,omitempty" validate:"omitempty,oneof=reader commenter writer"`
	Notify bool   `json:"notify,omitempty"`
}

// MoveFileParams moves a file into another folder.
type MoveFileParams struct {
	FileID   string `json:"fileId" validate:"required"`
	FolderID string `json:"folderId" validate:"required"`
}

// ParamInfo describes one parameter for tool discovery.
type ParamInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// describeParams lists the JSON fields of a params struct.
func describeParams(v any) []ParamInfo {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := make([]ParamInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		rules := strings.Split(f.Tag.Get("validate"), ",")
		out = append(out, ParamInfo{
			Name:     name,
			Type:     jsonType(f.Type),
			Required: len(rules) > 0 && rules[0] == "required",
		})
	}
	return out
}

var timeType = reflect.TypeOf(time.Time{})

func jsonType(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "datetime"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Float64:
		return "number"
	case reflect.Slice:
		return "array"
	}
	return "object"
}
