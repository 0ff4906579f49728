package workspace

import (
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// CommandType names an operation requested by the NLP parser or an API caller.
type CommandType string

const (
	CommandSendEmail            CommandType = "SEND_EMAIL"
	CommandReplyEmail           CommandType = "REPLY_EMAIL"
	CommandForwardEmail         CommandType = "FORWARD_EMAIL"
	CommandReadEmail            CommandType = "READ_EMAIL"
	CommandSearchEmail          CommandType = "SEARCH_EMAIL"
	CommandAnalyzeEmails        CommandType = "ANALYZE_EMAILS"
	CommandFindImportantEmails  CommandType = "FIND_IMPORTANT_EMAILS"
	CommandGetActionItems       CommandType = "GET_ACTION_ITEMS"
	CommandScheduleMeeting      CommandType = "SCHEDULE_MEETING"
	CommandCheckCalendar        CommandType = "CHECK_CALENDAR"
	CommandFindAvailability     CommandType = "FIND_AVAILABILITY"
	CommandEditEvent            CommandType = "EDIT_EVENT"
	CommandCancelEvent          CommandType = "CANCEL_EVENT"
	CommandCalendarSummary      CommandType = "CALENDAR_SUMMARY"
	CommandCreateSpreadsheet    CommandType = "CREATE_SPREADSHEET"
	CommandReadSpreadsheet      CommandType = "READ_SPREADSHEET"
	CommandUpdateSpreadsheet    CommandType = "UPDATE_SPREADSHEET"
	CommandCreateExpenseTracker CommandType = "CREATE_EXPENSE_TRACKER"
	CommandSearchFiles          CommandType = "SEARCH_FILES"
	CommandGetFile              CommandType = "GET_FILE"
	CommandUploadFile           CommandType = "UPLOAD_FILE"
	CommandCreateFolder         CommandType = "CREATE_FOLDER"
	CommandShareFile            CommandType = "SHARE_FILE"
	CommandMoveFile             CommandType = "MOVE_FILE"
)

type commandSpec struct {
	capability models.Capability
	tool       string
}

// commandTable maps each command type to the capability it needs and the
// tool that executes it.
var commandTable = map[CommandType]commandSpec{
	CommandSendEmail:            {models.CapabilityEmailSend, "send_email"},
	CommandReplyEmail:           {models.CapabilityEmailSend, "reply_to_email"},
	CommandForwardEmail:         {models.CapabilityEmailSend, "forward_email"},
	CommandReadEmail:            {models.CapabilityEmailRead, "read_specific_email"},
	CommandSearchEmail:          {models.CapabilityEmailRead, "search_emails"},
	CommandAnalyzeEmails:        {models.CapabilityEmailRead, "get_email_analytics"},
	CommandFindImportantEmails:  {models.CapabilityEmailRead, "find_important_emails"},
	CommandGetActionItems:       {models.CapabilityEmailRead, "get_action_items"},
	CommandScheduleMeeting:      {models.CapabilityCalendarCreate, "schedule_event"},
	CommandCheckCalendar:        {models.CapabilityCalendarRead, "read_calendar"},
	CommandFindAvailability:     {models.CapabilityCalendarRead, "find_availability"},
	CommandEditEvent:            {models.CapabilityCalendarEdit, "edit_event"},
	CommandCancelEvent:          {models.CapabilityCalendarDelete, "delete_event"},
	CommandCalendarSummary:      {models.CapabilityCalendarRead, "get_calendar_summary"},
	CommandCreateSpreadsheet:    {models.CapabilitySpreadsheetCreate, "create_spreadsheet"},
	CommandReadSpreadsheet:      {models.CapabilitySpreadsheetRead, "read_spreadsheet"},
	CommandUpdateSpreadsheet:    {models.CapabilitySpreadsheetEdit, "update_spreadsheet"},
	CommandCreateExpenseTracker: {models.CapabilitySpreadsheetCreate, "create_expense_tracker"},
	CommandSearchFiles:          {models.CapabilityDriveRead, "search_files"},
	CommandGetFile:              {models.CapabilityDriveRead, "get_file"},
	CommandUploadFile:           {models.CapabilityDriveUpload, "upload_file"},
	CommandCreateFolder:         {models.CapabilityDriveManage, "create_folder"},
	CommandShareFile:            {models.CapabilityDriveManage, "share_file"},
	CommandMoveFile:             {models.CapabilityDriveManage, "move_file"},
}

// CommandTypes returns every known command type.
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandTable))
	for t := range commandTable {
		out = append(out, t)
	}
	return out
}

// CapabilityForCommand returns the capability a command type requires.
func CapabilityForCommand(t CommandType) (models.Capability, bool) {
	entry, ok := commandTable[t]
	return entry.capability, ok
}

// ToolForCommand returns the name of the tool that executes a command type.
func ToolForCommand(t CommandType) (string, bool) {
	entry, ok := commandTable[t]
	return entry.tool, ok
}

// IsEmailSendCommand reports whether t sends mail on someone's behalf and
// therefore may carry a sender preference.
func IsEmailSendCommand(t CommandType) bool {
	switch t {
	case CommandSendEmail, CommandReplyEmail, CommandForwardEmail:
		return true
	}
	return false
}

// PreferenceType says how a sender hint should be matched.
type PreferenceType string

const (
	PreferenceSpecificEmail PreferenceType = "specific_email"
	PreferenceProvider      PreferenceType = "provider"
	PreferenceCategory      PreferenceType = "category"
	PreferenceDomain        PreferenceType = "domain"
)

// SenderPreference is an NLP-extracted hint about which account to send from.
type SenderPreference struct {
	Type         PreferenceType `json:"type" validate:"required,oneof=specific_email provider category domain"`
	Value        string         `json:"value" validate:"required"`
	Confidence   float64        `json:"confidence" validate:"gte=0,lte=1"`
	OriginalText string         `json:"originalText,omitempty"`
}

// Command is a typed request produced by the NLP parser.
type Command struct {
	Type             CommandType       `json:"type" validate:"required"`
	Entities         map[string]any    `json:"entities,omitempty"`
	Confidence       float64           `json:"confidence" validate:"gte=0,lte=1"`
	ScheduledTime    *time.Time        `json:"scheduledTime,omitempty"`
	OriginalText     string            `json:"originalText,omitempty"`
	SenderPreference *SenderPreference `json:"senderPreference,omitempty"`
}

// RecipientEmails collects addresses found in the to/cc/bcc entities.
func (c *Command) RecipientEmails() []string {
	var out []string
	for _, key := range []string{"to", "cc", "bcc"} {
		switch v := c.Entities[key].(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []string:
			out = append(out, v...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
