package google

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// Calendar implements tools.CalendarCapabilities.
type Calendar struct {
	client *providers.Client
	base   string
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (t eventTime) time() time.Time {
	if t.DateTime != "" {
		if v, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return v
		}
	}
	if t.Date != "" {
		if v, err := time.Parse("2006-01-02", t.Date); err == nil {
			return v
		}
	}
	return time.Time{}
}

type attendee struct {
	Email string `json:"email"`
}

type calendarEvent struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
	Attendees   []attendee `json:"attendees,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
}

func (e *calendarEvent) toEvent(calendarID string) tools.CalendarEvent {
	out := tools.CalendarEvent{
		ID:          e.ID,
		CalendarID:  calendarID,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Link:        e.HTMLLink,
	}
	if e.Start != nil {
		out.Start = e.Start.time()
	}
	if e.End != nil {
		out.End = e.End.time()
	}
	for _, a := range e.Attendees {
		out.Attendees = append(out.Attendees, a.Email)
	}
	return out
}

func timed(t time.Time, tz string) *eventTime {
	return &eventTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

func attendees(emails []string) []attendee {
	out := make([]attendee, 0, len(emails))
	for _, e := range emails {
		out = append(out, attendee{Email: e})
	}
	return out
}

func calendarID(id string) string {
	if id == "" {
		return "primary"
	}
	return id
}

func (c *Calendar) eventsURL(cal string) string {
	return c.base + "/calendars/" + providers.PathEscape(calendarID(cal)) + "/events"
}

func (c *Calendar) CreateEvent(ctx context.Context, conn *models.WorkspaceConnection, p tools.ScheduleEventParams) (*tools.CalendarEvent, error) {
	body := calendarEvent{
		Summary:     p.Title,
		Description: p.Description,
		Location:    p.Location,
		Start:       timed(p.Start, p.TimeZone),
		End:         timed(p.End, p.TimeZone),
		Attendees:   attendees(p.Attendees),
	}
	var out calendarEvent
	q := url.Values{"sendUpdates": {"all"}}
	if err := c.client.DoJSON(ctx, conn, http.MethodPost, c.eventsURL(p.CalendarID), q, body, &out); err != nil {
		return nil, err
	}
	ev := out.toEvent(calendarID(p.CalendarID))
	return &ev, nil
}

func (c *Calendar) ListEvents(ctx context.Context, conn *models.WorkspaceConnection, p tools.ReadCalendarParams) ([]tools.CalendarEvent, error) {
	limit := p.MaxResults
	if limit == 0 {
		limit = 100
	}
	q := url.Values{
		"timeMin":      {p.From.Format(time.RFC3339)},
		"timeMax":      {p.To.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {strconv.Itoa(limit)},
	}
	var out struct {
		Items []calendarEvent `json:"items"`
	}
	if err := c.client.DoJSON(ctx, conn, http.MethodGet, c.eventsURL(p.CalendarID), q, nil, &out); err != nil {
		return nil, err
	}
	events := make([]tools.CalendarEvent, 0, len(out.Items))
	for i := range out.Items {
		events = append(events, out.Items[i].toEvent(calendarID(p.CalendarID)))
	}
	return events, nil
}

func (c *Calendar) UpdateEvent(ctx context.Context, conn *models.WorkspaceConnection, p tools.EditEventParams) (*tools.CalendarEvent, error) {
	patch := calendarEvent{Summary: p.Title, Description: p.Description, Location: p.Location}
	if p.Start != nil {
		patch.Start = timed(*p.Start, "")
	}
	if p.End != nil {
		patch.End = timed(*p.End, "")
	}
	if len(p.Attendees) > 0 {
		patch.Attendees = attendees(p.Attendees)
	}
	var out calendarEvent
	q := url.Values{"sendUpdates": {"all"}}
	if err := c.client.DoJSON(ctx, conn, http.MethodPatch, c.eventsURL(p.CalendarID)+"/"+providers.PathEscape(p.EventID), q, patch, &out); err != nil {
		return nil, err
	}
	ev := out.toEvent(calendarID(p.CalendarID))
	return &ev, nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, conn *models.WorkspaceConnection, p tools.DeleteEventParams) error {
	updates := "none"
	if p.NotifyAttendees {
		updates = "all"
	}
	q := url.Values{"sendUpdates": {updates}}
	return c.client.DoJSON(ctx, conn, http.MethodDelete, c.eventsURL(p.CalendarID)+"/"+providers.PathEscape(p.EventID), q, nil, nil)
}
