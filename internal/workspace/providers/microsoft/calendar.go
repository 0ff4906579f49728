package microsoft

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

// graphTimeLayout is Graph's dateTimeTimeZone format (no offset).
const graphTimeLayout = "2006-01-02T15:04:05.0000000"

// Calendar implements tools.CalendarCapabilities.
type Calendar struct {
	client *providers.Client
	base   string
}

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (d *dateTimeTimeZone) time() time.Time {
	if d == nil {
		return time.Time{}
	}
	loc := time.UTC
	if d.TimeZone != "" && d.TimeZone != "UTC" {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{graphTimeLayout, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, d.DateTime, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func utcTime(t time.Time) *dateTimeTimeZone {
	return &dateTimeTimeZone{DateTime: t.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
}

type graphAttendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type graphEvent struct {
	ID       string            `json:"id,omitempty"`
	Subject  string            `json:"subject,omitempty"`
	Body     *itemBody         `json:"body,omitempty"`
	Start    *dateTimeTimeZone `json:"start,omitempty"`
	End      *dateTimeTimeZone `json:"end,omitempty"`
	Location *struct {
		DisplayName string `json:"displayName"`
	} `json:"location,omitempty"`
	Attendees []graphAttendee `json:"attendees,omitempty"`
	WebLink   string          `json:"webLink,omitempty"`
}

func (e *graphEvent) toEvent(calendarID string) tools.CalendarEvent {
	out := tools.CalendarEvent{
		ID:         e.ID,
		CalendarID: calendarID,
		Title:      e.Subject,
		Start:      e.Start.time(),
		End:        e.End.time(),
		Link:       e.WebLink,
	}
	if e.Body != nil {
		out.Description = e.Body.Content
	}
	if e.Location != nil {
		out.Location = e.Location.DisplayName
	}
	for _, a := range e.Attendees {
		out.Attendees = append(out.Attendees, a.EmailAddress.Address)
	}
	return out
}

func graphAttendees(emails []string) []graphAttendee {
	out := make([]graphAttendee, 0, len(emails))
	for _, e := range emails {
		out = append(out, graphAttendee{EmailAddress: emailAddress{Address: e}, Type: "required"})
	}
	return out
}

func (e *graphEvent) setLocation(name string) {
	if name == "" {
		return
	}
	e.Location = &struct {
		DisplayName string `json:"displayName"`
	}{DisplayName: name}
}

// eventsRoot is /me or /me/calendars/{id}.
func (c *Calendar) eventsRoot(calendarID string) string {
	if calendarID == "" || calendarID == "primary" {
		return c.base + "/me"
	}
	return c.base + "/me/calendars/" + providers.PathEscape(calendarID)
}

func (c *Calendar) CreateEvent(ctx context.Context, conn *models.WorkspaceConnection, p tools.ScheduleEventParams) (*tools.CalendarEvent, error) {
	body := graphEvent{
		Subject:   p.Title,
		Start:     utcTime(p.Start),
		End:       utcTime(p.End),
		Attendees: graphAttendees(p.Attendees),
	}
	if p.Description != "" {
		b := textBody(p.Description, false)
		body.Body = &b
	}
	body.setLocation(p.Location)

	var out graphEvent
	if err := c.client.DoJSON(ctx, conn, http.MethodPost, c.eventsRoot(p.CalendarID)+"/events", nil, body, &out); err != nil {
		return nil, err
	}
	ev := out.toEvent(p.CalendarID)
	return &ev, nil
}

// ListEvents reads the calendar view so recurring events are expanded.
func (c *Calendar) ListEvents(ctx context.Context, conn *models.WorkspaceConnection, p tools.ReadCalendarParams) ([]tools.CalendarEvent, error) {
	limit := p.MaxResults
	if limit == 0 {
		limit = 100
	}
	q := url.Values{
		"startDateTime": {p.From.UTC().Format(time.RFC3339)},
		"endDateTime":   {p.To.UTC().Format(time.RFC3339)},
		"$orderby":      {"start/dateTime"},
		"$top":          {strconv.Itoa(limit)},
	}
	var out struct {
		Value []graphEvent `json:"value"`
	}
	if err := c.client.DoJSON(ctx, conn, http.MethodGet, c.eventsRoot(p.CalendarID)+"/calendarView", q, nil, &out); err != nil {
		return nil, err
	}
	events := make([]tools.CalendarEvent, 0, len(out.Value))
	for i := range out.Value {
		events = append(events, out.Value[i].toEvent(p.CalendarID))
	}
	return events, nil
}

func (c *Calendar) UpdateEvent(ctx context.Context, conn *models.WorkspaceConnection, p tools.EditEventParams) (*tools.CalendarEvent, error) {
	patch := graphEvent{Subject: p.Title}
	if p.Description != "" {
		b := textBody(p.Description, false)
		patch.Body = &b
	}
	patch.setLocation(p.Location)
	if p.Start != nil {
		patch.Start = utcTime(*p.Start)
	}
	if p.End != nil {
		patch.End = utcTime(*p.End)
	}
	if len(p.Attendees) > 0 {
		patch.Attendees = graphAttendees(p.Attendees)
	}
	var out graphEvent
	if err := c.client.DoJSON(ctx, conn, http.MethodPatch, c.base+"/me/events/"+providers.PathEscape(p.EventID), nil, patch, &out); err != nil {
		return nil, err
	}
	ev := out.toEvent(p.CalendarID)
	return &ev, nil
}

// DeleteEvent cancels with a notice when attendees should be told,
// otherwise deletes silently.
func (c *Calendar) DeleteEvent(ctx context.Context, conn *models.WorkspaceConnection, p tools.DeleteEventParams) error {
	eventURL := c.base + "/me/events/" + providers.PathEscape(p.EventID)
	if p.NotifyAttendees {
		return c.client.DoJSON(ctx, conn, http.MethodPost, eventURL+"/cancel", nil, map[string]string{"comment": ""}, nil)
	}
	return c.client.DoJSON(ctx, conn, http.MethodDelete, eventURL, nil, nil, nil)
}
