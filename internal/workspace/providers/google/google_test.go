package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeGoogle serves canned responses keyed by "METHOD path" and records calls.
type fakeGoogle struct {
	mu     sync.Mutex
	calls  []recorded
	routes map[string]string
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	f.mu.Unlock()

	resp, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resp))
}

func (f *fakeGoogle) find(method, path string) *recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.calls {
		if f.calls[i].Method == method && f.calls[i].Path == path {
			return &f.calls[i]
		}
	}
	return nil
}

func setup(t *testing.T, routes map[string]string) (*fakeGoogle, tools.ProviderCapabilities) {
	t.Helper()
	fake := &fakeGoogle{routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	caps := Capabilities(EndpointsAt(srv.URL), 5*time.Second, providers.WithHTTPClient(srv.Client()))
	return fake, caps
}

func conn() *models.WorkspaceConnection {
	return &models.WorkspaceConnection{
		ID: "c1", Provider: models.ProviderGoogleWorkspace, Email: "me@biz.com",
		AccessToken: "tok", Status: models.ConnectionStatusActive,
	}
}

func decodeRaw(t *testing.T, body string) string {
	t.Helper()
	var payload struct {
		Raw string `json:"raw"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("send body: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload.Raw)
	if err != nil {
		t.Fatalf("raw decode: %v", err)
	}
	return string(raw)
}

func TestGmail_SendEmailBuildsMessage(t *testing.T) {
	fake, caps := setup(t, map[string]string{
		"POST /gmail/v1/users/me/messages/send": `{"id":"m1","threadId":"t1"}`,
	})

	sent, err := caps.Email.SendEmail(context.Background(), conn(), tools.SendEmailParams{
		To: []string{"bob@example.com"}, Cc: []string{"carol@example.com"},
		Subject: "Quarterly numbers", Body: "See attached.",
	})
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if sent.ID != "m1" || sent.ThreadID != "t1" {
		t.Fatalf("sent = %+v", sent)
	}

	msg := decodeRaw(t, fake.find(http.MethodPost, "/gmail/v1/users/me/messages/send").Body)
	for _, want := range []string{"From: me@biz.com", "To: bob@example.com", "Cc: carol@example.com", "Subject: Quarterly numbers", "See attached."} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestGmail_ReplyThreadsAndPrefixesSubject(t *testing.T) {
	fake, caps := setup(t, map[string]string{
		"GET /gmail/v1/users/me/messages/orig": `{"id":"orig","threadId":"t9","payload":{"headers":[
			{"name":"From","value":"bob@example.com"},
			{"name":"Subject","value":"Lunch?"},
			{"name":"Message-ID","value":"<abc@mail>"}]}}`,
		"POST /gmail/v1/users/me/messages/send": `{"id":"m2","threadId":"t9"}`,
	})

	if _, err := caps.Email.ReplyToEmail(context.Background(), conn(), tools.ReplyToEmailParams{MessageID: "orig", Body: "Sure"}); err != nil {
		t.Fatalf("ReplyToEmail: %v", err)
	}
	call := fake.find(http.MethodPost, "/gmail/v1/users/me/messages/send")
	if !strings.Contains(call.Body, `"threadId":"t9"`) {
		t.Fatalf("reply not threaded: %s", call.Body)
	}
	msg := decodeRaw(t, call.Body)
	if !strings.Contains(msg, "Subject: Re: Lunch?") || !strings.Contains(msg, "In-Reply-To: <abc@mail>") {
		t.Fatalf("unexpected reply:\n%s", msg)
	}
}

func TestGmail_SearchEmailsFetchesMetadata(t *testing.T) {
	fake, caps := setup(t, map[string]string{
		"GET /gmail/v1/users/me/messages": `{"messages":[{"id":"a"}]}`,
		"GET /gmail/v1/users/me/messages/a": `{"id":"a","threadId":"ta","labelIds":["UNREAD","IMPORTANT"],
			"internalDate":"1700000000000","snippet":"hello",
			"payload":{"headers":[{"name":"From","value":"x@y.com"},{"name":"Subject","value":"Hi"}]}}`,
	})
	since := time.Unix(1699990000, 0)

	got, err := caps.Email.SearchEmails(context.Background(), conn(), tools.SearchEmailsParams{UnreadOnly: true, Since: &since})
	if err != nil {
		t.Fatalf("SearchEmails: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages", len(got))
	}
	m := got[0]
	if m.From != "x@y.com" || m.Subject != "Hi" || !m.Unread || !m.Important {
		t.Fatalf("message = %+v", m)
	}
	if !m.Date.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("date = %v", m.Date)
	}
	q := fake.find(http.MethodGet, "/gmail/v1/users/me/messages").Query
	if !strings.Contains(q, "is%3Aunread") || !strings.Contains(q, "after%3A1699990000") {
		t.Fatalf("query = %s", q)
	}
}

func TestCalendar_ListEventsDefaultsToPrimary(t *testing.T) {
	fake, caps := setup(t, map[string]string{
		"GET /calendar/v3/calendars/primary/events": `{"items":[
			{"id":"e1","summary":"Standup","start":{"dateTime":"2026-10-16T09:00:00Z"},"end":{"dateTime":"2026-10-16T09:15:00Z"},
			 "attendees":[{"email":"a@biz.com"}]},
			{"id":"e2","summary":"Holiday","start":{"date":"2026-10-17"},"end":{"date":"2026-10-18"}}]}`,
	})
	from := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	events, err := caps.Calendar.ListEvents(context.Background(), conn(), tools.ReadCalendarParams{From: from, To: from.AddDate(0, 0, 7)})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Title != "Standup" || events[0].End.Sub(events[0].Start) != 15*time.Minute || events[0].CalendarID != "primary" {
		t.Fatalf("event = %+v", events[0])
	}
	if !events[1].Start.Equal(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("all-day start = %v", events[1].Start)
	}
	if q := fake.find(http.MethodGet, "/calendar/v3/calendars/primary/events").Query; !strings.Contains(q, "singleEvents=true") {
		t.Fatalf("query = %s", q)
	}
}

func TestSheets_CreateSeedsHeaders(t *testing.T) {
	fake, caps := setup(t, map[string]string{
		"POST /v4/spreadsheets": `{"spreadsheetId":"s1","spreadsheetUrl":"https://sheets/s1",
			"properties":{"title":"Budget"},"sheets":[{"properties":{"title":"Expenses"}}]}`,
		"PUT /v4/spreadsheets/s1/values/'Expenses'!A1": `{"updatedRange":"Expenses!A1:B2","updatedCells":4}`,
	})

	sheet, err := caps.Sheets.CreateSpreadsheet(context.Background(), conn(), tools.CreateSpreadsheetParams{
		Title: "Budget", Sheets: []string{"Expenses"},
		Headers: []string{"Date", "Amount"}, Rows: [][]string{{"2026-10-01", "12.50"}},
	})
	if err != nil {
		t.Fatalf("CreateSpreadsheet: %v", err)
	}
	if sheet.ID != "s1" || sheet.URL != "https://sheets/s1" || len(sheet.Sheets) != 1 {
		t.Fatalf("sheet = %+v", sheet)
	}
	put := fake.find(http.MethodPut, "/v4/spreadsheets/s1/values/'Expenses'!A1")
	if put == nil {
		t.Fatalf("seed call missing: %+v", fake.calls)
	}
	if !strings.Contains(put.Body, `["Date","Amount"]`) || !strings.Contains(put.Query, "valueInputOption=USER_ENTERED") {
		t.Fatalf("seed = %+v", put)
	}
}

func TestDrive_UploadSendsMultipartRelated(t *testing.T) {
	var gotType, gotMeta, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/drive/v3/files" || r.URL.Query().Get("uploadType") != "multipart" {
			t.Errorf("unexpected %s %s", r.Method, r.URL)
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("content type: %v", err)
		}
		gotType = mediaType
		mr := multipart.NewReader(r.Body, params["boundary"])
		if p, err := mr.NextPart(); err == nil {
			b, _ := io.ReadAll(p)
			gotMeta = string(b)
		}
		if p, err := mr.NextPart(); err == nil {
			b, _ := io.ReadAll(p)
			gotContent = string(b)
		}
		_, _ = w.Write([]byte(`{"id":"f1","name":"notes.txt","mimeType":"text/plain","size":"5","parents":["root"]}`))
	}))
	defer srv.Close()
	caps := Capabilities(EndpointsAt(srv.URL), 5*time.Second, providers.WithHTTPClient(srv.Client()))

	f, err := caps.Drive.UploadFile(context.Background(), conn(), tools.UploadFileParams{Name: "notes.txt", Content: "hello"})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotType != "multipart/related" || !strings.Contains(gotMeta, `"name":"notes.txt"`) || gotContent != "hello" {
		t.Fatalf("type=%q meta=%q content=%q", gotType, gotMeta, gotContent)
	}
	if f.ID != "f1" || f.Size != 5 || f.Folder {
		t.Fatalf("file = %+v", f)
	}
}

func TestDrive_MoveFileSwapsParents(t *testing.T) {
	fake, caps := setup(t, map[string]string{
		"GET /drive/v3/files/f1":   `{"id":"f1","name":"a","parents":["old1","old2"]}`,
		"PATCH /drive/v3/files/f1": `{"id":"f1","name":"a","parents":["dest"]}`,
	})

	f, err := caps.Drive.MoveFile(context.Background(), conn(), tools.MoveFileParams{FileID: "f1", FolderID: "dest"})
	if err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if len(f.ParentIDs) != 1 || f.ParentIDs[0] != "dest" {
		t.Fatalf("parents = %v", f.ParentIDs)
	}
	q := fake.find(http.MethodPatch, "/drive/v3/files/f1").Query
	if !strings.Contains(q, "addParents=dest") || !strings.Contains(q, "removeParents=old1%2Cold2") {
		t.Fatalf("query = %s", q)
	}
}

func TestDriveQuery_EscapesQuotes(t *testing.T) {
	got := driveQuery(tools.SearchFilesParams{Query: "bob's", FolderID: "root"})
	want := `trashed = false and (name contains 'bob\'s' or fullText contains 'bob\'s') and 'root' in parents`
	if got != want {
		t.Fatalf("driveQuery = %q, want %q", got, want)
	}
}

func TestProviderErrorsSurfaceAsWorkspaceErrors(t *testing.T) {
	_, caps := setup(t, map[string]string{})

	_, err := caps.Drive.GetFile(context.Background(), conn(), "missing")
	if kind, ok := workspace.KindOf(err); !ok || kind != workspace.ErrorProviderAPIFailure {
		t.Fatalf("expected PROVIDER_API_FAILURE, got %v", err)
	}
}
