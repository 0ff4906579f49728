package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// Gmail implements tools.EmailCapabilities.
type Gmail struct {
	client *providers.Client
	base   string
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailPart struct {
	MimeType string        `json:"mimeType"`
	Headers  []gmailHeader `json:"headers"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

type gmailMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	LabelIDs     []string  `json:"labelIds"`
	Snippet      string    `json:"snippet"`
	InternalDate string    `json:"internalDate"`
	Payload      gmailPart `json:"payload"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (m *gmailMessage) toEmail() tools.EmailMessage {
	out := tools.EmailMessage{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		From:     m.header("From"),
		To:       splitAddresses(m.header("To")),
		Cc:       splitAddresses(m.header("Cc")),
		Subject:  m.header("Subject"),
		Snippet:  m.Snippet,
		Body:     plainText(m.Payload),
		Labels:   m.LabelIDs,
	}
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil {
		out.Date = time.UnixMilli(ms).UTC()
	}
	for _, l := range m.LabelIDs {
		switch l {
		case "UNREAD":
			out.Unread = true
		case "IMPORTANT", "STARRED":
			out.Important = true
		}
	}
	return out
}

// plainText returns the first text/plain body found depth-first.
func plainText(p gmailPart) string {
	if strings.HasPrefix(p.MimeType, "text/plain") && p.Body.Data != "" {
		if raw, err := base64.URLEncoding.DecodeString(padBase64(p.Body.Data)); err == nil {
			return string(raw)
		}
	}
	for _, child := range p.Parts {
		if s := plainText(child); s != "" {
			return s
		}
	}
	return ""
}

func padBase64(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}

func splitAddresses(v string) []string {
	var out []string
	for _, a := range strings.Split(v, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

type rfc822 struct {
	from, subject, body string
	to, cc, bcc         []string
	html                bool
	inReplyTo           string
	references          string
}

func (m rfc822) encode() string {
	var b strings.Builder
	if m.from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", m.from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.to, ", "))
	if len(m.cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(m.cc, ", "))
	}
	if len(m.bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\r\n", strings.Join(m.bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.subject))
	if m.inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", m.inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", strings.TrimSpace(m.references+" "+m.inReplyTo))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	if m.html {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(m.body)
	return base64.RawURLEncoding.EncodeToString([]byte(b.String()))
}

func (g *Gmail) send(ctx context.Context, conn *models.WorkspaceConnection, raw, threadID string) (*tools.SentMessage, error) {
	payload := map[string]string{"raw": raw}
	if threadID != "" {
		payload["threadId"] = threadID
	}
	var out struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	if err := g.client.DoJSON(ctx, conn, http.MethodPost, g.base+"/messages/send", nil, payload, &out); err != nil {
		return nil, err
	}
	return &tools.SentMessage{ID: out.ID, ThreadID: out.ThreadID}, nil
}

func (g *Gmail) message(ctx context.Context, conn *models.WorkspaceConnection, id, format string) (*gmailMessage, error) {
	var m gmailMessage
	q := url.Values{"format": {format}}
	if err := g.client.DoJSON(ctx, conn, http.MethodGet, g.base+"/messages/"+providers.PathEscape(id), q, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (g *Gmail) SendEmail(ctx context.Context, conn *models.WorkspaceConnection, p tools.SendEmailParams) (*tools.SentMessage, error) {
	raw := rfc822{
		from: conn.Email, to: p.To, cc: p.Cc, bcc: p.Bcc,
		subject: p.Subject, body: p.Body, html: p.HTML,
	}.encode()
	return g.send(ctx, conn, raw, "")
}

func (g *Gmail) ReplyToEmail(ctx context.Context, conn *models.WorkspaceConnection, p tools.ReplyToEmailParams) (*tools.SentMessage, error) {
	orig, err := g.message(ctx, conn, p.MessageID, "metadata")
	if err != nil {
		return nil, err
	}
	to := []string{orig.header("Reply-To")}
	if to[0] == "" {
		to[0] = orig.header("From")
	}
	var cc []string
	if p.ReplyAll {
		for _, a := range append(splitAddresses(orig.header("To")), splitAddresses(orig.header("Cc"))...) {
			if !strings.Contains(strings.ToLower(a), strings.ToLower(conn.Email)) {
				cc = append(cc, a)
			}
		}
	}
	subject := orig.header("Subject")
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	raw := rfc822{
		from: conn.Email, to: to, cc: cc, subject: subject, body: p.Body,
		inReplyTo: orig.header("Message-ID"), references: orig.header("References"),
	}.encode()
	return g.send(ctx, conn, raw, orig.ThreadID)
}

func (g *Gmail) ForwardEmail(ctx context.Context, conn *models.WorkspaceConnection, p tools.ForwardEmailParams) (*tools.SentMessage, error) {
	orig, err := g.message(ctx, conn, p.MessageID, "full")
	if err != nil {
		return nil, err
	}
	email := orig.toEmail()
	body := email.Body
	if body == "" {
		body = email.Snippet
	}
	var b strings.Builder
	if p.Note != "" {
		b.WriteString(p.Note + "\r\n\r\n")
	}
	fmt.Fprintf(&b, "---------- Forwarded message ---------\r\nFrom: %s\r\nDate: %s\r\nSubject: %s\r\nTo: %s\r\n\r\n%s",
		email.From, orig.header("Date"), email.Subject, strings.Join(email.To, ", "), body)

	raw := rfc822{from: conn.Email, to: p.To, subject: "Fwd: " + email.Subject, body: b.String()}.encode()
	return g.send(ctx, conn, raw, "")
}

func (g *Gmail) GetEmail(ctx context.Context, conn *models.WorkspaceConnection, messageID string) (*tools.EmailMessage, error) {
	m, err := g.message(ctx, conn, messageID, "full")
	if err != nil {
		return nil, err
	}
	email := m.toEmail()
	return &email, nil
}

// SearchEmails lists matching ids, then fetches each message's metadata.
func (g *Gmail) SearchEmails(ctx context.Context, conn *models.WorkspaceConnection, p tools.SearchEmailsParams) ([]tools.EmailMessage, error) {
	q := url.Values{}
	if s := gmailQuery(p); s != "" {
		q.Set("q", s)
	}
	limit := p.MaxResults
	if limit == 0 {
		limit = 20
	}
	q.Set("maxResults", strconv.Itoa(limit))

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.client.DoJSON(ctx, conn, http.MethodGet, g.base+"/messages", q, nil, &list); err != nil {
		return nil, err
	}

	out := make([]tools.EmailMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		m, err := g.message(ctx, conn, ref.ID, "metadata")
		if err != nil {
			return nil, err
		}
		out = append(out, m.toEmail())
	}
	return out, nil
}

func gmailQuery(p tools.SearchEmailsParams) string {
	var parts []string
	if s := strings.TrimSpace(p.Query); s != "" {
		parts = append(parts, s)
	}
	if p.From != "" {
		parts = append(parts, "from:"+p.From)
	}
	if p.UnreadOnly {
		parts = append(parts, "is:unread")
	}
	if p.Since != nil {
		parts = append(parts, "after:"+strconv.FormatInt(p.Since.Unix(), 10))
	}
	return strings.Join(parts, " ")
}
