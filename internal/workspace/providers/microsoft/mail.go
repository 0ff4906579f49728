package microsoft

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

const messageFields = "id,conversationId,from,toRecipients,ccRecipients,subject,bodyPreview,receivedDateTime,isRead,importance,flag"

// Mail implements tools.EmailCapabilities.
type Mail struct {
	client *providers.Client
	base   string
}

type graphMessage struct {
	ID               string      `json:"id"`
	ConversationID   string      `json:"conversationId"`
	From             *recipient  `json:"from"`
	ToRecipients     []recipient `json:"toRecipients"`
	CcRecipients     []recipient `json:"ccRecipients"`
	Subject          string      `json:"subject"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             *itemBody   `json:"body"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	IsRead           bool        `json:"isRead"`
	Importance       string      `json:"importance"`
	Flag             struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
	Categories []string `json:"categories"`
}

func (m *graphMessage) toEmail() tools.EmailMessage {
	out := tools.EmailMessage{
		ID:        m.ID,
		ThreadID:  m.ConversationID,
		To:        addresses(m.ToRecipients),
		Cc:        addresses(m.CcRecipients),
		Subject:   m.Subject,
		Snippet:   m.BodyPreview,
		Unread:    !m.IsRead,
		Important: strings.EqualFold(m.Importance, "high") || m.Flag.FlagStatus == "flagged",
		Labels:    m.Categories,
	}
	if m.From != nil {
		out.From = m.From.EmailAddress.Address
	}
	if m.Body != nil {
		out.Body = m.Body.Content
	}
	if t, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
		out.Date = t
	}
	return out
}

func (m *Mail) messageURL(id string) string {
	return m.base + "/me/messages/" + providers.PathEscape(id)
}

// sendMail returns no id; Graph answers 202 Accepted with an empty body.
func (m *Mail) SendEmail(ctx context.Context, conn *models.WorkspaceConnection, p tools.SendEmailParams) (*tools.SentMessage, error) {
	payload := map[string]any{
		"message": map[string]any{
			"subject":       p.Subject,
			"body":          textBody(p.Body, p.HTML),
			"toRecipients":  recipients(p.To),
			"ccRecipients":  recipients(p.Cc),
			"bccRecipients": recipients(p.Bcc),
		},
		"saveToSentItems": true,
	}
	if err := m.client.DoJSON(ctx, conn, http.MethodPost, m.base+"/me/sendMail", nil, payload, nil); err != nil {
		return nil, err
	}
	return &tools.SentMessage{}, nil
}

func (m *Mail) ReplyToEmail(ctx context.Context, conn *models.WorkspaceConnection, p tools.ReplyToEmailParams) (*tools.SentMessage, error) {
	action := "/reply"
	if p.ReplyAll {
		action = "/replyAll"
	}
	if err := m.client.DoJSON(ctx, conn, http.MethodPost, m.messageURL(p.MessageID)+action, nil,
		map[string]string{"comment": p.Body}, nil); err != nil {
		return nil, err
	}
	return &tools.SentMessage{ID: p.MessageID}, nil
}

func (m *Mail) ForwardEmail(ctx context.Context, conn *models.WorkspaceConnection, p tools.ForwardEmailParams) (*tools.SentMessage, error) {
	payload := map[string]any{"comment": p.Note, "toRecipients": recipients(p.To)}
	if err := m.client.DoJSON(ctx, conn, http.MethodPost, m.messageURL(p.MessageID)+"/forward", nil, payload, nil); err != nil {
		return nil, err
	}
	return &tools.SentMessage{ID: p.MessageID}, nil
}

func (m *Mail) GetEmail(ctx context.Context, conn *models.WorkspaceConnection, messageID string) (*tools.EmailMessage, error) {
	var msg graphMessage
	q := url.Values{"$select": {messageFields + ",body"}}
	if err := m.client.DoJSON(ctx, conn, http.MethodGet, m.messageURL(messageID), q, nil, &msg); err != nil {
		return nil, err
	}
	out := msg.toEmail()
	return &out, nil
}

// SearchEmails uses $search for free text; Graph rejects $search combined
// with $filter or $orderby, so structured filters are applied locally then.
func (m *Mail) SearchEmails(ctx context.Context, conn *models.WorkspaceConnection, p tools.SearchEmailsParams) ([]tools.EmailMessage, error) {
	limit := p.MaxResults
	if limit == 0 {
		limit = 20
	}
	q := url.Values{"$top": {strconv.Itoa(limit)}, "$select": {messageFields}}
	text := strings.TrimSpace(p.Query)
	if text != "" {
		q.Set("$search", strconv.Quote(text))
	} else {
		if f := graphFilter(p); f != "" {
			q.Set("$filter", f)
		}
		q.Set("$orderby", "receivedDateTime desc")
	}

	var out struct {
		Value []graphMessage `json:"value"`
	}
	if err := m.client.DoJSON(ctx, conn, http.MethodGet, m.base+"/me/messages", q, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]tools.EmailMessage, 0, len(out.Value))
	for i := range out.Value {
		e := out.Value[i].toEmail()
		if text != "" && !matchesLocally(e, p) {
			continue
		}
		msgs = append(msgs, e)
	}
	return msgs, nil
}

func graphFilter(p tools.SearchEmailsParams) string {
	var parts []string
	if p.From != "" {
		parts = append(parts, fmt.Sprintf("from/emailAddress/address eq '%s'", strings.ReplaceAll(p.From, "'", "''")))
	}
	if p.UnreadOnly {
		parts = append(parts, "isRead eq false")
	}
	if p.Since != nil {
		parts = append(parts, "receivedDateTime ge "+p.Since.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, " and ")
}

func matchesLocally(e tools.EmailMessage, p tools.SearchEmailsParams) bool {
	if p.From != "" && !strings.EqualFold(e.From, p.From) {
		return false
	}
	if p.UnreadOnly && !e.Unread {
		return false
	}
	if p.Since != nil && e.Date.Before(*p.Since) {
		return false
	}
	return true
}
