package tools

import (
	"sort"
	"strings"
	"time"
)

// SenderCount is one row of the top-senders table.
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// EmailAnalytics summarizes a window of mail.
type EmailAnalytics struct {
	Total      int            `json:"total"`
	Unread     int            `json:"unread"`
	Important  int            `json:"important"`
	TopSenders []SenderCount  `json:"topSenders"`
	PerDay     map[string]int `json:"perDay"`
	Since      time.Time      `json:"since"`
}

const topSenderLimit = 5

// AnalyzeEmails counts messages by state, sender and day.
func AnalyzeEmails(msgs []EmailMessage, since time.Time) EmailAnalytics {
	out := EmailAnalytics{Total: len(msgs), PerDay: map[string]int{}, Since: since}
	bySender := map[string]int{}
	for _, m := range msgs {
		if m.Unread {
			out.Unread++
		}
		if isImportant(m) {
			out.Important++
		}
		bySender[normalizeSender(m.From)]++
		if !m.Date.IsZero() {
			out.PerDay[m.Date.Format("2006-01-02")]++
		}
	}
	for sender, n := range bySender {
		out.TopSenders = append(out.TopSenders, SenderCount{Sender: sender, Count: n})
	}
	sort.Slice(out.TopSenders, func(i, j int) bool {
		if out.TopSenders[i].Count != out.TopSenders[j].Count {
			return out.TopSenders[i].Count > out.TopSenders[j].Count
		}
		return out.TopSenders[i].Sender < out.TopSenders[j].Sender
	})
	if len(out.TopSenders) > topSenderLimit {
		out.TopSenders = out.TopSenders[:topSenderLimit]
	}
	return out
}

// normalizeSender reduces `Name <addr>` to addr.
func normalizeSender(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return strings.ToLower(from[i+1 : i+j])
		}
	}
	return strings.ToLower(from)
}

var urgencyWords = []string{"urgent", "asap", "important", "action required", "immediately", "deadline", "time sensitive"}

func isImportant(m EmailMessage) bool {
	if m.Important {
		return true
	}
	return containsWord(m.Subject, urgencyWords)
}

func containsWord(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// FindImportantEmails returns flagged or urgent-looking messages, newest first.
func FindImportantEmails(msgs []EmailMessage) []EmailMessage {
	var out []EmailMessage
	for _, m := range msgs {
		if isImportant(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// ActionItem is a sentence that asks the reader to do something.
type ActionItem struct {
	MessageID string    `json:"messageId"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	Date      time.Time `json:"date"`
}

var actionCues = []string{
	"please", "can you", "could you", "would you", "need you to",
	"action required", "follow up", "let me know", "deadline", "due by", "todo", "to-do",
}

// ExtractActionItems scans message bodies (or snippets) sentence by sentence.
func ExtractActionItems(msgs []EmailMessage) []ActionItem {
	var out []ActionItem
	for _, m := range msgs {
		text := m.Body
		if text == "" {
			text = m.Snippet
		}
		for _, sentence := range splitSentences(text) {
			if containsWord(sentence, actionCues) {
				out = append(out, ActionItem{
					MessageID: m.ID,
					From:      m.From,
					Subject:   m.Subject,
					Text:      sentence,
					Date:      m.Date,
				})
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TimeSlot is a half-open interval [Start, End).
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FindFreeSlots returns gaps of at least duration between busy events inside
// [from, to), restricted to working hours in from's location. A workday of
// 0..0 means the whole day.
func FindFreeSlots(events []CalendarEvent, from, to time.Time, duration time.Duration, workdayStart, workdayEnd int) []TimeSlot {
	busy := make([]TimeSlot, 0, len(events))
	for _, e := range events {
		if e.End.After(from) && e.Start.Before(to) {
			busy = append(busy, TimeSlot{Start: e.Start, End: e.End})
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	if workdayEnd <= workdayStart {
		workdayStart, workdayEnd = 0, 24
	}

	var out []TimeSlot
	for day := startOfDay(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		windowStart := maxTime(from, day.Add(time.Duration(workdayStart)*time.Hour))
		windowEnd := minTime(to, day.Add(time.Duration(workdayEnd)*time.Hour))
		if !windowEnd.After(windowStart) {
			continue
		}
		cursor := windowStart
		for _, b := range busy {
			if !b.End.After(cursor) || !b.Start.Before(windowEnd) {
				continue
			}
			if b.Start.Sub(cursor) >= duration {
				out = append(out, TimeSlot{Start: cursor, End: b.Start})
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
		}
		if windowEnd.Sub(cursor) >= duration {
			out = append(out, TimeSlot{Start: cursor, End: windowEnd})
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// CalendarSummary aggregates a list of events.
type CalendarSummary struct {
	TotalEvents int                `json:"totalEvents"`
	TotalHours  float64            `json:"totalHours"`
	BusiestDay  string             `json:"busiestDay,omitempty"`
	HoursPerDay map[string]float64 `json:"hoursPerDay"`
	Events      []CalendarEvent    `json:"events"`
}

// SummarizeCalendar totals scheduled hours per day.
func SummarizeCalendar(events []CalendarEvent) CalendarSummary {
	out := CalendarSummary{TotalEvents: len(events), HoursPerDay: map[string]float64{}, Events: events}
	for _, e := range events {
		h := e.End.Sub(e.Start).Hours()
		if h < 0 {
			h = 0
		}
		out.TotalHours += h
		out.HoursPerDay[e.Start.Format("2006-01-02")] += h
	}
	days := make([]string, 0, len(out.HoursPerDay))
	for d := range out.HoursPerDay {
		days = append(days, d)
	}
	sort.Strings(days)
	var busiest float64
	for _, d := range days {
		if out.HoursPerDay[d] > busiest {
			busiest = out.HoursPerDay[d]
			out.BusiestDay = d
		}
	}
	return out
}
