package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

// Scoring weights. Relative order matters more than absolute values; tests
// pin the rankings they produce.
const (
	weightPreference      = 0.4
	weightRecipientDomain = 0.3
	weightSenderEmail     = 0.25
	weightSenderDomain    = 0.15
	weightHealth          = 0.2
	weightRecentUse       = 0.1
	weightRecentWeek      = 0.05
	weightQuality         = 0.15
)

// Criteria drives ranking when no sender hint was parsed.
type Criteria struct {
	Capability            models.Capability `json:"capability" validate:"required"`
	PreferredProvider     models.Provider   `json:"preferredProvider,omitempty"`
	PreferredConnectionID string            `json:"preferredConnectionId,omitempty"`
	RecipientEmails       []string          `json:"recipientEmails,omitempty"`
	SenderEmail           string            `json:"senderEmail,omitempty"`
}

// ScoredConnection is one ranked candidate.
type ScoredConnection struct {
	Connection models.WorkspaceConnection `json:"connection"`
	Score      float64                    `json:"score"`
	Reasons    []string                   `json:"reasons"`
}

// Explanation joins the reasons into one sentence.
func (s *ScoredConnection) Explanation() string {
	if len(s.Reasons) == 0 {
		return fmt.Sprintf("Selected %s", s.Connection.Email)
	}
	return fmt.Sprintf("Selected %s: %s", s.Connection.Email, strings.Join(s.Reasons, "; "))
}

// ProviderSelector ranks connections by a weighted score.
type ProviderSelector struct {
	source  ConnectionSource
	quality QualityTable
	now     func() time.Time
}

// NewProviderSelector builds a ranker. A nil quality table uses DefaultQuality.
func NewProviderSelector(source ConnectionSource, quality QualityTable) *ProviderSelector {
	if quality == nil {
		quality = DefaultQuality()
	}
	return &ProviderSelector{source: source, quality: quality, now: time.Now}
}

// WithClock replaces the time source used for health and recency.
func (p *ProviderSelector) WithClock(now func() time.Time) *ProviderSelector {
	p.now = now
	return p
}

// SelectBest returns the highest-scoring connection the agent may use for
// the capability, or nil when there is none.
func (p *ProviderSelector) SelectBest(ctx context.Context, agentID string, criteria Criteria) (*ScoredConnection, error) {
	ranked, err := p.RankConnections(ctx, agentID, criteria)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}
	best := ranked[0]
	return &best, nil
}

// RankConnections scores every candidate and sorts them best first.
func (p *ProviderSelector) RankConnections(ctx context.Context, agentID string, criteria Criteria) ([]ScoredConnection, error) {
	candidates, err := p.source.ConnectionsForCapability(ctx, agentID, criteria.Capability, permission.DefaultAccessLevel(criteria.Capability))
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	return p.Rank(candidates, criteria), nil
}

// Rank is the side-effect-free part of RankConnections. Ties keep input order.
func (p *ProviderSelector) Rank(candidates []permission.Candidate, criteria Criteria) []ScoredConnection {
	out := make([]ScoredConnection, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, p.Score(c, criteria))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Score computes one candidate's weighted score, capped at 1.0.
func (p *ProviderSelector) Score(c permission.Candidate, criteria Criteria) ScoredConnection {
	conn := c.Connection
	now := p.now()
	var score float64
	var reasons []string

	switch {
	case criteria.PreferredConnectionID != "" && criteria.PreferredConnectionID == conn.ID:
		score += weightPreference
		reasons = append(reasons, "requested account")
	case criteria.PreferredProvider != "" && criteria.PreferredProvider == conn.Provider:
		score += weightPreference
		reasons = append(reasons, "preferred provider "+conn.Provider.DisplayName())
	}

	domain := conn.EmailDomain()
	for _, rd := range recipientDomains(criteria.RecipientEmails) {
		if rd == domain {
			score += weightRecipientDomain
			reasons = append(reasons, "same domain as recipient")
			break
		}
	}

	if sender := strings.TrimSpace(criteria.SenderEmail); sender != "" {
		switch {
		case strings.EqualFold(sender, conn.Email):
			score += weightSenderEmail
			reasons = append(reasons, "matches sender address")
		case emailDomain(sender) == domain:
			score += weightSenderDomain
			reasons = append(reasons, "matches sender domain")
		}
	}

	if h := HealthScore(&conn, now); h > 0 {
		score += weightHealth * h
		if h >= 1 {
			reasons = append(reasons, "healthy connection")
		}
	}

	if c.Permission.LastUsedAt != nil {
		switch age := now.Sub(*c.Permission.LastUsedAt); {
		case age <= 24*time.Hour:
			score += weightRecentUse
			reasons = append(reasons, "used in the last day")
		case age <= 7*24*time.Hour:
			score += weightRecentWeek
			reasons = append(reasons, "used this week")
		}
	}

	q := p.quality.Rating(conn.Provider, criteria.Capability)
	score += weightQuality * q
	if q >= 0.9 {
		reasons = append(reasons, fmt.Sprintf("strong %s support", criteria.Capability.Label()))
	}

	if score > 1 {
		score = 1
	}
	return ScoredConnection{Connection: conn, Score: score, Reasons: reasons}
}

// HealthScore rates a connection 0..1 from status, token expiry and sync age.
func HealthScore(c *models.WorkspaceConnection, now time.Time) float64 {
	if c.Status != models.ConnectionStatusActive {
		return 0
	}
	h := 1.0
	if c.TokenExpired(now) {
		h -= 0.5
	}
	switch {
	case c.LastSyncAt == nil:
		h -= 0.2
	case now.Sub(*c.LastSyncAt) > 7*24*time.Hour:
		h -= 0.3
	case now.Sub(*c.LastSyncAt) > 24*time.Hour:
		h -= 0.1
	}
	if h < 0 {
		return 0
	}
	return h
}
