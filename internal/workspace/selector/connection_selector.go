// Package selector decides which of an agent's workspace connections should
// serve a request, either from a natural-language sender hint or by ranking.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

const (
	// AutoSelectThreshold is the confidence at which a match is used without asking.
	AutoSelectThreshold = 0.7
	// ConfirmThreshold is the floor below which the user must pick explicitly.
	ConfirmThreshold = 0.5

	providerTieFactor = 0.9
	primaryTieFactor  = 0.8
	recipientFactor   = 0.95
	exactEmailFloor   = 0.9
)

// ConnectionSource lists the connections an agent may use for a capability.
type ConnectionSource interface {
	ConnectionsForCapability(ctx context.Context, agentID string, capability models.Capability, minLevel models.AccessLevel) ([]permission.Candidate, error)
}

// SelectionRequest asks which connection should serve capability for agent.
type SelectionRequest struct {
	AgentID         string                      `json:"agentId"`
	Capability      models.Capability           `json:"capability"`
	Preference      *workspace.SenderPreference `json:"preference,omitempty"`
	RecipientEmails []string                    `json:"recipientEmails,omitempty"`
}

// ConnectionSelectionResult is the outcome of a selection. When
// RequiresUserChoice is set the caller must show SuggestedMessage and wait
// for the user; Connection, if present, is only a proposal.
type ConnectionSelectionResult struct {
	Success            bool                         `json:"success"`
	Connection         *models.WorkspaceConnection  `json:"connection,omitempty"`
	Confidence         float64                      `json:"confidence"`
	Reason             string                       `json:"reason,omitempty"`
	RequiresUserChoice bool                         `json:"requiresUserChoice"`
	SuggestedMessage   string                       `json:"suggestedMessage,omitempty"`
	Alternatives       []models.WorkspaceConnection `json:"alternatives,omitempty"`
	Error              string                       `json:"error,omitempty"`
}

// Resolved reports whether the caller may proceed with Connection now.
func (r *ConnectionSelectionResult) Resolved() bool {
	return r.Success && r.Connection != nil && !r.RequiresUserChoice
}

// ConnectionSelector disambiguates sender accounts. It holds no per-request state.
type ConnectionSelector struct {
	source ConnectionSource
}

// NewConnectionSelector builds a selector over source.
func NewConnectionSelector(source ConnectionSource) *ConnectionSelector {
	return &ConnectionSelector{source: source}
}

// GetAvailableConnections returns ACTIVE connections on which the agent holds
// capability with WRITE access.
func (s *ConnectionSelector) GetAvailableConnections(ctx context.Context, agentID string, capability models.Capability) ([]models.WorkspaceConnection, error) {
	candidates, err := s.source.ConnectionsForCapability(ctx, agentID, capability, models.AccessLevelWrite)
	if err != nil {
		return nil, err
	}
	conns := make([]models.WorkspaceConnection, 0, len(candidates))
	for _, c := range candidates {
		conns = append(conns, c.Connection)
	}
	return conns, nil
}

// SelectConnection picks exactly one connection for req or explains why it cannot.
func (s *ConnectionSelector) SelectConnection(ctx context.Context, req SelectionRequest) (*ConnectionSelectionResult, error) {
	conns, err := s.GetAvailableConnections(ctx, req.AgentID, req.Capability)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	pref := req.Preference

	switch {
	case len(conns) == 0:
		return &ConnectionSelectionResult{
			Success: false,
			Error: fmt.Sprintf("No connected workspace account can %s. Connect a Google Workspace, Microsoft 365 or Zoho account first.",
				req.Capability.Label()),
		}, nil

	case len(conns) == 1:
		only := conns[0]
		if pref == nil {
			return &ConnectionSelectionResult{
				Success:    true,
				Connection: &only,
				Confidence: 1.0,
				Reason:     fmt.Sprintf("Using your only connected account: %s", only.Name()),
			}, nil
		}
		if matchesPreference(&only, pref) {
			return &ConnectionSelectionResult{
				Success:    true,
				Connection: &only,
				Confidence: confidenceOf(pref),
				Reason:     fmt.Sprintf("Using %s, which matches %s", only.Name(), describePreference(pref)),
			}, nil
		}
		return &ConnectionSelectionResult{
			Success:            true,
			Connection:         &only,
			Confidence:         0,
			RequiresUserChoice: true,
			Reason:             fmt.Sprintf("%s does not match %s", only.Name(), describePreference(pref)),
			SuggestedMessage:   singleMismatchMessage(&only, pref),
			Alternatives:       conns,
		}, nil
	}

	if pref == nil {
		return explicitChoice(conns, req, "I found several accounts that can "+req.Capability.Label()+"."), nil
	}

	res := selectByPreference(conns, pref, req.RecipientEmails)
	if res.Connection == nil || res.RequiresUserChoice {
		return res, nil
	}
	return applyThresholds(res, conns, req), nil
}

func selectByPreference(conns []models.WorkspaceConnection, pref *workspace.SenderPreference, recipients []string) *ConnectionSelectionResult {
	conf := confidenceOf(pref)

	switch pref.Type {
	case workspace.PreferenceSpecificEmail:
		for i := range conns {
			if strings.EqualFold(conns[i].Email, strings.TrimSpace(pref.Value)) {
				return picked(&conns[i], max(conf, exactEmailFloor), fmt.Sprintf("Using %s as requested", conns[i].Email))
			}
		}
		return unmatched(conns, fmt.Sprintf("No connected account uses the address %s.", pref.Value))

	case workspace.PreferenceProvider:
		provider, ok := ParseProvider(pref.Value)
		if !ok {
			return unmatched(conns, fmt.Sprintf("I don't recognize the provider %q.", pref.Value))
		}
		var matches []models.WorkspaceConnection
		for _, c := range conns {
			if c.Provider == provider {
				matches = append(matches, c)
			}
		}
		switch len(matches) {
		case 0:
			return unmatched(conns, fmt.Sprintf("You have no %s account connected.", provider.DisplayName()))
		case 1:
			return picked(&matches[0], conf, fmt.Sprintf("Using your %s account: %s", provider.DisplayName(), matches[0].Email))
		}
		primary := selectPrimaryConnection(matches)
		return picked(primary, conf*providerTieFactor,
			fmt.Sprintf("Using your primary %s account: %s", provider.DisplayName(), primary.Email))

	case workspace.PreferenceCategory:
		category, ok := ParseCategory(pref.Value)
		if !ok {
			return unmatched(conns, fmt.Sprintf("I don't know which accounts count as %q.", pref.Value))
		}
		if category == CategoryPrimary {
			primary := selectPrimaryConnection(conns)
			return picked(primary, conf*providerTieFactor, fmt.Sprintf("Using your primary account: %s", primary.Email))
		}
		var matches []models.WorkspaceConnection
		for i := range conns {
			if MatchesCategory(&conns[i], category) {
				matches = append(matches, conns[i])
			}
		}
		switch len(matches) {
		case 0:
			res := unmatched(conns, fmt.Sprintf("You have no %s account connected.", category))
			res.SuggestedMessage = crossCategorySuggestion(category, conns)
			return res
		case 1:
			return picked(&matches[0], conf, fmt.Sprintf("Using your %s account: %s", category, matches[0].Email))
		}
		if c := matchRecipientDomain(matches, recipients); c != nil {
			return picked(c, conf*recipientFactor,
				fmt.Sprintf("Using your %s account %s, which shares a domain with your recipient", category, c.Email))
		}
		primary := selectPrimaryConnection(matches)
		return picked(primary, conf*primaryTieFactor,
			fmt.Sprintf("Using your primary %s account: %s", category, primary.Email))

	case workspace.PreferenceDomain:
		needle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(pref.Value), "@"))
		var matches []models.WorkspaceConnection
		for _, c := range conns {
			if needle != "" && (strings.Contains(strings.ToLower(c.Email), needle) || strings.Contains(strings.ToLower(c.DisplayName), needle)) {
				matches = append(matches, c)
			}
		}
		switch len(matches) {
		case 0:
			return unmatched(conns, fmt.Sprintf("No connected account matches %q.", pref.Value))
		case 1:
			return picked(&matches[0], conf, fmt.Sprintf("Using %s, which matches %s", matches[0].Email, needle))
		}
		primary := selectPrimaryConnection(matches)
		return picked(primary, conf*primaryTieFactor, fmt.Sprintf("Using %s, the primary account matching %s", primary.Email, needle))
	}

	return unmatched(conns, fmt.Sprintf("Unsupported sender preference type %q.", pref.Type))
}

// applyThresholds turns a scored pick into auto-select, confirm or explicit choice.
func applyThresholds(res *ConnectionSelectionResult, conns []models.WorkspaceConnection, req SelectionRequest) *ConnectionSelectionResult {
	switch {
	case res.Confidence >= AutoSelectThreshold:
		return res
	case res.Confidence >= ConfirmThreshold:
		res.RequiresUserChoice = true
		res.Alternatives = others(conns, res.Connection.ID)
		res.SuggestedMessage = confirmationMessage(res, res.Alternatives)
		return res
	}
	return explicitChoice(conns, req, "I'm not sure which account you meant.")
}

func picked(c *models.WorkspaceConnection, confidence float64, reason string) *ConnectionSelectionResult {
	conn := *c
	return &ConnectionSelectionResult{Success: true, Connection: &conn, Confidence: confidence, Reason: reason}
}

func unmatched(conns []models.WorkspaceConnection, msg string) *ConnectionSelectionResult {
	return &ConnectionSelectionResult{
		Success:            false,
		Error:              msg,
		RequiresUserChoice: true,
		SuggestedMessage:   msg + "\n" + numberedList(conns),
		Alternatives:       conns,
	}
}

func explicitChoice(conns []models.WorkspaceConnection, req SelectionRequest, intro string) *ConnectionSelectionResult {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString(" Which one should I use?\n")
	b.WriteString(numberedList(conns))
	if c := matchRecipientDomain(conns, req.RecipientEmails); c != nil {
		fmt.Fprintf(&b, "\nTip: %s is on the same domain as your recipient (%s).", c.Email, c.EmailDomain())
	}
	return &ConnectionSelectionResult{
		Success:            false,
		RequiresUserChoice: true,
		SuggestedMessage:   b.String(),
		Alternatives:       conns,
	}
}

func confirmationMessage(res *ConnectionSelectionResult, alternatives []models.WorkspaceConnection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s). Should I go ahead with %s?",
		res.Reason, res.Connection.Provider.DisplayName(), res.Connection.Email)
	if len(alternatives) > 0 {
		b.WriteString("\nOther accounts you could use:\n")
		b.WriteString(numberedList(alternatives))
	}
	return b.String()
}

func singleMismatchMessage(only *models.WorkspaceConnection, pref *workspace.SenderPreference) string {
	if pref.Type == workspace.PreferenceCategory {
		if category, ok := ParseCategory(pref.Value); ok && category != CategoryPrimary {
			return fmt.Sprintf("You asked for a %s account, but the only connected account is a %s account: %s. Would you like to use it anyway?",
				category, PrimaryCategory(only), only.Email)
		}
	}
	return fmt.Sprintf("You asked for %s, but the only connected account is %s (%s). Would you like to use it anyway?",
		describePreference(pref), only.Email, only.Provider.DisplayName())
}

// crossCategorySuggestion explains which other kinds of accounts exist when
// none matches the requested category.
func crossCategorySuggestion(requested Category, conns []models.WorkspaceConnection) string {
	var order []Category
	groups := map[Category][]string{}
	for i := range conns {
		cat := PrimaryCategory(&conns[i])
		if _, ok := groups[cat]; !ok {
			order = append(order, cat)
		}
		groups[cat] = append(groups[cat], conns[i].Email)
	}

	parts := make([]string, 0, len(order))
	for _, cat := range order {
		emails := groups[cat]
		noun := "account"
		if len(emails) > 1 {
			noun = "accounts"
		}
		parts = append(parts, fmt.Sprintf("%d %s %s: %s", len(emails), cat, noun, strings.Join(emails, ", ")))
	}

	question := "Which one would you like to use?"
	if len(conns) == 1 {
		question = "Would you like to use it instead?"
	}
	return fmt.Sprintf("You don't have a %s account connected, but you have %s. %s",
		requested, strings.Join(parts, " and "), question)
}

func numberedList(conns []models.WorkspaceConnection) string {
	lines := make([]string, 0, len(conns))
	for i := range conns {
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, conns[i].Name(), conns[i].Provider.DisplayName()))
	}
	return strings.Join(lines, "\n")
}

func matchRecipientDomain(conns []models.WorkspaceConnection, recipients []string) *models.WorkspaceConnection {
	domains := recipientDomains(recipients)
	if len(domains) == 0 {
		return nil
	}
	for i := range conns {
		d := conns[i].EmailDomain()
		for _, rd := range domains {
			if d == rd {
				return &conns[i]
			}
		}
	}
	return nil
}

func matchesPreference(c *models.WorkspaceConnection, pref *workspace.SenderPreference) bool {
	switch pref.Type {
	case workspace.PreferenceSpecificEmail:
		return strings.EqualFold(c.Email, strings.TrimSpace(pref.Value))
	case workspace.PreferenceProvider:
		p, ok := ParseProvider(pref.Value)
		return ok && c.Provider == p
	case workspace.PreferenceCategory:
		cat, ok := ParseCategory(pref.Value)
		return ok && MatchesCategory(c, cat)
	case workspace.PreferenceDomain:
		needle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(pref.Value), "@"))
		return needle != "" && (strings.Contains(strings.ToLower(c.Email), needle) ||
			strings.Contains(strings.ToLower(c.DisplayName), needle))
	}
	return false
}

func describePreference(pref *workspace.SenderPreference) string {
	switch pref.Type {
	case workspace.PreferenceSpecificEmail:
		return "the address " + pref.Value
	case workspace.PreferenceProvider:
		if p, ok := ParseProvider(pref.Value); ok {
			return "your " + p.DisplayName() + " account"
		}
	case workspace.PreferenceCategory:
		if cat, ok := ParseCategory(pref.Value); ok {
			return "a " + string(cat) + " account"
		}
	case workspace.PreferenceDomain:
		return "an account on " + pref.Value
	}
	return fmt.Sprintf("%q", pref.Value)
}

// confidenceOf treats an unset parser confidence as certain.
func confidenceOf(pref *workspace.SenderPreference) float64 {
	if pref.Confidence <= 0 {
		return 1.0
	}
	return pref.Confidence
}

func others(conns []models.WorkspaceConnection, id string) []models.WorkspaceConnection {
	out := make([]models.WorkspaceConnection, 0, len(conns))
	for _, c := range conns {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
