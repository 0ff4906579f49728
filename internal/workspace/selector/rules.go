package selector

import (
	"slices"
	"strings"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// Category is the kind of account a user refers to ("my work email").
type Category string

const (
	CategoryWork      Category = "work"
	CategoryPersonal  Category = "personal"
	CategoryEducation Category = "education"
	CategoryClient    Category = "client"
	CategoryPrimary   Category = "primary"
)

// categorySynonyms is checked in order; the first word found in the value wins.
var categorySynonyms = []struct {
	word     string
	category Category
}{
	{"work", CategoryWork},
	{"business", CategoryWork},
	{"office", CategoryWork},
	{"company", CategoryWork},
	{"corporate", CategoryWork},
	{"professional", CategoryWork},
	{"job", CategoryWork},
	{"personal", CategoryPersonal},
	{"private", CategoryPersonal},
	{"home", CategoryPersonal},
	{"family", CategoryPersonal},
	{"school", CategoryEducation},
	{"university", CategoryEducation},
	{"college", CategoryEducation},
	{"education", CategoryEducation},
	{"student", CategoryEducation},
	{"academic", CategoryEducation},
	{"client", CategoryClient},
	{"customer", CategoryClient},
	{"primary", CategoryPrimary},
	{"main", CategoryPrimary},
	{"default", CategoryPrimary},
	{"usual", CategoryPrimary},
}

// ParseCategory maps a free-form category word to a Category.
func ParseCategory(value string) (Category, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", false
	}
	for _, s := range categorySynonyms {
		if v == s.word {
			return s.category, true
		}
	}
	for _, s := range categorySynonyms {
		if strings.Contains(v, s.word) {
			return s.category, true
		}
	}
	return "", false
}

var personalDomains = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "ymail.com",
	"hotmail.com", "outlook.com", "live.com", "msn.com",
	"icloud.com", "me.com", "mac.com",
	"aol.com",
	"protonmail.com", "proton.me",
	"gmx.com", "mail.com", "yandex.com",
	"zohomail.com",
}

var workIndicators = []string{
	"company", "corp", "inc", "llc", "ltd", "gmbh",
	"business", "biz", "enterprise", "group",
	"consulting", "solutions", "agency", "studio", "labs",
}

var educationIndicators = []string{"school", "university", "college", "student", "academy"}

// IsPersonalDomain reports whether domain belongs to a consumer mail service.
func IsPersonalDomain(domain string) bool {
	return slices.Contains(personalDomains, strings.ToLower(domain))
}

func isEducationDomain(domain string) bool {
	d := strings.ToLower(domain)
	return strings.HasSuffix(d, ".edu") || strings.Contains(d, ".edu.") || strings.Contains(d, ".ac.")
}

func containsAny(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ConnectionRule is one (predicate, classification) pair.
type ConnectionRule struct {
	Name     string
	Category Category
	Match    func(c *models.WorkspaceConnection) bool
}

// ClassificationRules are evaluated in order; a connection collects every
// category whose rule matches, and the first one is its primary category.
var ClassificationRules = []ConnectionRule{
	{
		Name:     "education-domain",
		Category: CategoryEducation,
		Match:    func(c *models.WorkspaceConnection) bool { return isEducationDomain(c.EmailDomain()) },
	},
	{
		Name:     "education-name",
		Category: CategoryEducation,
		Match:    func(c *models.WorkspaceConnection) bool { return containsAny(c.DisplayName, educationIndicators) },
	},
	{
		Name:     "client-name",
		Category: CategoryClient,
		Match:    func(c *models.WorkspaceConnection) bool { return containsAny(c.DisplayName, []string{"client", "customer"}) },
	},
	{
		Name:     "personal-domain",
		Category: CategoryPersonal,
		Match:    func(c *models.WorkspaceConnection) bool { return IsPersonalDomain(c.EmailDomain()) },
	},
	{
		Name:     "personal-name",
		Category: CategoryPersonal,
		Match: func(c *models.WorkspaceConnection) bool {
			return containsAny(c.DisplayName, []string{"personal", "private", "home", "family"})
		},
	},
	{
		Name:     "work-name",
		Category: CategoryWork,
		Match: func(c *models.WorkspaceConnection) bool {
			return containsAny(c.DisplayName, []string{"work", "business", "office", "company", "corporate"})
		},
	},
	{
		Name:     "work-domain",
		Category: CategoryWork,
		Match:    func(c *models.WorkspaceConnection) bool { return containsAny(c.EmailDomain(), workIndicators) },
	},
	{
		Name:     "organizational-account",
		Category: CategoryWork,
		Match: func(c *models.WorkspaceConnection) bool {
			return c.AccountType == models.AccountTypeOrganizational && !IsPersonalDomain(c.EmailDomain())
		},
	},
	{
		Name:     "custom-domain",
		Category: CategoryWork,
		Match: func(c *models.WorkspaceConnection) bool {
			d := c.EmailDomain()
			return d != "" && !IsPersonalDomain(d) && !isEducationDomain(d)
		},
	},
}

// Classify returns the distinct categories of c in rule order.
func Classify(c *models.WorkspaceConnection) []Category {
	var out []Category
	for _, rule := range ClassificationRules {
		if rule.Match(c) && !slices.Contains(out, rule.Category) {
			out = append(out, rule.Category)
		}
	}
	return out
}

// PrimaryCategory returns the first category Classify yields, or personal.
func PrimaryCategory(c *models.WorkspaceConnection) Category {
	if cats := Classify(c); len(cats) > 0 {
		return cats[0]
	}
	return CategoryPersonal
}

// MatchesCategory reports whether c belongs to category. Every connection
// is a candidate for "primary".
func MatchesCategory(c *models.WorkspaceConnection, category Category) bool {
	if category == CategoryPrimary {
		return true
	}
	return slices.Contains(Classify(c), category)
}

var providerAliases = []struct {
	alias    string
	provider models.Provider
}{
	{"google workspace", models.ProviderGoogleWorkspace},
	{"google", models.ProviderGoogleWorkspace},
	{"gmail", models.ProviderGoogleWorkspace},
	{"g suite", models.ProviderGoogleWorkspace},
	{"gsuite", models.ProviderGoogleWorkspace},
	{"microsoft", models.ProviderMicrosoft365},
	{"office 365", models.ProviderMicrosoft365},
	{"office365", models.ProviderMicrosoft365},
	{"outlook", models.ProviderMicrosoft365},
	{"hotmail", models.ProviderMicrosoft365},
	{"exchange", models.ProviderMicrosoft365},
	{"365", models.ProviderMicrosoft365},
	{"zoho", models.ProviderZoho},
}

// ParseProvider maps a provider enum or a product nickname to a Provider.
func ParseProvider(value string) (models.Provider, bool) {
	if p := models.Provider(strings.ToUpper(strings.TrimSpace(value))); p.Valid() {
		return p, true
	}
	v := strings.ToLower(value)
	for _, a := range providerAliases {
		if strings.Contains(v, a.alias) {
			return a.provider, true
		}
	}
	return "", false
}

// selectPrimaryConnection prefers an organizational account, else the first.
func selectPrimaryConnection(conns []models.WorkspaceConnection) *models.WorkspaceConnection {
	if len(conns) == 0 {
		return nil
	}
	for i := range conns {
		if conns[i].AccountType == models.AccountTypeOrganizational {
			return &conns[i]
		}
	}
	return &conns[0]
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return strings.ToLower(strings.TrimSpace(email[i+1:]))
	}
	return ""
}

func recipientDomains(recipients []string) []string {
	var out []string
	for _, r := range recipients {
		if d := emailDomain(r); d != "" && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}
