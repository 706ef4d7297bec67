package complexity

import (
	"regexp"
	"sort"
	"strings"
)

// Pattern tags a compiled pattern with the name it reports.
type Pattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// FeatureGroup is one entry of the feature catalog. Phase generation uses
// the same catalog to group requirement text into feature-based phases.
type FeatureGroup struct {
	Name        string
	Title       string
	Pattern     *regexp.Regexp
	Domains     []string
	Deliverable string
}

// DomainCatalog maps technical domain names to the words that reveal them.
var DomainCatalog = []Pattern{
	{"frontend", regexp.MustCompile(`(?i)\b(front[- ]?end|react|vue|angular|svelte|ui|ux|css|html|components?|tailwind|next\.?js|web ?app)\b`)},
	{"backend", regexp.MustCompile(`(?i)\b(back[- ]?end|apis?|rest|graphql|server|express|django|flask|fastapi|endpoints?|microservices?|node\.?js)\b`)},
	{"database", regexp.MustCompile(`(?i)\b(databases?|db|sql|postgres\w*|mysql|mongo\w*|redis|sqlite|schemas?|migrations?|orm)\b`)},
	{"auth", regexp.MustCompile(`(?i)\b(auth\w*|login|oauth|sso|jwt|rbac)\b`)},
	{"devops", regexp.MustCompile(`(?i)\b(docker|kubernetes|k8s|ci/?cd|deploy\w*|terraform|helm)\b`)},
	{"testing", regexp.MustCompile(`(?i)\b(tests?|testing|e2e|coverage|jest|cypress)\b`)},
	{"mobile", regexp.MustCompile(`(?i)\b(mobile|ios|android|react native|flutter)\b`)},
	{"realtime", regexp.MustCompile(`(?i)\b(real[- ]?time|websockets?|socket\.io|streaming|pub/?sub)\b`)},
	{"ai-ml", regexp.MustCompile(`(?i)\b(machine learning|ml|llm|embeddings?|neural|model training)\b`)},
	{"integration", regexp.MustCompile(`(?i)\b(integrat\w*|webhooks?|third[- ]party|external api|stripe|twilio|slack)\b`)},
	{"security", regexp.MustCompile(`(?i)\b(security|encrypt\w*|vulnerab\w*|xss|csrf|audit)\b`)},
}

// FeatureCatalog lists the feature groups requirement text is matched against.
var FeatureCatalog = []FeatureGroup{
	{
		Name:        "auth",
		Title:       "Authentication",
		Pattern:     regexp.MustCompile(`(?i)\b(auth\w*|login|log in|sign[- ]?(in|up)|oauth|sso|passwords?|jwt)\b`),
		Domains:     []string{"auth", "backend"},
		Deliverable: "Authentication flow",
	},
	{
		Name:        "user-management",
		Title:       "User Management",
		Pattern:     regexp.MustCompile(`(?i)\b(users?|profiles?|roles?|permissions?|accounts?|admin)\b`),
		Domains:     []string{"backend", "database"},
		Deliverable: "User management module",
	},
	{
		Name:        "data-management",
		Title:       "Data Management",
		Pattern:     regexp.MustCompile(`(?i)\b(crud|records?|data ?models?|import|export|entities|inventory|catalog)\b`),
		Domains:     []string{"database", "backend"},
		Deliverable: "Data model and CRUD operations",
	},
	{
		Name:        "search",
		Title:       "Search",
		Pattern:     regexp.MustCompile(`(?i)\b(search\w*|filter\w*|sorting|autocomplete|full[- ]text)\b`),
		Domains:     []string{"backend", "frontend"},
		Deliverable: "Search and filtering",
	},
	{
		Name:        "notifications",
		Title:       "Notifications",
		Pattern:     regexp.MustCompile(`(?i)\b(notif\w*|alerts?|emails?|sms|push)\b`),
		Domains:     []string{"backend", "integration"},
		Deliverable: "Notification delivery",
	},
	{
		Name:        "payments",
		Title:       "Payments",
		Pattern:     regexp.MustCompile(`(?i)\b(payments?|billing|checkout|stripe|invoices?|subscriptions?)\b`),
		Domains:     []string{"backend", "integration"},
		Deliverable: "Payment processing",
	},
	{
		Name:        "dashboard",
		Title:       "Dashboard",
		Pattern:     regexp.MustCompile(`(?i)\b(dashboards?|analytics|charts?|reports?|graphs?)\b`),
		Domains:     []string{"frontend"},
		Deliverable: "Dashboard views",
	},
	{
		Name:        "settings",
		Title:       "Settings",
		Pattern:     regexp.MustCompile(`(?i)\b(settings|preferences|configuration)\b`),
		Domains:     []string{"frontend", "backend"},
		Deliverable: "Settings management",
	},
	{
		Name:        "file-management",
		Title:       "File Management",
		Pattern:     regexp.MustCompile(`(?i)\b(files?|uploads?|downloads?|attachments?|images?)\b`),
		Domains:     []string{"backend", "frontend"},
		Deliverable: "File upload and storage",
	},
	{
		Name:        "communication",
		Title:       "Communication",
		Pattern:     regexp.MustCompile(`(?i)\b(chat|messag\w*|comments?|forums?|inbox)\b`),
		Domains:     []string{"realtime", "backend"},
		Deliverable: "Messaging features",
	},
}

// RiskCatalog maps risk factor descriptions to their textual signals.
var RiskCatalog = []Pattern{
	{"data migration", regexp.MustCompile(`(?i)\bmigrat\w*`)},
	{"security-sensitive", regexp.MustCompile(`(?i)\b(security|encrypt\w*|credentials?|secrets?|pii|gdpr|hipaa)\b`)},
	{"payment processing", regexp.MustCompile(`(?i)\b(payments?|billing|checkout|stripe)\b`)},
	{"performance critical", regexp.MustCompile(`(?i)\b(performance|scal(e|able|ability|ing)|latency|high[- ]traffic|optimi[sz]\w*)\b`)},
	{"legacy code", regexp.MustCompile(`(?i)\b(legacy|rewrite)\b`)},
	{"concurrency", regexp.MustCompile(`(?i)\b(real[- ]?time|concurren\w*|race conditions?|parallel|distributed)\b`)},
	{"external integration", regexp.MustCompile(`(?i)\b(third[- ]party|external|webhooks?|integrat\w*)\b`)},
	{"broad scope", regexp.MustCompile(`(?i)\b(full[- ]?stack|end[- ]to[- ]end|from scratch|entire|complete (app|application|system|platform))\b`)},
}

var listItemPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// DetectDomains returns the sorted set of technical domains mentioned in text.
func DetectDomains(text string) []string {
	return matchNames(DomainCatalog, text)
}

// DetectRisks returns the risk factors mentioned in text, in catalog order.
func DetectRisks(text string) []string {
	var risks []string
	for _, p := range RiskCatalog {
		if p.Pattern.MatchString(text) {
			risks = append(risks, p.Name)
		}
	}
	return risks
}

// DetectFeatureGroups returns the catalog groups mentioned in text, in catalog order.
func DetectFeatureGroups(text string) []FeatureGroup {
	var groups []FeatureGroup
	for _, g := range FeatureCatalog {
		if g.Pattern.MatchString(text) {
			groups = append(groups, g)
		}
	}
	return groups
}

// ExtractListItems returns the text of bullet and numbered list lines.
func ExtractListItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := listItemPattern.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(m[1])
			if item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

func matchNames(catalog []Pattern, text string) []string {
	seen := make(map[string]bool)
	for _, p := range catalog {
		if p.Pattern.MatchString(text) {
			seen[p.Name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
