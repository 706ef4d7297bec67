package phase

import "regexp"

// Layer is one architectural layer of the layer-based strategy.
type Layer struct {
	Name         string
	Description  string
	Keywords     *regexp.Regexp
	Domains      []string
	Deliverables []string
}

// LayerCatalog is ordered from the bottom of the stack to the top. Layer
// phases are always emitted in this order.
var LayerCatalog = []Layer{
	{
		Name:         "Foundation",
		Description:  "Project structure, tooling and configuration",
		Keywords:     regexp.MustCompile(`(?i)\b(setup|set up|scaffold\w*|initiali[sz]e|project structure|boilerplate|configur\w*|monorepo)\b`),
		Domains:      []string{"devops"},
		Deliverables: []string{"Project scaffolding", "Build and run configuration"},
	},
	{
		Name:         "Data Layer",
		Description:  "Schemas, models and persistence",
		Keywords:     regexp.MustCompile(`(?i)\b(schemas?|data ?models?|migrations?|persistence|storage|entities)\b`),
		Domains:      []string{"database"},
		Deliverables: []string{"Database schema", "Data access layer"},
	},
	{
		Name:         "Backend/API",
		Description:  "Server endpoints and service layer",
		Keywords:     regexp.MustCompile(`(?i)\b(apis?|endpoints?|server|services?|routes?)\b`),
		Domains:      []string{"backend", "auth"},
		Deliverables: []string{"API endpoints", "Service layer"},
	},
	{
		Name:         "Business Logic",
		Description:  "Domain rules, workflows and validation",
		Keywords:     regexp.MustCompile(`(?i)\b(business logic|rules?|workflows?|validation|calculat\w*|processing)\b`),
		Domains:      nil,
		Deliverables: []string{"Domain rules implementation"},
	},
	{
		Name:         "Frontend/UI",
		Description:  "User interface and client-side state",
		Keywords:     regexp.MustCompile(`(?i)\b(ui|pages?|screens?|components?|views?|forms?)\b`),
		Domains:      []string{"frontend", "mobile"},
		Deliverables: []string{"UI components", "Client-side state management"},
	},
	{
		Name:         "Integration",
		Description:  "External services and cross-layer wiring",
		Keywords:     regexp.MustCompile(`(?i)\b(integrat\w*|webhooks?|third[- ]party|external services?)\b`),
		Domains:      []string{"integration", "realtime"},
		Deliverables: []string{"External service integrations"},
	},
	{
		Name:         "Testing",
		Description:  "Automated tests and quality checks",
		Keywords:     regexp.MustCompile(`(?i)\b(tests?|testing|qa|e2e|coverage)\b`),
		Domains:      []string{"testing"},
		Deliverables: []string{"Automated test suite"},
	},
}

// defaultLayerNames are used when no layer matches the requirement.
var defaultLayerNames = map[string]bool{
	"Foundation":  true,
	"Backend/API": true,
	"Frontend/UI": true,
}

var (
	fullStackPattern = regexp.MustCompile(`(?i)\b(full[- ]?stack|end[- ]to[- ]end)\b`)

	corePattern   = regexp.MustCompile(`(?i)(auth|user|data|core|model|api|crud|account)`)
	polishPattern = regexp.MustCompile(`(?i)(dashboard|settings|notif|theme|polish|analytics|style|docs?\b|ui\b)`)
)

// domainCriteria maps a domain to the verification criterion it implies.
var domainCriteria = []struct {
	Domain    string
	Criterion string
}{
	{"frontend", "UI renders with no console errors"},
	{"backend", "API responds to requests without errors"},
	{"database", "Database migrations succeed"},
	{"auth", "Authentication accepts valid and rejects invalid credentials"},
	{"testing", "All automated tests pass"},
	{"integration", "External integrations respond in a test environment"},
	{"devops", "Build and deployment configuration runs cleanly"},
}
