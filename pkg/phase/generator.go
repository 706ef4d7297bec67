package phase

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/entrhq/phaseguard/pkg/complexity"
)

const (
	// maxItemLength bounds list items and truncated requirements used as phase text.
	maxItemLength = 100

	// rescaleTolerance is the allowed drift between the phase total and the estimate.
	rescaleTolerance = 0.20
)

// GeneratorConfig tunes phase generation.
type GeneratorConfig struct {
	MaxTokensPerPhase    int      `yaml:"max_tokens_per_phase" json:"max_tokens_per_phase"`
	MaxFeaturesPerPhase  int      `yaml:"max_features_per_phase" json:"max_features_per_phase"`
	GenerateVerification bool     `yaml:"generate_verification" json:"generate_verification"`
	PreferredStrategy    Strategy `yaml:"preferred_strategy" json:"preferred_strategy"`
}

// DefaultGeneratorConfig returns the default generation settings.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxTokensPerPhase:    50000,
		MaxFeaturesPerPhase:  3,
		GenerateVerification: true,
	}
}

// Generator splits a requirement into dependency-ordered phases.
type Generator struct {
	config GeneratorConfig
	scorer complexity.Scorer
}

// NewGenerator creates a generator. A nil scorer uses the heuristic analyzer.
func NewGenerator(config GeneratorConfig, scorer complexity.Scorer) *Generator {
	defaults := DefaultGeneratorConfig()
	if config.MaxTokensPerPhase <= 0 {
		config.MaxTokensPerPhase = defaults.MaxTokensPerPhase
	}
	if config.MaxFeaturesPerPhase <= 0 {
		config.MaxFeaturesPerPhase = defaults.MaxFeaturesPerPhase
	}
	if scorer == nil {
		scorer = complexity.NewAnalyzer()
	}
	return &Generator{config: config, scorer: scorer}
}

// Config returns the generator configuration.
func (g *Generator) Config() GeneratorConfig {
	return g.config
}

// feature is one unit of requirement text grouped for phase planning.
type feature struct {
	name         string
	title        string
	requirements []string
	domains      []string
	deliverable  string
}

// GeneratePhases plans phases for a requirement. When score is nil the
// requirement is scored first. It never fails: malformed or empty input
// degrades to a single generic phase.
func (g *Generator) GeneratePhases(requirement string, score *complexity.Score) *GenerationResult {
	var s complexity.Score
	if score != nil {
		s = *score
	} else {
		s = g.scorer.Analyze(requirement)
	}

	features := extractFeatures(requirement)
	groupCount := len(complexity.DetectFeatureGroups(requirement))
	strategy, rationale := g.selectStrategy(requirement, s, groupCount)

	debugLog.Debugf("Generating phases: strategy=%s score=%d features=%d", strategy, s.Score, len(features))

	var phases []Phase
	switch strategy {
	case StrategyLayerBased:
		phases = g.layerBased(requirement, s)
	case StrategyIncremental:
		phases = g.incremental(features, s)
	default:
		phases = g.featureBased(features, s)
	}

	result := &GenerationResult{
		StrategyUsed: strategy,
		Complexity:   s,
		Rationale:    rationale,
		Warnings:     []string{},
	}

	if len(phases) == 0 {
		phases = []Phase{genericPhase(requirement, s.EstimatedTokens)}
		result.Warnings = append(result.Warnings, "no phases could be derived from the requirement; using a single implementation phase")
	}

	g.postProcess(phases, s, result)

	order, orderWarnings := ExecutionOrder(phases)
	result.Warnings = append(result.Warnings, orderWarnings...)

	total := 0
	for _, p := range phases {
		total += p.EstimatedTokens
	}

	result.Phases = phases
	result.TotalPhases = len(phases)
	result.ExecutionOrder = order
	result.TotalEstimatedTokens = total
	return result
}

func (g *Generator) selectStrategy(requirement string, s complexity.Score, groupCount int) (Strategy, string) {
	if g.config.PreferredStrategy.IsValid() {
		return g.config.PreferredStrategy, fmt.Sprintf("strategy %s requested by configuration", g.config.PreferredStrategy)
	}
	domains := len(s.Metrics.TechnicalDomains)
	switch {
	case domains >= 3:
		return StrategyLayerBased, fmt.Sprintf("%d technical domains detected; splitting by architectural layer", domains)
	case fullStackPattern.MatchString(requirement):
		return StrategyLayerBased, "full-stack scope detected; splitting by architectural layer"
	case s.Level == complexity.LevelExtreme:
		return StrategyIncremental, "extreme complexity; delivering an MVP first and iterating"
	case groupCount >= 4:
		return StrategyFeatureBased, fmt.Sprintf("%d feature groups detected; splitting by feature", groupCount)
	default:
		return StrategyFeatureBased, "default feature-based split"
	}
}

func (g *Generator) featureBased(features []feature, s complexity.Score) []Phase {
	if len(features) == 0 {
		return nil
	}
	perPhase := s.EstimatedTokens / maxInt(s.SuggestedPhaseCount, 2)

	var phases []Phase
	for start := 0; start < len(features); start += g.config.MaxFeaturesPerPhase {
		end := minInt(start+g.config.MaxFeaturesPerPhase, len(features))
		chunk := features[start:end]

		titles := make([]string, 0, len(chunk))
		var reqs, deliverables, domains []string
		for _, f := range chunk {
			titles = append(titles, f.title)
			reqs = append(reqs, f.requirements...)
			if f.deliverable != "" {
				deliverables = append(deliverables, f.deliverable)
			}
			domains = append(domains, f.domains...)
		}

		idx := len(phases)
		phases = append(phases, Phase{
			ID:              ID(idx),
			Name:            strings.Join(titles, " & "),
			Description:     "Implement " + strings.Join(titles, ", "),
			Requirements:    dedupe(reqs),
			Deliverables:    dedupe(deliverables),
			EstimatedTokens: perPhase,
			Status:          StatusPending,
			Order:           idx,
			Domains:         sortedSet(domains),
			RiskFactors:     complexity.DetectRisks(strings.Join(reqs, "\n")),
		})
	}
	return phases
}

func (g *Generator) layerBased(requirement string, s complexity.Score) []Phase {
	sentences := splitSentences(requirement)

	var layers []Layer
	for _, layer := range LayerCatalog {
		if layerMatches(layer, requirement, s) {
			layers = append(layers, layer)
		}
	}
	if len(layers) == 0 {
		for _, layer := range LayerCatalog {
			if defaultLayerNames[layer.Name] {
				layers = append(layers, layer)
			}
		}
	}

	perPhase := s.EstimatedTokens / maxInt(s.SuggestedPhaseCount, 3)

	phases := make([]Phase, 0, len(layers))
	for idx, layer := range layers {
		var reqs []string
		for _, sentence := range sentences {
			if sentenceMatchesLayer(layer, sentence) {
				reqs = append(reqs, sentence)
			}
		}
		if len(reqs) == 0 {
			reqs = []string{fmt.Sprintf("Implement the %s for: %s", strings.ToLower(layer.Name), truncate(requirement, maxItemLength))}
		}

		domains := append([]string(nil), layer.Domains...)
		phases = append(phases, Phase{
			ID:              ID(idx),
			Name:            layer.Name,
			Description:     layer.Description,
			Requirements:    reqs,
			Deliverables:    append([]string(nil), layer.Deliverables...),
			EstimatedTokens: perPhase,
			Status:          StatusPending,
			Order:           idx,
			Domains:         sortedSet(domains),
			RiskFactors:     complexity.DetectRisks(strings.Join(reqs, "\n")),
		})
	}
	return phases
}

func (g *Generator) incremental(features []feature, s complexity.Score) []Phase {
	buckets := []struct {
		name        string
		description string
		share       float64
		features    []feature
	}{
		{name: "Core MVP", description: "Minimum viable implementation of the core features", share: 0.40},
		{name: "Secondary Features", description: "Features that build on the core", share: 0.35},
		{name: "Polish & Refinement", description: "User-facing refinement and remaining polish", share: 0.25},
	}

	for _, f := range features {
		key := f.name + " " + f.title
		switch {
		case corePattern.MatchString(key):
			buckets[0].features = append(buckets[0].features, f)
		case polishPattern.MatchString(key):
			buckets[2].features = append(buckets[2].features, f)
		default:
			buckets[1].features = append(buckets[1].features, f)
		}
	}

	var phases []Phase
	for _, b := range buckets {
		if len(b.features) == 0 {
			continue
		}
		var reqs, deliverables, domains []string
		for _, f := range b.features {
			reqs = append(reqs, f.requirements...)
			if f.deliverable != "" {
				deliverables = append(deliverables, f.deliverable)
			}
			domains = append(domains, f.domains...)
		}

		idx := len(phases)
		deps := make([]string, 0, idx)
		for i := 0; i < idx; i++ {
			deps = append(deps, ID(i))
		}

		phases = append(phases, Phase{
			ID:              ID(idx),
			Name:            b.name,
			Description:     b.description,
			Requirements:    dedupe(reqs),
			Deliverables:    dedupe(deliverables),
			EstimatedTokens: int(math.Round(float64(s.EstimatedTokens) * b.share)),
			Dependencies:    deps,
			Status:          StatusPending,
			Order:           idx,
			Domains:         sortedSet(domains),
			RiskFactors:     complexity.DetectRisks(strings.Join(reqs, "\n")),
		})
	}
	return phases
}

// postProcess enforces the per-phase cap, keeps the total within tolerance of
// the estimate, fills default dependencies and synthesizes verification.
func (g *Generator) postProcess(phases []Phase, s complexity.Score, result *GenerationResult) {
	for i := range phases {
		if phases[i].EstimatedTokens > g.config.MaxTokensPerPhase {
			phases[i].EstimatedTokens = g.config.MaxTokensPerPhase
		}
	}

	target := s.EstimatedTokens
	total := 0
	for _, p := range phases {
		total += p.EstimatedTokens
	}
	if target > 0 && total > 0 {
		deviation := math.Abs(float64(total-target)) / float64(target)
		if deviation > rescaleTolerance {
			factor := float64(target) / float64(total)
			capped := false
			for i := range phases {
				scaled := int(math.Round(float64(phases[i].EstimatedTokens) * factor))
				if scaled < 1 {
					scaled = 1
				}
				if scaled > g.config.MaxTokensPerPhase {
					scaled = g.config.MaxTokensPerPhase
					capped = true
				}
				phases[i].EstimatedTokens = scaled
			}
			if capped {
				result.Warnings = append(result.Warnings, fmt.Sprintf("phase budgets capped at %d tokens; total estimate %d exceeds what the plan can hold", g.config.MaxTokensPerPhase, target))
			}
		}
	}

	for i := range phases {
		if phases[i].Dependencies == nil {
			if i == 0 {
				phases[i].Dependencies = []string{}
			} else {
				phases[i].Dependencies = []string{phases[i-1].ID}
			}
		}
		if phases[i].RiskFactors == nil {
			phases[i].RiskFactors = []string{}
		}
		if phases[i].Domains == nil {
			phases[i].Domains = []string{}
		}
		if phases[i].Deliverables == nil {
			phases[i].Deliverables = []string{}
		}
		if g.config.GenerateVerification {
			phases[i].VerificationCriteria = verificationCriteria(phases[i])
		} else if phases[i].VerificationCriteria == nil {
			phases[i].VerificationCriteria = []string{}
		}
	}
}

func verificationCriteria(p Phase) []string {
	var criteria []string
	for _, dc := range domainCriteria {
		for _, d := range p.Domains {
			if d == dc.Domain {
				criteria = append(criteria, dc.Criterion)
			}
		}
	}
	for _, d := range p.Deliverables {
		criteria = append(criteria, "Deliverable complete: "+d)
	}
	if len(criteria) == 0 {
		criteria = append(criteria, "Requirements implemented and manually verified")
	}
	return dedupe(criteria)
}

func genericPhase(requirement string, tokens int) Phase {
	req := truncate(strings.TrimSpace(requirement), maxItemLength)
	reqs := []string{}
	if req != "" {
		reqs = append(reqs, req)
	}
	return Phase{
		ID:              ID(0),
		Name:            "Implementation",
		Description:     "Implement the requirement",
		Requirements:    reqs,
		Deliverables:    []string{},
		EstimatedTokens: tokens,
		Status:          StatusPending,
		Order:           0,
		Domains:         []string{},
		RiskFactors:     []string{},
	}
}

func extractFeatures(requirement string) []feature {
	text := strings.TrimSpace(requirement)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	var features []feature
	for _, group := range complexity.DetectFeatureGroups(text) {
		var reqs []string
		for _, sentence := range sentences {
			if group.Pattern.MatchString(sentence) {
				reqs = append(reqs, sentence)
			}
		}
		if len(reqs) == 0 {
			reqs = []string{group.Title}
		}
		features = append(features, feature{
			name:         group.Name,
			title:        group.Title,
			requirements: reqs,
			domains:      append([]string(nil), group.Domains...),
			deliverable:  group.Deliverable,
		})
	}
	if len(features) > 0 {
		return features
	}

	for i, item := range complexity.ExtractListItems(text) {
		title := truncate(item, maxItemLength)
		features = append(features, feature{
			name:         fmt.Sprintf("item-%d", i+1),
			title:        title,
			requirements: []string{item},
			domains:      complexity.DetectDomains(item),
			deliverable:  title,
		})
	}
	if len(features) > 0 {
		return features
	}

	return []feature{{
		name:         "requirement",
		title:        "Implementation",
		requirements: []string{truncate(text, maxItemLength)},
		domains:      complexity.DetectDomains(text),
	}}
}

func layerMatches(layer Layer, requirement string, s complexity.Score) bool {
	if layer.Keywords.MatchString(requirement) {
		return true
	}
	for _, d := range layer.Domains {
		if s.HasDomain(d) {
			return true
		}
	}
	return false
}

func sentenceMatchesLayer(layer Layer, sentence string) bool {
	if layer.Keywords.MatchString(sentence) {
		return true
	}
	for _, d := range complexity.DetectDomains(sentence) {
		for _, ld := range layer.Domains {
			if d == ld {
				return true
			}
		}
	}
	return false
}

var sentenceSplit = regexp.MustCompile(`[\n.;!?]+`)

func splitSentences(text string) []string {
	var out []string
	for _, part := range sentenceSplit.Split(text, -1) {
		part = strings.TrimSpace(part)
		part = strings.TrimLeft(part, "-*•0123456789) ")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func sortedSet(items []string) []string {
	out := dedupe(items)
	sort.Strings(out)
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
