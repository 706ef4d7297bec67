package complexity

import (
	"math"
	"strings"
)

const (
	baseTokens          = 4000
	tokensPerDomain     = 9000
	tokensPerFeature    = 6000
	tokensPerWord       = 40
	tokensPerPhaseSplit = 40000
	maxSuggestedPhases  = 8

	splitScore = 50
)

// Analyzer is the heuristic Scorer used by default.
type Analyzer struct{}

// NewAnalyzer creates a heuristic analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze scores a requirement. An empty requirement scores 0.
func (a *Analyzer) Analyze(requirement string) Score {
	text := strings.TrimSpace(requirement)
	words := len(strings.Fields(text))

	domains := DetectDomains(text)
	risks := DetectRisks(text)
	features := len(DetectFeatureGroups(text))
	if items := len(ExtractListItems(text)); items > features {
		features = items
	}

	lengthBonus := words / 15
	if lengthBonus > 15 {
		lengthBonus = 15
	}
	score := 12*len(domains) + 6*features + 8*len(risks) + lengthBonus
	if score > 100 {
		score = 100
	}

	level := levelFor(score)

	recommendation := RecommendProceed
	switch {
	case level == LevelExtreme && len(risks) >= 4:
		recommendation = RecommendRequireClarification
	case score >= splitScore:
		recommendation = RecommendSplitPhases
	}

	estimated := baseTokens + tokensPerDomain*len(domains) + tokensPerFeature*features + tokensPerWord*words

	phases := int(math.Ceil(float64(estimated) / tokensPerPhaseSplit))
	if score >= splitScore && phases < len(domains) {
		phases = len(domains)
	}
	if phases < 1 {
		phases = 1
	}
	if phases > maxSuggestedPhases {
		phases = maxSuggestedPhases
	}

	if risks == nil {
		risks = []string{}
	}

	return Score{
		Score:               score,
		Level:               level,
		Recommendation:      recommendation,
		EstimatedTokens:     estimated,
		SuggestedPhaseCount: phases,
		Metrics: Metrics{
			TechnicalDomains: domains,
			FeatureCount:     features,
			RiskFactors:      risks,
			WordCount:        words,
		},
	}
}

func levelFor(score int) Level {
	switch {
	case score < 25:
		return LevelLow
	case score < 50:
		return LevelMedium
	case score < 75:
		return LevelHigh
	default:
		return LevelExtreme
	}
}
