// Package complexity scores natural-language requirements.
//
// The score drives two decisions downstream: whether a mission runs as a
// single unit or as dependency-ordered phases, and how many phases and
// tokens the phase generator should plan for. Scoring is heuristic and
// pluggable through the Scorer interface.
package complexity

// Level buckets a numeric score.
type Level string

const (
	LevelLow     Level = "LOW"
	LevelMedium  Level = "MEDIUM"
	LevelHigh    Level = "HIGH"
	LevelExtreme Level = "EXTREME"
)

// IsValid checks if a level value is valid
func (l Level) IsValid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelExtreme:
		return true
	}
	return false
}

// Recommendation is the analyzer's advice on how to execute a requirement.
type Recommendation string

const (
	RecommendProceed              Recommendation = "PROCEED"
	RecommendSplitPhases          Recommendation = "SPLIT_PHASES"
	RecommendRequireClarification Recommendation = "REQUIRE_CLARIFICATION"
)

// Metrics are the raw signals a score was computed from.
type Metrics struct {
	// TechnicalDomains is a sorted set of detected domain names.
	TechnicalDomains []string `json:"technicalDomains"`
	FeatureCount     int      `json:"featureCount"`
	RiskFactors      []string `json:"riskFactors"`
	WordCount        int      `json:"wordCount"`
}

// Score is produced once per requirement and never mutated afterwards.
type Score struct {
	Score               int            `json:"score"`
	Level               Level          `json:"level"`
	Recommendation      Recommendation `json:"recommendation"`
	EstimatedTokens     int            `json:"estimatedTokens"`
	SuggestedPhaseCount int            `json:"suggestedPhaseCount"`
	Metrics             Metrics        `json:"metrics"`
}

// HasDomain reports whether the named technical domain was detected.
func (s Score) HasDomain(domain string) bool {
	for _, d := range s.Metrics.TechnicalDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// Scorer computes a Score for a requirement.
type Scorer interface {
	Analyze(requirement string) Score
}
