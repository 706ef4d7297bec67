package complexity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_TrivialRequirement(t *testing.T) {
	score := NewAnalyzer().Analyze("Fix typo in README")

	assert.Equal(t, LevelLow, score.Level)
	assert.Equal(t, RecommendProceed, score.Recommendation)
	assert.Empty(t, score.Metrics.TechnicalDomains)
	assert.Equal(t, 1, score.SuggestedPhaseCount)
}

func TestAnalyze_EmptyRequirement(t *testing.T) {
	score := NewAnalyzer().Analyze("   ")

	assert.Equal(t, 0, score.Score)
	assert.Equal(t, LevelLow, score.Level)
	assert.Equal(t, baseTokens, score.EstimatedTokens)
	assert.Equal(t, 1, score.SuggestedPhaseCount)
	assert.NotNil(t, score.Metrics.RiskFactors)
}

func TestAnalyze_FullStackRequirement(t *testing.T) {
	score := NewAnalyzer().Analyze("Build a full-stack app with React frontend, Express backend, and Postgres database")

	assert.Equal(t, []string{"backend", "database", "frontend"}, score.Metrics.TechnicalDomains)
	assert.Contains(t, score.Metrics.RiskFactors, "broad scope")
	assert.True(t, score.HasDomain("frontend"))
	assert.False(t, score.HasDomain("mobile"))
}

func TestAnalyze_LargeRequirementSplits(t *testing.T) {
	req := `Build a SaaS platform from scratch:
- user accounts with OAuth login and roles
- Stripe billing and subscriptions
- real-time chat with websockets
- analytics dashboard with charts
- file uploads to S3
- email notifications
Deploy with Docker and Kubernetes, Postgres database, React frontend, GraphQL API, e2e tests.`

	score := NewAnalyzer().Analyze(req)

	assert.GreaterOrEqual(t, score.Score, splitScore)
	assert.NotEqual(t, RecommendProceed, score.Recommendation)
	assert.Greater(t, score.SuggestedPhaseCount, 1)
	assert.LessOrEqual(t, score.SuggestedPhaseCount, maxSuggestedPhases)
	assert.LessOrEqual(t, score.Score, 100)
}

func TestLevelBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{24, LevelLow},
		{25, LevelMedium},
		{49, LevelMedium},
		{50, LevelHigh},
		{74, LevelHigh},
		{75, LevelExtreme},
		{100, LevelExtreme},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelFor(tt.score), "score %d", tt.score)
	}
}

func TestExtractListItems(t *testing.T) {
	items := ExtractListItems("Do these:\n- first thing\n2. second thing\n  * third\nnot an item")
	assert.Equal(t, []string{"first thing", "second thing", "third"}, items)
}

func TestDetectFeatureGroups_CatalogOrder(t *testing.T) {
	groups := DetectFeatureGroups("add search and a login page")
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"auth", "search"}, names)
}
