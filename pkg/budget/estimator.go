package budget

import (
	"fmt"
	"math"
	"regexp"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator turns raw text into an approximate token count. Estimates are
// heuristic; no implementation is expected to match a provider's count.
type Estimator interface {
	EstimateTokens(text string) int
}

const (
	defaultCharsPerToken = 4.0

	codeDensityThreshold = 10
	codeMultiplier       = 1.2

	whitespaceRatioThreshold = 0.30
	whitespaceMultiplier     = 0.9
)

var codeSyntax = regexp.MustCompile(`[{}()\[\];=<>]|=>|::|->|\bfunc\b|\bfunction\b|\bconst\b|\breturn\b`)

// HeuristicEstimator estimates from character count, adjusted for code-like
// density and whitespace-heavy text.
type HeuristicEstimator struct {
	CharsPerToken float64
}

// NewHeuristicEstimator uses four characters per token.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{CharsPerToken: defaultCharsPerToken}
}

// EstimateTokens returns ceil(len/charsPerToken), times 1.2 when the text
// has more than ten code-syntax matches and times 0.9 when more than 30% of
// it is whitespace.
func (e *HeuristicEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cpt := e.CharsPerToken
	if cpt <= 0 {
		cpt = defaultCharsPerToken
	}

	estimate := math.Ceil(float64(len(text)) / cpt)

	if len(codeSyntax.FindAllStringIndex(text, -1)) > codeDensityThreshold {
		estimate *= codeMultiplier
	}

	runes, spaces := 0, 0
	for _, r := range text {
		runes++
		if unicode.IsSpace(r) {
			spaces++
		}
	}
	if float64(spaces)/float64(runes) > whitespaceRatioThreshold {
		estimate *= whitespaceMultiplier
	}

	return int(math.Ceil(estimate))
}

// TiktokenEstimator counts tokens with a BPE encoding.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding, e.g. "cl100k_base". The
// encoding file is fetched and cached by tiktoken-go on first use.
func NewTiktokenEstimator(encodingName string) (*TiktokenEstimator, error) {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encodingName, err)
	}
	return &TiktokenEstimator{encoding: enc}, nil
}

// EstimateTokens returns the exact BPE token count for text.
func (e *TiktokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(e.encoding.Encode(text, nil, nil))
}
