// Package keywords answers simple questions (arithmetic, FAQ entries and
// courtesy replies) without invoking a model.
package keywords

import (
	_ "embed"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed faq.yaml
var defaultTable []byte

// Match types reported for deterministic answers.
const (
	TypeSimpleMath     = "simple_math"
	TypeExactKeyword   = "exact_keyword"
	TypePartialKeyword = "partial_keyword"
	TypeSimpleResponse = "simple_response"
)

// Reasons reported when a model must answer.
const (
	ReasonComplex = "Complex query requires AI"
	ReasonNoMatch = "No keyword match found"
)

// Result is the outcome of Classify. When UseModel is false the question is
// answered by Response.
type Result struct {
	UseModel    bool
	Response    string
	MatchType   string
	Confidence  *float64
	Reason      string
	QueryLength int
}

type faqEntry struct {
	Keyword  string `yaml:"keyword"`
	Response string `yaml:"response"`
}

type table struct {
	ModelRequired        []string   `yaml:"model_required"`
	FAQ                  []faqEntry `yaml:"faq"`
	Acknowledgements     []string   `yaml:"acknowledgements"`
	AcknowledgementReply string     `yaml:"acknowledgement_reply"`
}

type arithmetic struct {
	pattern *regexp.Regexp
	compute func(a, b *big.Int) string
}

var arithmeticRules = []arithmetic{
	{regexp.MustCompile(`what is (\d+)\s*\+\s*(\d+)`), func(a, b *big.Int) string {
		return fmt.Sprintf("%s + %s = %s", a, b, new(big.Int).Add(a, b))
	}},
	{regexp.MustCompile(`what is (\d+)\s*-\s*(\d+)`), func(a, b *big.Int) string {
		return fmt.Sprintf("%s - %s = %s", a, b, new(big.Int).Sub(a, b))
	}},
	{regexp.MustCompile(`what is (\d+)\s*\*\s*(\d+)`), func(a, b *big.Int) string {
		return fmt.Sprintf("%s × %s = %s", a, b, new(big.Int).Mul(a, b))
	}},
	{regexp.MustCompile(`what is (\d+)\s*/\s*(\d+)`), func(a, b *big.Int) string {
		return fmt.Sprintf("%s ÷ %s = %s", a, b, quotient(a, b))
	}},
}

// quotient renders a/b as an integer when exact and with three decimals
// otherwise. Division by zero renders as Infinity, or NaN for 0/0.
func quotient(a, b *big.Int) string {
	if b.Sign() == 0 {
		if a.Sign() == 0 {
			return "NaN"
		}
		return "Infinity"
	}
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	return new(big.Rat).SetFrac(a, b).FloatString(3)
}

// Matcher classifies questions against a keyword table.
type Matcher struct {
	t table
}

// New parses a YAML keyword table.
func New(data []byte) (*Matcher, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("keywords: parsing table: %w", err)
	}
	if len(t.FAQ) == 0 {
		return nil, fmt.Errorf("keywords: table has no faq entries")
	}
	return &Matcher{t: t}, nil
}

// Default returns a Matcher over the built-in table.
func Default() (*Matcher, error) {
	return New(defaultTable)
}

// Classify decides whether q can be answered without a model. The checks run
// in a fixed order and the first that matches wins: model-required keywords,
// arithmetic, exact FAQ match, substring FAQ match, acknowledgement.
func (m *Matcher) Classify(q string) *Result {
	// Only case and surrounding space are normalized so that arithmetic
	// operators survive.
	text := strings.ToLower(strings.TrimSpace(q))

	for _, kw := range m.t.ModelRequired {
		if strings.Contains(text, kw) {
			return &Result{UseModel: true, Reason: ReasonComplex}
		}
	}

	for _, rule := range arithmeticRules {
		match := rule.pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		a, okA := new(big.Int).SetString(match[1], 10)
		b, okB := new(big.Int).SetString(match[2], 10)
		if !okA || !okB {
			continue
		}
		return &Result{Response: rule.compute(a, b), MatchType: TypeSimpleMath}
	}

	for _, e := range m.t.FAQ {
		if text == e.Keyword {
			return &Result{Response: e.Response, MatchType: TypeExactKeyword}
		}
	}

	for _, e := range m.t.FAQ {
		if strings.Contains(text, e.Keyword) {
			c := confidence(text, e.Keyword)
			return &Result{Response: e.Response, MatchType: TypePartialKeyword, Confidence: &c}
		}
	}

	if len(text) < 10 {
		for _, ack := range m.t.Acknowledgements {
			if text == ack {
				return &Result{Response: m.t.AcknowledgementReply, MatchType: TypeSimpleResponse}
			}
		}
	}

	return &Result{UseModel: true, Reason: ReasonNoMatch, QueryLength: len(text)}
}

// confidence is the fraction of keyword words that overlap some query word,
// where overlap means either word contains the other.
func confidence(text, keyword string) float64 {
	queryWords := strings.Split(text, " ")
	keywordWords := strings.Split(keyword, " ")

	matched := 0
	for _, kw := range keywordWords {
		for _, qw := range queryWords {
			if strings.Contains(qw, kw) || strings.Contains(kw, qw) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(keywordWords))
}
