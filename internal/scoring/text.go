package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// offensiveThreshold is the weight a rule must exceed for text to be flagged.
const offensiveThreshold = 0.6

// uninspectedFloor is reported for text that was inspected but matched nothing.
const uninspectedFloor = 0.1

// Rule is one weighted lexical pattern.
type Rule struct {
	Name    string  `json:"name"`
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`

	re *regexp.Regexp
}

// DefaultRules returns the built-in rule table. Wording is policy; the weight
// tiers are not.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "slur", Pattern: `\b(nigger|nigga|fag|faggot|chink|spic|kike)\b`, Weight: 1.0},
		{Name: "profanity", Pattern: `\b(fuck|shit|asshole|bitch|bastard|cunt|dick|pussy|cock)\b`, Weight: 0.9},
		{Name: "insult", Pattern: `\b(retard|moron|idiot|stupid|dumbass|motherfucker)\b`, Weight: 0.8},
		{Name: "threat", Pattern: `\b(kill|murder|die|death threat|suicide|kys|end yourself)\b`, Weight: 0.95},
		{Name: "group_hate", Pattern: `\b(hate|despise|loathe)\b.*\b(you|people|gays|jews|blacks|whites|asians)\b`, Weight: 0.85},
		{Name: "hostility", Pattern: `\b(die|burn in hell|go to hell)\b`, Weight: 0.7},
	}
}

// TextClassifier scores raw text against an ordered rule table. The verdict
// confidence is the strongest matching weight, never a sum.
type TextClassifier struct {
	rules []Rule
}

// NewTextClassifier compiles the provided rules.
func NewTextClassifier(rules []Rule) (*TextClassifier, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			name = fmt.Sprintf("rule_%d", i+1)
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("rule %s: empty pattern", name)
		}
		if rule.Weight <= 0 || rule.Weight > 1 {
			return nil, fmt.Errorf("rule %s: weight %.2f outside (0,1]", name, rule.Weight)
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		compiled = append(compiled, Rule{Name: name, Pattern: rule.Pattern, Weight: rule.Weight, re: re})
	}
	return &TextClassifier{rules: compiled}, nil
}

// LoadTextClassifier constructs a classifier from a JSON rule file.
func LoadTextClassifier(path string) (*TextClassifier, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read moderation rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("unmarshal moderation rules: %w", err)
	}
	classifier, err := NewTextClassifier(rules)
	if err != nil {
		return nil, err
	}
	if err := classifier.Validate(); err != nil {
		return nil, err
	}
	return classifier, nil
}

// Classify inspects text and returns its verdict.
func (c *TextClassifier) Classify(text string) SubVerdict {
	content := strings.ToLower(strings.TrimSpace(text))
	if content == "" {
		return NoTextVerdict()
	}

	var (
		maxWeight float64
		matched   []string
	)
	for _, rule := range c.rules {
		if !rule.re.MatchString(content) {
			continue
		}
		matched = append(matched, rule.Name)
		if rule.Weight > maxWeight {
			maxWeight = rule.Weight
		}
	}

	if len(matched) == 0 {
		return SubVerdict{Label: LabelClean, Confidence: uninspectedFloor}
	}

	verdict := SubVerdict{
		IsOffensive: maxWeight > offensiveThreshold,
		Label:       LabelClean,
		Confidence:  clamp01(maxWeight),
		Extra:       map[string]any{"matchedRules": matched},
	}
	if verdict.IsOffensive {
		verdict.Label = LabelOffensiveText
	}
	return verdict
}

// Rules exposes the compiled rule table (primarily for testing).
func (c *TextClassifier) Rules() []Rule {
	if c == nil {
		return nil
	}
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Validate ensures the classifier has at least one rule.
func (c *TextClassifier) Validate() error {
	if c == nil {
		return errors.New("text classifier is nil")
	}
	if len(c.rules) == 0 {
		return errors.New("moderation rules missing")
	}
	return nil
}
