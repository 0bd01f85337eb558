package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cwygoda/mediagrab/internal/domain"
)

// Classification is the outcome of matching failure output against the rules.
type Classification struct {
	Kind    domain.FailureKind
	Message string
	Rule    string
}

// Recoverable reports whether the fallback chain may continue.
func (c Classification) Recoverable() bool {
	return c.Kind.Recoverable()
}

type rule struct {
	name    string
	kind    domain.FailureKind
	pattern *regexp.Regexp
	message string
}

// Classifier maps engine output to typed failures using a prioritized rule
// table. The first matching rule wins.
type Classifier struct {
	rules []rule
}

// NewClassifier compiles the rule specs.
func NewClassifier(specs []RuleSpec) (*Classifier, error) {
	c := &Classifier{rules: make([]rule, 0, len(specs))}
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", s.Name, err)
		}
		c.rules = append(c.rules, rule{
			name:    s.Name,
			kind:    domain.FailureKind(s.Kind),
			pattern: re,
			message: s.Message,
		})
	}
	return c, nil
}

// Classify matches text against the rules. When the engine reported ERROR
// lines only those are considered, so warnings and file names elsewhere in
// the log cannot decide the kind. Otherwise progress and warning lines are
// skipped. Unmatched output is a transient failure.
func (c *Classifier) Classify(text string) Classification {
	subject := errorLines(text)
	if subject == "" {
		subject = withoutNoise(text)
	}
	if cl, ok := c.match(subject); ok {
		return cl
	}
	return Classification{Kind: domain.FailureTransient, Message: domain.MsgGeneric}
}

func (c *Classifier) match(text string) (Classification, bool) {
	for _, r := range c.rules {
		if r.pattern.MatchString(text) {
			return Classification{Kind: r.kind, Message: r.message, Rule: r.name}, true
		}
	}
	return Classification{}, false
}

func errorLines(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "ERROR") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// withoutNoise drops warnings and download progress, which echo titles and
// destination paths.
func withoutNoise(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "WARNING:") || strings.HasPrefix(trimmed, "[download]") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
