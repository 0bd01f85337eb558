// Package strategy decides how a job is attempted: which argument sets are
// tried in which order, and how failures are classified between attempts.
package strategy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cwygoda/mediagrab/internal/domain"
)

//go:embed default_policy.toml
var defaultPolicy string

// AnyPlatform matches every platform in an attempt spec.
const AnyPlatform = "*"

// AttemptSpec is one declared fallback tier.
type AttemptSpec struct {
	Name     string   `toml:"name"`
	Media    string   `toml:"media"`
	Platform string   `toml:"platform"`
	Args     []string `toml:"args"`
}

// RuleSpec maps an output pattern to a failure kind and client message.
type RuleSpec struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Pattern string `toml:"pattern"`
	Message string `toml:"message"`
}

// Policy is the declarative attempt table plus the classification rules.
type Policy struct {
	Attempts []AttemptSpec `toml:"attempts"`
	Rules    []RuleSpec    `toml:"rules"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a policy file. An empty path yields the built-in policy.
// A file that declares no attempts or no rules inherits that section from
// the built-in policy.
func LoadPolicy(path string) (*Policy, error) {
	def, err := DefaultPolicy()
	if err != nil {
		return nil, fmt.Errorf("built-in policy: %w", err)
	}
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := ParsePolicy(string(data))
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	if len(p.Attempts) == 0 {
		p.Attempts = def.Attempts
	}
	if len(p.Rules) == 0 {
		p.Rules = def.Rules
	}
	return p, nil
}

// ParsePolicy decodes and validates a TOML policy document.
func ParsePolicy(data string) (*Policy, error) {
	var p Policy
	md, err := toml.Decode(data, &p)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) validate() error {
	for i, a := range p.Attempts {
		if a.Name == "" {
			return fmt.Errorf("attempt %d: name is required", i)
		}
		if _, err := domain.ParseMediaType(a.Media); err != nil || a.Media == "" {
			return fmt.Errorf("attempt %q: invalid media %q", a.Name, a.Media)
		}
		if a.Platform == "" {
			p.Attempts[i].Platform = AnyPlatform
		}
	}
	for _, r := range p.Rules {
		switch domain.FailureKind(r.Kind) {
		case domain.FailureContentAccess, domain.FailureFormatUnavailable, domain.FailureTransient:
		default:
			return fmt.Errorf("rule %q: invalid kind %q", r.Name, r.Kind)
		}
		if r.Pattern == "" || r.Message == "" {
			return fmt.Errorf("rule %q: pattern and message are required", r.Name)
		}
	}
	return nil
}
