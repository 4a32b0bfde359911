// Package secrets redacts credentials from record text before it is embedded.
//
// Redacted text is what lands in the vector payload, so a credential pasted
// into a tenant record can never be retrieved into a prompt.
package secrets

import (
	"fmt"
	"regexp"
)

// DefaultReplacement replaces each redacted span.
const DefaultReplacement = "[REDACTED]"

// Config configures the Scrubber.
type Config struct {
	// Replacement substitutes each redacted span. Empty means DefaultReplacement.
	Replacement string `koanf:"replacement"`

	// Rules are the detection rules. Nil means DefaultRules.
	Rules []Rule `koanf:"rules"`

	// AllowList holds patterns whose matches are never redacted.
	AllowList []string `koanf:"allow_list"`
}

// Rule detects one kind of credential.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`

	// Keywords, when set, must appear (case-insensitively) somewhere in the
	// text before Pattern is tried.
	Keywords []string `koanf:"keywords"`
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords *regexp.Regexp
}

func (c Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := c.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern %q: %v", r.ID, r.Pattern, err)
		}
		cr := compiledRule{id: r.ID, pattern: re}
		if len(r.Keywords) > 0 {
			alts := make([]string, len(r.Keywords))
			for j, kw := range r.Keywords {
				alts[j] = regexp.QuoteMeta(kw)
			}
			cr.keywords = regexp.MustCompile("(?i)" + joinAlternation(alts))
		}
		compiled = append(compiled, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: %w", i, err)
		}
		allow = append(allow, re)
	}
	return compiled, allow, nil
}

func joinAlternation(alts []string) string {
	out := alts[0]
	for _, a := range alts[1:] {
		out += "|" + a
	}
	return out
}
