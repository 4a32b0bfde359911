package secrets

import (
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redactions counts redacted spans by rule.
var Redactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lorekeeper",
	Subsystem: "secrets",
	Name:      "redactions_total",
	Help:      "Credential spans redacted from record text, by rule",
}, []string{"rule"})

// Result is the outcome of one Scrub call. Matched text is never retained.
type Result struct {
	Text     string
	Findings map[string]int
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool { return len(r.Findings) > 0 }

// RuleIDs returns the matched rule IDs in sorted order.
func (r Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.Findings))
	for id := range r.Findings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Scrubber replaces credential-looking spans. It is safe for concurrent use.
type Scrubber struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
}

// New compiles cfg into a Scrubber.
func New(cfg Config) (*Scrubber, error) {
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	replacement := cfg.Replacement
	if replacement == "" {
		replacement = DefaultReplacement
	}
	return &Scrubber{rules: rules, allow: allow, replacement: replacement}, nil
}

type span struct{ start, end int }

// Scrub redacts every rule match in text. Overlapping matches collapse into a
// single replacement.
func (s *Scrubber) Scrub(text string) Result {
	res := Result{Text: text}
	if text == "" {
		return res
	}

	var spans []span
	for _, rule := range s.rules {
		if rule.keywords != nil && !rule.keywords.MatchString(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			if res.Findings == nil {
				res.Findings = make(map[string]int)
			}
			res.Findings[rule.id]++
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	last := 0
	for i := 0; i < len(spans); {
		cur := spans[i]
		for i++; i < len(spans) && spans[i].start <= cur.end; i++ {
			if spans[i].end > cur.end {
				cur.end = spans[i].end
			}
		}
		b.WriteString(text[last:cur.start])
		b.WriteString(s.replacement)
		last = cur.end
	}
	b.WriteString(text[last:])
	res.Text = b.String()

	for id, n := range res.Findings {
		Redactions.WithLabelValues(id).Add(float64(n))
	}
	return res
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
