// Package detect scans normalized messages against an immutable ruleset
// snapshot. Detection is pure and lock-free; safe to run fully parallel.
package detect

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// DefaultRegexBudget bounds one regex evaluation when a rule does not
// set its own budget.
const DefaultRegexBudget = 50 * time.Millisecond

// Ruleset is a compiled snapshot. Build it once per pipeline run; workers
// pin the snapshot they started with.
type Ruleset struct {
	Version string
	rules   []compiledRule
}

type compiledRule struct {
	rule domain.Rule
	// lowered keyword for literal rules
	keyword string
	re      *regexp.Regexp
	budget  time.Duration
}

// Compile validates and compiles a rule snapshot. Invalid regex patterns
// fail compilation: a broken rule should surface at startup, not be
// silently skipped per message.
func Compile(rs domain.Ruleset) (*Ruleset, error) {
	out := &Ruleset{Version: rs.Version, rules: make([]compiledRule, 0, len(rs.Rules))}
	for _, r := range rs.Rules {
		switch r.Kind {
		case domain.RuleLiteral:
			if r.Keyword == "" {
				return nil, fmt.Errorf("literal rule with empty keyword")
			}
			out.rules = append(out.rules, compiledRule{rule: r, keyword: strings.ToLower(r.Keyword)})
		case domain.RuleRegex:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regex rule %q: %w", r.Pattern, err)
			}
			budget := r.Budget
			if budget <= 0 {
				budget = DefaultRegexBudget
			}
			out.rules = append(out.rules, compiledRule{rule: r, re: re, budget: budget})
		default:
			return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
		}
	}
	return out, nil
}

// Detector evaluates messages against compiled rulesets.
type Detector struct {
	log *logging.Logger
	now func() time.Time
}

func New(log *logging.Logger) *Detector {
	return &Detector{log: log.Named("detect"), now: time.Now}
}

// Detect returns the merged Match for msg, or false when nothing
// matches. All matching keywords are merged into one Match in rule
// order, so repeated runs over the same inputs yield identical results.
func (d *Detector) Detect(msg domain.InboundMessage, rs *Ruleset) (domain.Match, bool) {
	lowered := strings.ToLower(msg.Text)
	var matched []string
	seen := map[string]bool{}
	for _, cr := range rs.rules {
		var kw string
		switch {
		case cr.re == nil:
			if strings.Contains(lowered, cr.keyword) {
				kw = cr.rule.Keyword
			}
		default:
			ok, timedOut := d.matchRegex(cr, msg.Text)
			if timedOut {
				d.log.Warnw("regex rule exceeded budget, treated as non-matching",
					"pattern", cr.rule.Pattern, "budget", cr.budget)
				continue
			}
			if ok {
				kw = cr.rule.Pattern
			}
		}
		if kw != "" && !seen[kw] {
			seen[kw] = true
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return domain.Match{}, false
	}
	return domain.Match{
		Message:         msg,
		MatchedKeywords: matched,
		RuleVersion:     rs.Version,
		DetectedAt:      d.now().UTC(),
	}, true
}

// matchRegex evaluates one regex rule under its time budget. Go's RE2
// engine cannot backtrack catastrophically, but very large inputs can
// still exceed the budget; those rules are treated as non-matching.
func (d *Detector) matchRegex(cr compiledRule, text string) (matched, timedOut bool) {
	done := make(chan bool, 1)
	go func() {
		done <- cr.re.MatchString(text)
	}()
	t := time.NewTimer(cr.budget)
	defer t.Stop()
	select {
	case m := <-done:
		return m, false
	case <-t.C:
		return false, true
	}
}
