package domain

import "time"

// RuleKind tags the two supported rule variants.
type RuleKind string

const (
	RuleLiteral RuleKind = "LITERAL"
	RuleRegex   RuleKind = "REGEX"
)

// Rule is one keyword rule. Literal rules match case-insensitively as a
// substring; regex rules match with standard semantics under a bounded
// execution budget.
type Rule struct {
	Kind    RuleKind `json:"kind"`
	Keyword string   `json:"keyword,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	// Budget bounds one regex evaluation. A rule that exceeds it is
	// treated as non-matching, never fatal to the pipeline.
	Budget time.Duration `json:"budget,omitempty"`
}

// Ruleset is an immutable snapshot of the active rules. Workers pin the
// snapshot they started with; a hot swap never affects in-flight work.
type Ruleset struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Literals builds a literal ruleset from plain keywords, the common case
// for labor-dispute monitoring configs.
func Literals(version string, keywords ...string) Ruleset {
	rs := Ruleset{Version: version, Rules: make([]Rule, 0, len(keywords))}
	for _, kw := range keywords {
		rs.Rules = append(rs.Rules, Rule{Kind: RuleLiteral, Keyword: kw})
	}
	return rs
}
