package retry

import "regexp"

// Rule names one class of permanently-failing errors, matched against error
// messages case-insensitively.
//
// The classification is data, not scattered conditionals, so deployments can
// extend it via Config.Rules and tests can exercise it in isolation.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultRules lists the error classes that must never be retried:
// contract violations and client errors fail fast with zero attempts, while
// transient classes (rate limits, network resets, timeouts) stay retryable.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "validation", Pattern: regexp.MustCompile(`(?i)validation`)},
		{Name: "invalid-argument", Pattern: regexp.MustCompile(`(?i)invalid[ -_]?argument`)},
		{Name: "unauthorized", Pattern: regexp.MustCompile(`(?i)unauthorized`)},
		{Name: "forbidden", Pattern: regexp.MustCompile(`(?i)forbidden`)},
		{Name: "not-found", Pattern: regexp.MustCompile(`(?i)not[ -_]?found`)},
		{Name: "bad-request", Pattern: regexp.MustCompile(`(?i)bad[ -_]?request`)},
		{Name: "syntax-error", Pattern: regexp.MustCompile(`(?i)syntax[ -_]?error`)},
	}
}

// classify returns the first rule matching the error message, if any.
func classify(rules []Rule, msg string) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern != nil && r.Pattern.MatchString(msg) {
			return r, true
		}
	}
	return Rule{}, false
}
