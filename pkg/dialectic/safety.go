package dialectic

import (
	"regexp"
	"strconv"
	"strings"
)

// forbiddenPatterns are textual markers that make a proposed condition
// unsafe regardless of surrounding wording (spec.md §4.9).
var forbiddenPatterns = []string{
	"disable",
	"bypass",
	"ignore safety",
	"remove monitoring",
	"skip governance",
	"override limits",
}

var thresholdPattern = regexp.MustCompile(`risk\s*(?:>|>=|greater than)\s*0?\.(\d+)`)

// SafetyVerdict is the outcome of the hard-limits safety check.
type SafetyVerdict struct {
	Safe    bool
	Reasons []string
}

// CheckSafety runs the hard-limits safety check over a set of proposed
// conditions (spec.md §4.9): rejects any condition containing a
// forbidden pattern, or proposing a risk threshold above 0.90. It is
// conservative by design — the check is advisory over free-form text,
// so any match is treated as unsafe rather than attempting to parse
// intent.
func CheckSafety(conditions []string) SafetyVerdict {
	v := SafetyVerdict{Safe: true}
	for _, c := range conditions {
		lower := strings.ToLower(c)
		for _, pat := range forbiddenPatterns {
			if strings.Contains(lower, pat) {
				v.Safe = false
				v.Reasons = append(v.Reasons, "condition matches forbidden pattern \""+pat+"\": "+c)
			}
		}
		if m := thresholdPattern.FindStringSubmatch(lower); m != nil {
			frac, err := strconv.ParseFloat("0."+m[1], 64)
			if err == nil && frac > 0.90 {
				v.Safe = false
				v.Reasons = append(v.Reasons, "condition proposes a risk threshold above 0.90: "+c)
			}
		}
	}
	return v
}
