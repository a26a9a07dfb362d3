package sections

import (
	"regexp"
	"strings"
)

var checkLine = regexp.MustCompile(`※ (U-\d+) 결과 : (.+)`)

// CheckResult is a single check verdict printed by an inspection unit.
type CheckResult struct {
	Code   string `json:"code"`
	Result string `json:"result"`
}

// ExtractChecks collects check verdict lines from script output. A code
// reported more than once keeps its first position and its last result.
func ExtractChecks(output string) []CheckResult {
	var (
		checks []CheckResult
		index  = make(map[string]int)
	)
	for _, m := range checkLine.FindAllStringSubmatch(output, -1) {
		code, result := m[1], strings.TrimSpace(m[2])
		if i, ok := index[code]; ok {
			checks[i].Result = result
			continue
		}
		index[code] = len(checks)
		checks = append(checks, CheckResult{Code: code, Result: result})
	}
	return checks
}
