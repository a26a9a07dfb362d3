package sections

import (
	"strings"
)

// NormalizeLineEndings converts CRLF and lone CR line endings to LF.
func NormalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// CleanScript strips the lines a runner replaces with its own preamble: the
// shebang, result-file assignments and the CSV header redirect into the
// result file.
func CleanScript(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#!"):
			continue
		case strings.Contains(trimmed, "resultfile="):
			continue
		case isResultHeader(trimmed):
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isResultHeader(line string) bool {
	switch line {
	case `echo "항목코드,결과" > "$resultfile"`,
		`echo "항목코드,결과" > $resultfile`,
		`echo 항목코드,결과 > "$resultfile"`,
		`echo 항목코드,결과 > $resultfile`:
		return true
	}
	return false
}
