package sections

import (
	"strings"
)

// Reconstruct builds a runnable script from the selected section ids using
// the default convention.
func Reconstruct(text string, ids []string) string {
	return defaultParser.Reconstruct(text, ids)
}

// Reconstruct builds a script that holds only the sections the ids address,
// in request order. Ids are resolved against Parse(text), so they mean the
// same thing here as in the section list shown for the script. A unit is
// captured from its boundary line and followed by an invocation; init and
// whole-script sections are copied as they are. Unknown ids are skipped.
// When nothing could be captured the original text is returned unchanged.
//
// Brace depth is counted per character, so braces inside string literals or
// heredocs spanning lines can end a block early or late.
func (p *Parser) Reconstruct(text string, ids []string) string {
	if len(ids) == 0 {
		return text
	}

	byID := make(map[string]Section)
	for _, s := range p.Parse(text) {
		byID[s.ID] = s
	}
	lines := splitLines(text)

	parts := []string{p.conv.Interpreter, ""}
	captured := 0

	for _, id := range ids {
		s, ok := byID[strings.TrimSpace(id)]
		if !ok {
			continue
		}

		if !s.unit {
			block := plainBlock(s.Content)
			if len(block) == 0 {
				continue
			}
			parts = append(parts, "# === "+s.Name+" ===")
			parts = append(parts, block...)
			parts = append(parts, "")
			captured++
			continue
		}

		block := p.extractUnit(lines, s.LineStart-1, s.Name)
		if len(block) == 0 {
			continue
		}

		parts = append(parts, "# === "+s.Name+" ===")
		parts = append(parts, block...)
		parts = append(parts, s.Name, "")
		captured++
	}

	if captured == 0 {
		return text
	}
	return strings.Join(parts, "\n")
}

// extractUnit returns the lines of the definition of name at or after line
// from, starting at the line the boundary pattern matches and ending at the
// line that balances its braces.
func (p *Parser) extractUnit(lines []string, from int, name string) []string {
	var (
		block []string
		depth int
		in    bool
	)
	for _, line := range lines[max(from, 0):] {
		if !in {
			m := p.boundary.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil || m[1] != name {
				continue
			}
			in = true
			depth = braceDelta(line)
			block = append(block, line)
			if depth <= 0 {
				break
			}
			continue
		}

		block = append(block, line)
		depth += braceDelta(line)
		if depth <= 0 {
			break
		}
	}
	return block
}

// plainBlock returns the lines of a non-unit section without interpreter
// lines, which the reconstructed script already starts with.
func plainBlock(content string) []string {
	var block []string
	for _, line := range splitLines(content) {
		if strings.HasPrefix(strings.TrimSpace(line), "#!") {
			continue
		}
		block = append(block, line)
	}
	if strings.TrimSpace(strings.Join(block, "\n")) == "" {
		return nil
	}
	return block
}

func braceDelta(line string) int {
	return strings.Count(line, "{") - strings.Count(line, "}")
}
