package sections

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Section is an addressable unit of an inspection script.
type Section struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`

	// unit is set for sections opened by a boundary match.
	unit bool
}

// Parser splits scripts into sections according to a Convention.
type Parser struct {
	conv     Convention
	boundary *regexp.Regexp
}

var defaultParser = MustNewParser(DefaultConvention())

// NewParser creates a parser for the given convention.
func NewParser(conv Convention) (*Parser, error) {
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid section convention: %w", err)
	}
	return &Parser{
		conv:     conv,
		boundary: regexp.MustCompile(conv.BoundaryPattern),
	}, nil
}

// MustNewParser is like NewParser but panics on an invalid convention.
func MustNewParser(conv Convention) *Parser {
	p, err := NewParser(conv)
	if err != nil {
		panic(err)
	}
	return p
}

// Convention returns the convention the parser was built with.
func (p *Parser) Convention() Convention {
	return p.conv
}

// Parse splits text into sections using the default convention.
func Parse(text string) []Section {
	return defaultParser.Parse(text)
}

// Parse splits text into ordered, non-overlapping sections. Line numbers are
// 1-based. Text outside any unit may be dropped from the result.
func (p *Parser) Parse(text string) []Section {
	lines := splitLines(text)

	var (
		sections []Section
		current  *Section
		body     strings.Builder
		counter  = 1
		matched  bool
	)

	closeCurrent := func(end int) {
		if current == nil {
			return
		}
		current.Content = body.String()
		if strings.TrimSpace(current.Content) != "" {
			current.LineEnd = end
			sections = append(sections, *current)
		}
		current = nil
		body.Reset()
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if m := p.boundary.FindStringSubmatch(trimmed); m != nil {
			matched = true
			closeCurrent(i)
			current = &Section{
				ID:          p.conv.SectionID(counter),
				Name:        m[1],
				Description: fmt.Sprintf(p.conv.UnitDescription, strings.ToUpper(m[1])),
				LineStart:   i + 1,
				unit:        true,
			}
			counter++
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}

		if current != nil {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}

		// Leading code before the first unit forms the init section.
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && len(sections) == 0 {
			current = &Section{
				ID:          p.conv.SectionID(counter),
				Name:        p.conv.InitName,
				Description: p.conv.InitDescription,
				LineStart:   i + 1,
			}
			counter++
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	closeCurrent(len(lines))

	if !matched || len(sections) == 0 {
		return []Section{p.whole(text, len(lines))}
	}
	return sections
}

// ParseFile reads and parses a script from disk. A read error yields an
// empty list since there is no raw content to fall back on.
func (p *Parser) ParseFile(path string) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return []Section{}, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return p.Parse(NormalizeLineEndings(string(data))), nil
}

// ParseFile reads and parses a script using the default convention.
func ParseFile(path string) ([]Section, error) {
	return defaultParser.ParseFile(path)
}

// splitLines splits text into lines the way a file reader counts them: a
// trailing newline ends the last line instead of starting an empty one.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func (p *Parser) whole(text string, lineCount int) Section {
	return Section{
		ID:          p.conv.SectionID(1),
		Name:        p.conv.WholeName,
		Description: p.conv.WholeDescription,
		Content:     text,
		LineStart:   1,
		LineEnd:     lineCount,
	}
}
