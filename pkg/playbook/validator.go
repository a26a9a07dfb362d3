package playbook

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var errEmptyDocument = errors.New("empty YAML document")

const maxAliasDepth = 64

// yaml.v3 prefixes parser errors with "yaml: line N: " when it knows the
// line. Columns are not exposed for syntax errors.
var yamlErrorLine = regexp.MustCompile(`^yaml: line (\d+): (.*)$`)

// Validator checks playbooks against a RuleSet. Rules can be swapped while
// validations are running.
type Validator struct {
	mu    sync.RWMutex
	rules *compiledRules
}

// NewValidator compiles rs into a validator.
func NewValidator(rs RuleSet) (*Validator, error) {
	cr, err := compileRules(rs)
	if err != nil {
		return nil, err
	}
	return &Validator{rules: cr}, nil
}

// NewDefaultValidator returns a validator using DefaultRuleSet.
func NewDefaultValidator() *Validator {
	v, err := NewValidator(DefaultRuleSet())
	if err != nil {
		panic(fmt.Sprintf("built-in rule set does not compile: %v", err))
	}
	return v
}

// SetRules replaces the rule set. The old rules stay in place if rs does
// not compile.
func (v *Validator) SetRules(rs RuleSet) error {
	cr, err := compileRules(rs)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.rules = cr
	v.mu.Unlock()
	return nil
}

// Rules returns the active rule set.
func (v *Validator) Rules() RuleSet {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rules.source
}

// Validate runs the syntax, structure and security phases over content.
func (v *Validator) Validate(content string) *Report {
	v.mu.RLock()
	rules := v.rules
	v.mu.RUnlock()

	report := newReport()

	root, err := parseDocument(content)
	if err != nil {
		if errors.Is(err, errEmptyDocument) {
			report.SyntaxError = err.Error()
		} else {
			report.SyntaxError = syntaxMessage(err)
		}
		return report
	}
	report.SyntaxValid = true

	report.StructureIssues = checkStructure(root, rules, report)
	report.StructureValid = len(report.StructureIssues) == 0

	report.Findings = checkSecurity(content, root, rules)
	for _, f := range report.Findings {
		report.SecurityViolations = append(report.SecurityViolations, f.Message)
	}
	report.SecurityValid = len(report.Findings) == 0

	report.Valid = report.SyntaxValid && report.StructureValid && report.SecurityValid
	return report
}

// parseDocument decodes exactly one YAML document and returns its root.
func parseDocument(content string) (*yaml.Node, error) {
	dec := yaml.NewDecoder(strings.NewReader(content))

	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyDocument
		}
		return nil, err
	}

	var extra yaml.Node
	switch err := dec.Decode(&extra); {
	case err == nil:
		at := &extra
		if len(extra.Content) > 0 {
			at = extra.Content[0]
		}
		return nil, fmt.Errorf("expected a single document but found another (line %d, column %d)", at.Line, at.Column)
	case !errors.Is(err, io.EOF):
		return nil, err
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, errEmptyDocument
		}
		root = root.Content[0]
	}
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, errEmptyDocument
	}
	return root, nil
}

func syntaxMessage(err error) string {
	msg := err.Error()
	if m := yamlErrorLine.FindStringSubmatch(msg); m != nil {
		return fmt.Sprintf("YAML syntax error: %s (line %s)", m[2], m[1])
	}
	return "YAML syntax error: " + strings.TrimPrefix(msg, "yaml: ")
}

func checkStructure(root *yaml.Node, rules *compiledRules, report *Report) []string {
	issues := []string{}

	plays := []*yaml.Node{root}
	if root.Kind == yaml.SequenceNode {
		plays = root.Content
	}
	report.Plays = len(plays)

	for i, play := range plays {
		n := i + 1
		play = resolve(play)
		if play.Kind != yaml.MappingNode {
			issues = append(issues, fmt.Sprintf("playbook %d: must be a mapping", n))
			continue
		}

		for _, field := range rules.source.RequiredFields {
			if mappingValue(play, field) == nil {
				issues = append(issues, fmt.Sprintf("playbook %d: missing required field '%s'", n, field))
			}
		}

		if hosts := mappingValue(play, "hosts"); hosts != nil {
			hosts = resolve(hosts)
			isString := hosts.Kind == yaml.ScalarNode && hosts.Tag == "!!str"
			if !isString && hosts.Kind != yaml.SequenceNode {
				issues = append(issues, fmt.Sprintf("playbook %d: 'hosts' must be a string or a list", n))
			}
		}

		if tasks := mappingValue(play, "tasks"); tasks != nil {
			issues = append(issues, checkTasks(resolve(tasks), n, rules, report)...)
		}
	}

	return issues
}

func checkTasks(tasks *yaml.Node, play int, rules *compiledRules, report *Report) []string {
	var issues []string

	if tasks.Kind != yaml.SequenceNode {
		return []string{fmt.Sprintf("playbook %d: 'tasks' must be a list", play)}
	}

	for i, task := range tasks.Content {
		n := i + 1
		report.Tasks++
		task = resolve(task)
		if task.Kind != yaml.MappingNode {
			issues = append(issues, fmt.Sprintf("playbook %d, task %d: must be a mapping", play, n))
			continue
		}

		if mappingValue(task, "name") == nil {
			issues = append(issues, fmt.Sprintf("playbook %d, task %d: missing 'name'", play, n))
		}

		hasModule := false
		for k := 0; k+1 < len(task.Content); k += 2 {
			if !rules.modifiers[task.Content[k].Value] {
				hasModule = true
				break
			}
		}
		if !hasModule {
			issues = append(issues, fmt.Sprintf("playbook %d, task %d: no module to run", play, n))
		}
	}

	return issues
}

func checkSecurity(content string, root *yaml.Node, rules *compiledRules) []Finding {
	var findings []Finding

	var leaves []leaf
	collectLeaves(root, "", &leaves, 0)

	// locate places a raw-text match at its line and the path of the value
	// written there.
	locate := func(f Finding, re *regexp.Regexp) Finding {
		loc := re.FindStringIndex(content)
		if loc == nil {
			return f
		}
		f.Line = strings.Count(content[:loc[0]], "\n") + 1
		f.Path = nearestPath(leaves, f.Line)
		return f
	}

	for _, fam := range rules.families {
		for _, p := range fam.patterns {
			if p.re.MatchString(content) {
				findings = append(findings, locate(Finding{
					Family:  fam.name,
					Pattern: p.source,
					Message: fmt.Sprintf(fam.format, p.source),
				}, p.re))
			}
		}
	}

	walkModules(root, "", rules, &findings, 0)

	if becomeTrue.MatchString(content) && !becomeMethod.MatchString(content) {
		findings = append(findings, locate(Finding{
			Family:  FamilyPrivilegeEscalation,
			Message: "privilege escalation enabled without a safe become_method",
		}, becomeTrue))
	}

	if shellTemplated.MatchString(content) {
		findings = append(findings, locate(Finding{
			Family:  FamilyTemplateInjection,
			Message: "possible shell injection through a template filter",
		}, shellTemplated))
	}

	if findings == nil {
		findings = []Finding{}
	}
	return findings
}

// walkModules reports dangerous module keys with their path in the tree:
// mapping keys joined by '.', sequence items as [i].
func walkModules(node *yaml.Node, path string, rules *compiledRules, findings *[]Finding, depth int) {
	if node == nil || depth > maxAliasDepth {
		return
	}

	switch node.Kind {
	case yaml.AliasNode:
		walkModules(node.Alias, path, rules, findings, depth+1)

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			current := key.Value
			if path != "" {
				current = path + "." + key.Value
			}
			if rules.modules[key.Value] {
				*findings = append(*findings, Finding{
					Family:  FamilyDangerousModules,
					Pattern: key.Value,
					Path:    current,
					Line:    key.Line,
					Message: fmt.Sprintf("dangerous module used: %s (path: %s)", key.Value, current),
				})
			}
			walkModules(value, current, rules, findings, depth+1)
		}

	case yaml.SequenceNode:
		for i, item := range node.Content {
			walkModules(item, fmt.Sprintf("%s[%d]", path, i), rules, findings, depth+1)
		}
	}
}

// leaf is a scalar value and the path of the key or item holding it.
type leaf struct {
	line int
	path string
}

func collectLeaves(node *yaml.Node, path string, leaves *[]leaf, depth int) {
	if node == nil || depth > maxAliasDepth {
		return
	}

	switch node.Kind {
	case yaml.ScalarNode:
		if path != "" {
			*leaves = append(*leaves, leaf{line: node.Line, path: path})
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			current := node.Content[i].Value
			if path != "" {
				current = path + "." + current
			}
			collectLeaves(node.Content[i+1], current, leaves, depth+1)
		}

	case yaml.SequenceNode:
		for i, item := range node.Content {
			collectLeaves(item, fmt.Sprintf("%s[%d]", path, i), leaves, depth+1)
		}
	}
}

// nearestPath returns the path of the last value starting at or before
// line. Block scalars start on their indicator line, so a match inside one
// resolves to the key that holds it.
func nearestPath(leaves []leaf, line int) string {
	path, best := "", 0
	for _, l := range leaves {
		if l.line <= line && l.line >= best {
			path, best = l.path, l.line
		}
	}
	return path
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for depth := 0; n != nil && n.Kind == yaml.AliasNode && depth < maxAliasDepth; depth++ {
		n = n.Alias
	}
	return n
}

var defaultValidator = NewDefaultValidator()

// Validate checks content with the built-in rules.
func Validate(content string) *Report {
	return defaultValidator.Validate(content)
}
