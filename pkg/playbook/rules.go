package playbook

import (
	"fmt"
	"regexp"
	"slices"
)

// Rule families reported in findings.
const (
	FamilyDangerousCommands   = "dangerous_commands"
	FamilyDangerousPaths      = "dangerous_paths"
	FamilySuspiciousProtocols = "suspicious_protocols"
	FamilyDangerousModules    = "dangerous_modules"
	FamilyPrivilegeEscalation = "privilege_escalation"
	FamilyTemplateInjection   = "template_injection"
)

// RuleSet is the configurable data behind structure and security checks.
// Text patterns are regular expressions matched case-insensitively against
// the raw document.
type RuleSet struct {
	DangerousCommands   []string `json:"dangerous_commands" yaml:"dangerous_commands"`
	DangerousPaths      []string `json:"dangerous_paths" yaml:"dangerous_paths"`
	SuspiciousProtocols []string `json:"suspicious_protocols" yaml:"suspicious_protocols"`

	// DangerousModules are mapping keys flagged wherever they appear.
	DangerousModules []string `json:"dangerous_modules" yaml:"dangerous_modules"`

	// RequiredFields must be present on every play.
	RequiredFields []string `json:"required_fields" yaml:"required_fields"`

	// TaskModifiers are task keys that do not count as a module.
	TaskModifiers []string `json:"task_modifiers" yaml:"task_modifiers"`

	// Disabled removes patterns or module names inherited from the rule set
	// being extended.
	Disabled []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		DangerousCommands: []string{
			`rm\s+-rf\s+/`,
			`dd\s+if=/dev/zero`,
			`mkfs\.`,
			`fdisk`,
			`format`,
			`del\s+/[qsf]`,
			`shutdown`,
			`reboot`,
			`halt`,
			`init\s+0`,
			`init\s+6`,
			`systemctl\s+poweroff`,
			`systemctl\s+reboot`,
			`curl.*\|\s*sh`,
			`wget.*\|\s*sh`,
			`nc\s+-[el]`,
			`netcat\s+-[el]`,
			`/bin/sh`,
			`/bin/bash`,
			`exec\s+`,
			`eval\s+`,
			`system\s*\(`,
			`os\.system`,
			`subprocess\.call`,
			`subprocess\.run`,
			`subprocess\.Popen`,
		},
		DangerousPaths: []string{
			`/etc/passwd`,
			`/etc/shadow`,
			`/etc/sudoers`,
			`/boot`,
			`/sys`,
			`/proc`,
			`/dev`,
			`\.ssh/`,
			`authorized_keys`,
			`id_rsa`,
			`id_dsa`,
			`\.key$`,
			`\.pem$`,
		},
		SuspiciousProtocols: []string{
			`ftp://`,
			`http://.*download`,
			`tftp://`,
			`telnet://`,
		},
		DangerousModules: []string{"shell", "raw", "script", "win_shell"},
		RequiredFields:   []string{"hosts"},
		TaskModifiers:    []string{"when", "tags", "become", "register", "with_items", "loop"},
	}
}

// Extend returns a copy of r with other's entries appended (skipping
// duplicates) and other's Disabled entries removed.
func (r RuleSet) Extend(other RuleSet) RuleSet {
	merge := func(base, add []string) []string {
		out := slices.Clone(base)
		for _, s := range add {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
		return slices.DeleteFunc(out, func(s string) bool {
			return slices.Contains(other.Disabled, s)
		})
	}

	return RuleSet{
		DangerousCommands:   merge(r.DangerousCommands, other.DangerousCommands),
		DangerousPaths:      merge(r.DangerousPaths, other.DangerousPaths),
		SuspiciousProtocols: merge(r.SuspiciousProtocols, other.SuspiciousProtocols),
		DangerousModules:    merge(r.DangerousModules, other.DangerousModules),
		RequiredFields:      merge(r.RequiredFields, other.RequiredFields),
		TaskModifiers:       merge(r.TaskModifiers, other.TaskModifiers),
	}
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

type compiledRules struct {
	source    RuleSet
	families  []family
	modules   map[string]bool
	modifiers map[string]bool
}

type family struct {
	name     string
	format   string
	patterns []pattern
}

var (
	becomeTrue     = regexp.MustCompile(`(?i)become:\s*true`)
	becomeMethod   = regexp.MustCompile(`(?i)become_method:\s*(sudo|su)`)
	shellTemplated = regexp.MustCompile(`\{\{.*\|.*shell.*\}\}`)
)

func compileRules(rs RuleSet) (*compiledRules, error) {
	cr := &compiledRules{
		source:    rs,
		modules:   make(map[string]bool),
		modifiers: map[string]bool{"name": true},
	}

	groups := []struct {
		name, format string
		sources      []string
	}{
		{FamilyDangerousCommands, "dangerous command pattern found: %s", rs.DangerousCommands},
		{FamilyDangerousPaths, "dangerous path access found: %s", rs.DangerousPaths},
		{FamilySuspiciousProtocols, "suspicious protocol in use: %s", rs.SuspiciousProtocols},
	}
	for _, g := range groups {
		f := family{name: g.name, format: g.format}
		for _, src := range g.sources {
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				return nil, fmt.Errorf("invalid %s pattern %q: %w", g.name, src, err)
			}
			f.patterns = append(f.patterns, pattern{source: src, re: re})
		}
		cr.families = append(cr.families, f)
	}

	for _, m := range rs.DangerousModules {
		cr.modules[m] = true
	}
	for _, m := range rs.TaskModifiers {
		cr.modifiers[m] = true
	}

	return cr, nil
}
