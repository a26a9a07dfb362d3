package sections

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultBoundaryPattern matches the opening line of a unit function.
	DefaultBoundaryPattern = `^(u_\d+)\s*\(\)\s*\{`

	// DefaultIDPrefix is prepended to the sequential section counter.
	DefaultIDPrefix = "section_"

	// DefaultInterpreter is the first line of every reconstructed script.
	DefaultInterpreter = "#!/bin/bash"
)

// Convention describes how units are recognized in a script and how their
// sections are identified.
type Convention struct {
	// BoundaryPattern is matched against each trimmed line. The first
	// capture group is the unit name.
	BoundaryPattern string `json:"boundary_pattern" yaml:"boundary_pattern"`

	// IDPrefix is the prefix of generated section ids.
	IDPrefix string `json:"id_prefix" yaml:"id_prefix"`

	// Interpreter is the shebang line of reconstructed scripts.
	Interpreter string `json:"interpreter" yaml:"interpreter"`

	// InitName and InitDescription label the implicit leading section that
	// holds code appearing before the first unit.
	InitName        string `json:"init_name" yaml:"init_name"`
	InitDescription string `json:"init_description" yaml:"init_description"`

	// WholeName and WholeDescription label the fallback section used when a
	// script contains no units at all.
	WholeName        string `json:"whole_name" yaml:"whole_name"`
	WholeDescription string `json:"whole_description" yaml:"whole_description"`

	// UnitDescription is a fmt verb string receiving the upper-cased unit
	// name.
	UnitDescription string `json:"unit_description" yaml:"unit_description"`
}

// DefaultConvention returns the u_NN convention used by inspection scripts.
func DefaultConvention() Convention {
	return Convention{
		BoundaryPattern:  DefaultBoundaryPattern,
		IDPrefix:         DefaultIDPrefix,
		Interpreter:      DefaultInterpreter,
		InitName:         "init",
		InitDescription:  "script initialization",
		WholeName:        "whole-script",
		WholeDescription: "run the whole script",
		UnitDescription:  "security check: %s",
	}
}

// Validate checks that the convention can be compiled and applied.
func (c Convention) Validate() error {
	if c.BoundaryPattern == "" {
		return fmt.Errorf("boundary pattern is required")
	}
	re, err := regexp.Compile(c.BoundaryPattern)
	if err != nil {
		return fmt.Errorf("invalid boundary pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return fmt.Errorf("boundary pattern must capture the unit name")
	}
	if c.IDPrefix == "" {
		return fmt.Errorf("id prefix is required")
	}
	return nil
}

// SectionID returns the id of the n-th section.
func (c Convention) SectionID(n int) string {
	return c.IDPrefix + strconv.Itoa(n)
}

// SectionNumber extracts the number from a section id. It reports false for
// ids that do not carry the prefix followed by a decimal number.
func (c Convention) SectionNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), c.IDPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// WellFormed returns the ids in the list that have the shape of a section
// id, in their original order.
func (c Convention) WellFormed(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := c.SectionNumber(id); ok {
			out = append(out, strings.TrimSpace(id))
		}
	}
	return out
}
