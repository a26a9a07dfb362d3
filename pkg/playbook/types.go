package playbook

// Report is the outcome of validating one playbook document. It is always
// returned, also for invalid input.
type Report struct {
	Valid          bool `json:"valid"`
	SyntaxValid    bool `json:"syntax_valid"`
	StructureValid bool `json:"structure_valid"`
	SecurityValid  bool `json:"security_valid"`

	SyntaxError string `json:"syntax_error,omitempty"`

	StructureIssues    []string `json:"structure_issues"`
	SecurityViolations []string `json:"security_violations"`

	// Findings carries the security violations in structured form, in the
	// same order as SecurityViolations.
	Findings []Finding `json:"findings"`

	Plays int `json:"plays"`
	Tasks int `json:"tasks"`
}

// Finding is a single security rule match.
type Finding struct {
	Family  string `json:"family"`
	Pattern string `json:"pattern,omitempty"`
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ViolationsByFamily counts findings per rule family.
func (r *Report) ViolationsByFamily() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Findings {
		counts[f.Family]++
	}
	return counts
}

func newReport() *Report {
	return &Report{
		StructureIssues:    []string{},
		SecurityViolations: []string{},
		Findings:           []Finding{},
	}
}
