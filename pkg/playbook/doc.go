// Package playbook validates declarative playbooks before they are stored or
// run.
//
// Validation has three phases. The syntax phase parses the document with
// yaml.v3; when it fails the other phases are skipped. The structure phase
// checks the play and task layout. The security phase scans the raw text and
// the parsed tree against a RuleSet and accumulates every finding.
//
// Rule sets can be extended from YAML or JSON files, which are checked
// against a CUE schema and reloaded when they change on disk. An optional
// Gate evaluates Rego policies over a validation Report to decide whether a
// playbook may run at all.
package playbook
