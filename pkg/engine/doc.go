// Package engine runs inspection scripts on many hosts at once.
//
// # Overview
//
// An execution takes one catalog script, an optional selection of its
// sections and a set of registered hosts. The Orchestrator resolves the
// script and hosts, records the execution in the preparing state and
// returns its id straight away. A background dispatch then:
//
//  1. marks the execution running
//  2. builds the effective script (the selected units, or the whole text)
//  3. asks the Enforcer whether the script may run
//  4. runs the script on every host concurrently through a Transport
//  5. records each host result once and finishes the execution
//
// Each host run is bounded by its own timeout. A host that times out gets
// exit code 124 and never delays the other hosts.
//
// # Status
//
// ExecutionStatus moves forward only:
//
//	preparing -> running -> completed | failed
//
// An execution is completed when every host succeeded, failed otherwise.
// A failure before dispatch (missing content, policy denial) fails every
// pending host with exit code -1.
//
// # Inventory and catalog
//
// HostRegistry and ScriptCatalog persist hosts and scripts through
// stores.Store and implement HostSource and ScriptSource. AuditLog writes
// service events to the store.
//
// # Errors
//
// Operations return *EngineError values carrying a code (NOT_FOUND,
// VALIDATION_ERROR, ...) and a class that decides whether a retry may
// help. The API layer maps codes to HTTP statuses.
package engine
