// Package sections partitions inspection shell scripts into addressable units
// and rebuilds runnable scripts from a selection of those units.
//
// An inspection script is a sequence of shell functions named after check
// codes (u_01, u_02, ...), each followed somewhere by its invocation. The
// parser exposes every function as a Section with a stable "section_N" id;
// the reconstructor turns a list of ids back into a self-contained script that
// defines and invokes only the chosen functions.
//
// Both operations are pure and safe for concurrent use.
package sections
