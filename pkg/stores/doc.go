// Package stores persists the host inventory, the script catalog and a
// short-retention audit trail in SQLite. Schema changes are applied with
// embedded golang-migrate migrations.
package stores
