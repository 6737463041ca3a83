// Package eventstore journals the daemon's lifecycle events in SQLite and
// rebuilds a per-session history from them.
package eventstore
