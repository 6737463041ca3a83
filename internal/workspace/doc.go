// Package workspace lays out the daemon's working directory: the engine
// output directory, the crash directory, the input corpus and the archive of
// output directories from finished sessions.
//
// Session outputs are archived under timestamped directories
// (e.g., archive/session-20251214-122336) instead of being deleted, so that
// crashes found by an engine survive the next session.
package workspace
