// Package worker tracks the fuzzing processes of one session: it launches
// them through a Launcher, signals them to stop and reaps them.
package worker
