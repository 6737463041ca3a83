// Package backend adapts the supported fuzzing engines to a common worker
// contract: how a worker is launched, where its discoveries land and which
// of those files are worth harvesting.
package backend
