// Package mirror keeps a local clone of the fuzzed repository in step with a
// single remote branch and reports whether the checked-out commit moved.
package mirror
