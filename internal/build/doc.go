// Package build runs the user-supplied build script inside the mirror so the
// fuzz target is rebuilt from the checked-out commit.
package build
