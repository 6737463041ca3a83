// Package corpus merges the inputs discovered by fuzzing workers back into
// the shared input directory.
//
// Files are stored under the hex SHA-1 of their content, so an entry found
// by several workers is kept once and an existing destination never needs
// to be overwritten.
package corpus
