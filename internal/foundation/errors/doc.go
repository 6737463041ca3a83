// Package errors provides the classified error primitives used across cifuzz.
//
// Every failure that can stop the daemon is reported as a ClassifiedError so
// that the CLI can print a single diagnostic naming the failing step and pick
// an exit code from the category.
//
// Key features:
//   - ErrorCategory: broad classification (config, git, build, backend, sync, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: whether the daemon may try again on the next cycle
//   - ErrorBuilder: fluent construction with context and cause
//   - CLIErrorAdapter: exit code and message selection for the command line
//
// Example usage:
//
//	err := errors.RepositoryError("fetch failed").
//		WithContext("url", repoURL).
//		WithCause(originalErr).
//		Build()
package errors
