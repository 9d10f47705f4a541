// Package executor sends one generation request to the pool, retrying on a
// different selection after transport failures, timeouts and non-200
// answers.
package executor
