// Package steps provides the concrete pipeline steps a job file can declare.
//
// CommandStep runs an external binary with arguments rendered from the
// pipeline snapshot, retries it under a named policy, and registers the files
// it produces with the artifact registry. NotifyStep publishes a custom
// notification, typically from the publish phase.
package steps
