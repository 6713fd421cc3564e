// Package preflight provides readiness checks for the filesystem paths and
// optional services a job depends on.
//
// The job runner calls RunAll before starting a job and refuses to start if a
// required check fails, so a run does not stall halfway through on an
// unwritable registry or a missing binary. The doctor command prints the same
// results. Checks for optional services are only run when they are enabled.
package preflight
