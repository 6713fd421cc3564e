// Package pipeline composes named steps over a shared job context.
//
// A Context holds the accumulated key/value state of one job. Steps never
// touch it directly: each receives an immutable Snapshot and returns a Patch
// of the keys it produced, and the Executor merges patches back. Sequential
// runs merge after every step so later steps observe earlier output. Parallel
// runs hand every step the same snapshot, wait for all of them without
// cancelling siblings, and merge in list order so the outcome is independent
// of completion order.
//
// Failures are reported as *StepError (sequential) or *GroupError (parallel),
// both of which name the failing step.
package pipeline
