// Package job drives one content-generation job from start to finish.
//
// A Plan is an ordered list of phases; each phase runs its steps either
// sequentially or in parallel through the pipeline executor. The Driver seeds
// the job context, records the job lifecycle (initialized, running, then
// completed or failed) in the job store, stamps per-phase timings, and
// publishes lifecycle notifications. Failed jobs are terminal: rerunning a
// failed job id is refused and a fresh job must be started instead.
//
// Plans can be built in code with StandardPlan or loaded from a TOML job file
// with LoadFile and Build.
package job
