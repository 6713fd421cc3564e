// Package services defines shared utilities consumed by pipeline steps and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, step and phase names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (transient vs permanent) without string matching.
//
// Use these helpers when wiring new step logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
