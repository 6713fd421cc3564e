// Package jobstore persists job history in SQLite.
//
// A jobs row tracks the lifecycle of one pipeline job through
// initialized -> running -> completed|failed; failed and completed are
// terminal. step_runs rows record every step execution with its timing and
// outcome so failed jobs can be diagnosed after the process exits. The store
// uses WAL mode with a busy timeout and retries SQLITE_BUSY with backoff.
package jobstore
