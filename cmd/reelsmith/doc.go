// Command reelsmith runs content-generation jobs described by TOML job files
// and inspects what they left behind.
//
// Subcommands:
//   - run: execute a job file against a topic
//   - jobs: list, show, and remove past jobs
//   - artifacts: browse, register, verify, and roll back artifact versions
//   - config: create or validate the configuration file
//   - notify: send a test notification
//   - doctor: run preflight checks for a job file
//
// Listing commands print tables on a terminal, tab-separated lines otherwise,
// and JSON with --json.
package main
