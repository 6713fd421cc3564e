package preflight

import (
	"context"

	"reelsmith/internal/config"
	"reelsmith/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for cfg and the binaries a
// job invokes. Directories are created first so a fresh install passes.
func RunAll(ctx context.Context, cfg *config.Config, commands []string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if err := cfg.EnsureDirectories(); err != nil {
		results = append(results, Result{Name: "Directories", Detail: err.Error()})
	}

	results = append(results,
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Registry directory", cfg.Paths.RegistryDir),
	)
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	for _, status := range deps.CheckBinaries(deps.ForCommands(commands, "Invoked by a job step")) {
		results = append(results, binaryResult(status))
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	if cfg.Registry.Mirror.Enabled {
		results = append(results, CheckMirror(ctx, cfg.Registry.Mirror))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func binaryResult(status deps.Status) Result {
	name := "Binary " + status.Name
	if status.Available {
		return Result{Name: name, Passed: true, Detail: status.Resolved}
	}
	return Result{Name: name, Passed: status.Optional, Detail: status.Detail}
}
