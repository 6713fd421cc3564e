package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelsmith/internal/config"
	"reelsmith/internal/job"
	"reelsmith/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor [jobfile]",
		Short: "Run preflight checks, optionally for a job file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var commands []string
			var notes []preflight.Result
			if len(args) == 1 {
				path, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				file, err := job.LoadFile(path)
				if err != nil {
					notes = append(notes, preflight.Result{Name: "Job file", Detail: err.Error()})
				} else {
					notes = append(notes, preflight.Result{Name: "Job file", Passed: true,
						Detail: fmt.Sprintf("%d phase(s)", len(file.Phases))})
					commands = file.Commands()
					for _, name := range file.Policies() {
						r := preflight.Result{Name: "Retry policy " + name, Passed: true, Detail: "configured"}
						if _, ok := cfg.Retry[name]; !ok {
							r.Detail = "not configured; the default policy applies"
						}
						notes = append(notes, r)
					}
				}
			}

			results := append(notes, preflight.RunAll(cmd.Context(), cfg, commands)...)
			failed := preflight.Failed(results)

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				printTable(cmd.OutOrStdout(), []column{textCol("CHECK"), textCol("STATUS"), textCol("DETAIL")}, rows)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
