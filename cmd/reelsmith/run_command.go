package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reelsmith/internal/config"
	"reelsmith/internal/job"
	"reelsmith/internal/jobstore"
	"reelsmith/internal/notifications"
	"reelsmith/internal/preflight"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var topic string
	var outputDir string
	var jobID string
	var seeds []string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "run <jobfile>",
		Short: "Run a job file for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(topic) == "" {
				return errors.New("--topic is required")
			}
			seed, err := parseKeyValues(seeds)
			if err != nil {
				return err
			}

			jobPath, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			file, err := job.LoadFile(jobPath)
			if err != nil {
				return err
			}

			if !skipPreflight {
				if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg, file.Commands())); len(failed) > 0 {
					for _, r := range failed {
						fmt.Fprintf(cmd.ErrOrStderr(), "preflight: %s: %s\n", r.Name, r.Detail)
					}
					return fmt.Errorf("%d preflight check(s) failed; run `reelsmith doctor %s` for details", len(failed), args[0])
				}
			}

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := ctx.jobStore()
			if err != nil {
				return err
			}
			registry, err := ctx.registry(runCtx, logger)
			if err != nil {
				return err
			}
			notifier := notifications.NewService(cfg, notifications.WithLogger(logger))

			plan, err := file.Build(job.Dependencies{
				Config:   cfg,
				Registry: registry,
				Notifier: notifier,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			driver, err := job.NewDriver(plan, job.Options{Store: store, Notifier: notifier, Logger: logger})
			if err != nil {
				return err
			}

			id := strings.TrimSpace(jobID)
			if id == "" {
				id = uuid.NewString()
			}
			dir := strings.TrimSpace(outputDir)
			if dir == "" {
				dir = filepath.Join(cfg.Paths.WorkDir, id)
			}

			result, runErr := driver.Run(runCtx, job.Request{
				Topic:     topic,
				OutputDir: dir,
				JobID:     id,
				JobFile:   jobPath,
				Seed:      seed,
			})
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, resultView(result, runErr)); err != nil {
					return err
				}
			} else {
				printRunResult(cmd, result)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic the job generates content for")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for job outputs (default <work_dir>/<job id>)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job identifier (generated when omitted)")
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "Initial context value as key=value (repeatable)")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without running preflight checks")
	return cmd
}

type runResultView struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	FailedStep string          `json:"failed_step,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Phases     []phaseTimeView `json:"phases"`
	Context    map[string]any  `json:"context,omitempty"`
}

type phaseTimeView struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Skipped    bool   `json:"skipped,omitempty"`
}

func resultView(result job.Result, runErr error) runResultView {
	view := runResultView{
		JobID:      result.JobID,
		Status:     string(result.Status),
		FailedStep: result.FailedStep,
		DurationMS: result.Duration.Milliseconds(),
		Context:    result.Context.ToMap(),
	}
	if runErr != nil {
		view.Error = runErr.Error()
	}
	for _, p := range result.Phases {
		view.Phases = append(view.Phases, phaseTimeView{Name: p.Name, DurationMS: p.Duration.Milliseconds(), Skipped: p.Skipped})
	}
	return view
}

func printRunResult(cmd *cobra.Command, result job.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s %s", result.JobID, result.Status)
	if result.Duration > 0 {
		fmt.Fprintf(out, " in %s", formatDuration(result.Duration))
	}
	fmt.Fprintln(out)
	if result.Status == jobstore.StatusFailed && result.FailedStep != "" {
		fmt.Fprintf(out, "Failed step: %s\n", result.FailedStep)
	}
	if output, ok := result.Context.String("output_dir"); ok {
		fmt.Fprintf(out, "Output: %s\n", output)
	}
	if len(result.Phases) == 0 {
		return
	}
	rows := make([][]string, 0, len(result.Phases))
	for _, p := range result.Phases {
		duration := formatDuration(p.Duration)
		if p.Skipped {
			duration = "skipped"
		}
		rows = append(rows, []string{notifications.Label(p.Name), duration})
	}
	printTable(out, []column{textCol("PHASE"), numCol("DURATION")}, rows)
}

// parseKeyValues splits key=value flags.
func parseKeyValues(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for _, kv := range values {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value %q", kv)
		}
		out[key] = value
	}
	return out, nil
}
