package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/jobstore"
	"reelsmith/internal/notifications"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect job history",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))
	return jobsCmd
}

type jobView struct {
	ID           string        `json:"id"`
	Topic        string        `json:"topic"`
	Status       string        `json:"status"`
	OutputDir    string        `json:"output_dir"`
	JobFile      string        `json:"job_file,omitempty"`
	FailedStep   string        `json:"failed_step,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	DurationMS   int64         `json:"duration_ms,omitempty"`
	Steps        []stepRunView `json:"steps,omitempty"`
}

type stepRunView struct {
	Phase      string     `json:"phase"`
	Step       string     `json:"step"`
	Index      int        `json:"index"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	PatchKeys  []string   `json:"patch_keys,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

func newJobView(j *jobstore.Job) jobView {
	return jobView{
		ID:           j.ID,
		Topic:        j.Topic,
		Status:       string(j.Status),
		OutputDir:    j.OutputDir,
		JobFile:      j.JobFile,
		FailedStep:   j.FailedStep,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		DurationMS:   j.Duration().Milliseconds(),
	}
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.jobStore()
			if err != nil {
				return err
			}
			opts := jobstore.ListOptions{Limit: limit}
			for _, s := range statuses {
				status := jobstore.Status(strings.ToLower(strings.TrimSpace(s)))
				switch status {
				case jobstore.StatusInitialized, jobstore.StatusRunning, jobstore.StatusCompleted, jobstore.StatusFailed:
				default:
					return fmt.Errorf("unknown status %q", s)
				}
				opts.Statuses = append(opts.Statuses, status)
			}
			jobs, err := store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				views := make([]jobView, 0, len(jobs))
				for _, j := range jobs {
					views = append(views, newJobView(j))
				}
				return writeJSON(cmd, views)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID,
					j.Topic,
					string(j.Status),
					orDash(j.FailedStep),
					formatWhen(j.CreatedAt),
					formatDuration(j.Duration()),
				})
			}
			printTable(cmd.OutOrStdout(), []column{
				textCol("ID"), textCol("TOPIC"), textCol("STATUS"),
				textCol("FAILED STEP"), textCol("CREATED"), numCol("DURATION"),
			}, rows)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show jobs with these statuses")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show (0 for all)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its step runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.jobStore()
			if err != nil {
				return err
			}
			j, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			runs, err := store.StepRuns(cmd.Context(), j.ID)
			if err != nil {
				return err
			}

			view := newJobView(j)
			for _, run := range runs {
				view.Steps = append(view.Steps, stepRunView{
					Phase:      run.Phase,
					Step:       run.Step,
					Index:      run.Index,
					Mode:       run.Mode,
					Status:     string(run.Status),
					Error:      run.ErrorMessage,
					PatchKeys:  run.PatchKeys,
					StartedAt:  run.StartedAt,
					FinishedAt: run.FinishedAt,
					DurationMS: run.Duration.Milliseconds(),
				})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:      %s\n", j.ID)
			fmt.Fprintf(out, "Topic:    %s\n", j.Topic)
			fmt.Fprintf(out, "Status:   %s\n", j.Status)
			fmt.Fprintf(out, "Output:   %s\n", j.OutputDir)
			if j.JobFile != "" {
				fmt.Fprintf(out, "Job file: %s\n", j.JobFile)
			}
			fmt.Fprintf(out, "Created:  %s\n", formatWhen(j.CreatedAt))
			fmt.Fprintf(out, "Started:  %s\n", formatWhenPtr(j.StartedAt))
			fmt.Fprintf(out, "Finished: %s\n", formatWhenPtr(j.FinishedAt))
			if j.Status == jobstore.StatusFailed {
				fmt.Fprintf(out, "Failed step: %s\n", orDash(j.FailedStep))
				fmt.Fprintf(out, "Error:    %s\n", orDash(j.ErrorMessage))
			}
			if len(runs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					notifications.Label(run.Phase),
					run.Step,
					strconv.Itoa(run.Index),
					run.Mode,
					string(run.Status),
					formatDuration(run.Duration),
					orDash(strings.Join(run.PatchKeys, ",")),
				})
			}
			printTable(out, []column{
				textCol("PHASE"), textCol("STEP"), numCol("#"), textCol("MODE"),
				textCol("STATUS"), numCol("DURATION"), textCol("KEYS"),
			}, rows)
			return nil
		},
	}
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Delete finished jobs from history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.jobStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				id := strings.TrimSpace(arg)
				j, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !j.Status.IsTerminal() {
					return fmt.Errorf("job %s is %s; only completed or failed jobs can be removed", id, j.Status)
				}
				removed, err := store.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(out, "Removed job %s\n", id)
				}
			}
			return nil
		},
	}
}
