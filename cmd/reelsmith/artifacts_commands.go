package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/logging"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	artifactsCmd := &cobra.Command{
		Use:     "artifacts",
		Aliases: []string{"artifact"},
		Short:   "Inspect and manage artifact versions",
	}
	artifactsCmd.AddCommand(newArtifactsPathsCommand(ctx))
	artifactsCmd.AddCommand(newArtifactsVersionsCommand(ctx))
	artifactsCmd.AddCommand(newArtifactsLineageCommand(ctx))
	artifactsCmd.AddCommand(newArtifactsRegisterCommand(ctx))
	artifactsCmd.AddCommand(newArtifactsRollbackCommand(ctx))
	artifactsCmd.AddCommand(newArtifactsVerifyCommand(ctx))
	return artifactsCmd
}

type versionView struct {
	VersionID       string         `json:"version_id"`
	Path            string         `json:"path"`
	Type            string         `json:"type"`
	JobID           string         `json:"job_id"`
	Hash            string         `json:"hash,omitempty"`
	ParentVersionID string         `json:"parent_version_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Degraded        bool           `json:"degraded"`
	StoredBytes     int64          `json:"stored_bytes"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func newVersionView(reg *artifacts.Registry, v artifacts.Version) versionView {
	return versionView{
		VersionID:       v.VersionID,
		Path:            v.Path,
		Type:            v.Type,
		JobID:           v.JobID,
		Hash:            v.Hash,
		ParentVersionID: v.ParentVersionID,
		CreatedAt:       v.CreatedAt,
		Degraded:        v.Degraded(),
		StoredBytes:     storedSize(reg, v),
		Metadata:        v.Metadata,
	}
}

func storedSize(reg *artifacts.Registry, v artifacts.Version) int64 {
	info, err := os.Stat(reg.ContentPath(v))
	if err != nil {
		return -1
	}
	return info.Size()
}

func versionFlags(v artifacts.Version) string {
	var flags []string
	if v.Degraded() {
		flags = append(flags, "degraded")
	}
	if backup, _ := v.Metadata[artifacts.MetaRollbackBackup].(bool); backup {
		flags = append(flags, "rollback-backup")
	}
	if target, _ := v.Metadata[artifacts.MetaRolledBackTo].(string); target != "" {
		flags = append(flags, "before-rollback-to:"+target)
	}
	return orDash(strings.Join(flags, ","))
}

func printVersions(ctx *commandContext, cmd *cobra.Command, reg *artifacts.Registry, versions []artifacts.Version) error {
	if ctx.jsonOutput() {
		views := make([]versionView, 0, len(versions))
		for _, v := range versions {
			views = append(views, newVersionView(reg, v))
		}
		return writeJSON(cmd, views)
	}
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, []string{
			v.VersionID,
			v.Type,
			orDash(shortID(v.JobID)),
			orDash(v.ShortHash()),
			formatSize(storedSize(reg, v)),
			formatWhen(v.CreatedAt),
			orDash(v.ParentVersionID),
			versionFlags(v),
		})
	}
	printTable(cmd.OutOrStdout(), []column{
		textCol("VERSION"), textCol("TYPE"), textCol("JOB"), textCol("HASH"),
		numCol("STORED"), textCol("CREATED"), textCol("PARENT"), textCol("FLAGS"),
	}, rows)
	return nil
}

func (c *commandContext) openRegistry(cmd *cobra.Command) (*artifacts.Registry, error) {
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	return c.registry(cmd.Context(), logger)
}

func newArtifactsPathsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List tracked artifact paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.openRegistry(cmd)
			if err != nil {
				return err
			}
			paths, err := reg.Paths()
			if err != nil {
				return err
			}

			type pathView struct {
				Path     string    `json:"path"`
				Versions int       `json:"versions"`
				Latest   string    `json:"latest_version_id"`
				Updated  time.Time `json:"updated_at"`
			}
			views := make([]pathView, 0, len(paths))
			for _, p := range paths {
				versions, err := reg.Versions(p)
				if err != nil {
					return err
				}
				view := pathView{Path: p, Versions: len(versions)}
				if n := len(versions); n > 0 {
					view.Latest = versions[n-1].VersionID
					view.Updated = versions[n-1].CreatedAt
				}
				views = append(views, view)
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No artifacts registered")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Path, fmt.Sprint(v.Versions), v.Latest, formatWhen(v.Updated)})
			}
			printTable(cmd.OutOrStdout(),
				[]column{textCol("PATH"), numCol("VERSIONS"), textCol("LATEST"), textCol("UPDATED")}, rows)
			return nil
		},
	}
}

func newArtifactsVersionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <path>",
		Short: "List every version of an artifact, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.openRegistry(cmd)
			if err != nil {
				return err
			}
			versions, err := reg.Versions(args[0])
			if err != nil {
				return err
			}
			if len(versions) == 0 && !ctx.jsonOutput() {
				fmt.Fprintf(cmd.OutOrStdout(), "No versions registered for %s\n", args[0])
				return nil
			}
			return printVersions(ctx, cmd, reg, versions)
		},
	}
}

func newArtifactsLineageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <path>",
		Short: "Walk parent links from the newest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.openRegistry(cmd)
			if err != nil {
				return err
			}
			chain, err := reg.Lineage(args[0])
			if err != nil {
				return err
			}
			if len(chain) == 0 && !ctx.jsonOutput() {
				fmt.Fprintf(cmd.OutOrStdout(), "No versions registered for %s\n", args[0])
				return nil
			}
			return printVersions(ctx, cmd, reg, chain)
		},
	}
}

func newArtifactsRegisterCommand(ctx *commandContext) *cobra.Command {
	var artifactType string
	var jobID string
	var parent string
	var noCopy bool
	var meta []string

	cmd := &cobra.Command{
		Use:   "register <path>",
		Short: "Record the current content of a file as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(artifactType) == "" {
				return errors.New("--type is required")
			}
			metadata, err := parseKeyValues(meta)
			if err != nil {
				return err
			}
			reg, err := ctx.openRegistry(cmd)
			if err != nil {
				return err
			}

			opts := []artifacts.RegisterOption{artifacts.WithMetadata(metadata)}
			if parent != "" {
				opts = append(opts, artifacts.WithParent(parent))
			}
			if noCopy {
				opts = append(opts, artifacts.WithStoreCopy(false))
			}
			v, err := reg.Register(cmd.Context(), args[0], artifactType, jobID, opts...)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, newVersionView(reg, v))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %s as %s\n", v.Path, v.VersionID)
			if v.Degraded() {
				fmt.Fprintln(out, "Warning: file was missing; version recorded without a hash")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&artifactType, "type", "", "Artifact type (image, audio, video, text, ...)")
	cmd.Flags().StringVar(&jobID, "job", "", "Job identifier to attribute the version to")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent version id")
	cmd.Flags().BoolVar(&noCopy, "no-copy", false, "Do not keep a content copy")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata as key=value (repeatable)")
	return cmd
}

func newArtifactsRollbackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <path> <version-id>...",
		Short: "Restore a file to earlier versions, in order",
		Long: "Restores the live file to each listed version in turn. Misses are reported " +
			"and skipped; the command exits non-zero if any listed version could not be restored.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.openRegistry(cmd)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			type rollbackView struct {
				VersionID string `json:"version_id"`
				Restored  bool   `json:"restored"`
			}
			path := args[0]
			results := make([]rollbackView, 0, len(args)-1)
			misses := 0
			for _, id := range args[1:] {
				ok, err := reg.Rollback(cmd.Context(), path, id)
				if err != nil {
					return fmt.Errorf("rollback %s to %s: %w", path, id, err)
				}
				if !ok {
					misses++
					logger.Warn("rollback target unavailable",
						logging.String(logging.FieldEventType, "artifact_rollback_miss"),
						logging.String(logging.FieldArtifactPath, path),
						logging.String(logging.FieldVersionID, id),
					)
				}
				results = append(results, rollbackView{VersionID: id, Restored: ok})
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, r := range results {
					if r.Restored {
						fmt.Fprintf(out, "Restored %s to %s\n", path, r.VersionID)
					} else {
						fmt.Fprintf(out, "Skipped %s: version or content copy not found\n", r.VersionID)
					}
				}
			}
			if misses > 0 {
				return fmt.Errorf("%d of %d rollback(s) missed", misses, len(results))
			}
			return nil
		},
	}
}

func newArtifactsVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path> <version-id>",
		Short: "Check a stored content copy against its recorded hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.openRegistry(cmd)
			if err != nil {
				return err
			}
			result, err := reg.Verify(args[0], args[1])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, map[string]any{
					"version_id": result.Version.VersionID,
					"expected":   result.Expected,
					"actual":     result.Actual,
					"ok":         result.OK(),
				}); err != nil {
					return err
				}
			} else if result.OK() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s OK (%s)\n", result.Version.VersionID, result.Version.ShortHash())
			}
			if !result.OK() {
				return fmt.Errorf("%s content copy is corrupt: expected %s, got %s", result.Version.VersionID, result.Expected, result.Actual)
			}
			return nil
		},
	}
}
