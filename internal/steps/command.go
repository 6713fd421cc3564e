package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/logging"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/retry"
	"reelsmith/internal/services"
)

// Registrar records produced artifacts.
type Registrar interface {
	Register(ctx context.Context, path, artifactType, jobID string, opts ...artifacts.RegisterOption) (artifacts.Version, error)
}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, dir, command string, args []string) ([]byte, error)

// CommandSpec declares an external command step.
type CommandSpec struct {
	Name    string
	Command string
	Args    []string
	// Outputs are files the command produces. Relative paths resolve against
	// the output_dir context value.
	Outputs      []string
	ArtifactType string
	// RetryExitCodes lists exit codes treated as transient failures.
	RetryExitCodes []int
	// ParentFrom names a context key holding the parent version id for the
	// first output.
	ParentFrom string
}

// CommandStep runs an external binary and registers its outputs.
type CommandStep struct {
	spec     CommandSpec
	policy   retry.Policy
	registry Registrar
	runner   Runner
	logger   *slog.Logger
}

// CommandOption customizes a CommandStep.
type CommandOption func(*CommandStep)

// WithRunner replaces process execution, mainly for tests.
func WithRunner(r Runner) CommandOption {
	return func(s *CommandStep) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithLogger sets the step logger.
func WithLogger(logger *slog.Logger) CommandOption {
	return func(s *CommandStep) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCommandStep builds a command step. registry may be nil, in which case
// outputs are checked but not registered.
func NewCommandStep(spec CommandSpec, policy retry.Policy, registry Registrar, opts ...CommandOption) (*CommandStep, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Command = strings.TrimSpace(spec.Command)
	if spec.Name == "" {
		return nil, services.Wrap(services.ErrValidation, "", "build step", "step name is required", nil)
	}
	if spec.Command == "" {
		return nil, services.Wrap(services.ErrValidation, spec.Name, "build step", "command is required", nil)
	}
	if spec.ArtifactType == "" {
		spec.ArtifactType = spec.Name
	}
	s := &CommandStep{
		spec:     spec,
		policy:   policy,
		registry: registry,
		runner:   execRunner,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements pipeline.Step.
func (s *CommandStep) Name() string { return s.spec.Name }

// Spec returns the step declaration.
func (s *CommandStep) Spec() CommandSpec { return s.spec }

// Run implements pipeline.Step.
func (s *CommandStep) Run(ctx context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
	logger := logging.WithContext(ctx, s.logger)

	args, err := renderAll(s.spec.Name, s.spec.Args, snap)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, s.spec.Name, "render arguments", "", err)
	}
	outputs, err := s.resolveOutputs(snap)
	if err != nil {
		return nil, err
	}
	dir := snap.StringOr("output_dir", "")

	attempts := 0
	stdout, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		attempts++
		return s.invoke(ctx, dir, args)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("command finished",
		logging.String("command", s.spec.Command),
		logging.Int("attempts", attempts),
		logging.Int("stdout_bytes", len(stdout)),
	)

	patch := pipeline.NewPatch()
	prefix := s.spec.Name + "."
	if len(outputs) == 0 {
		patch.SetString(prefix+"output", strings.TrimSpace(string(stdout)))
		return patch, nil
	}

	jobID := snap.StringOr("job_id", "")
	parent := ""
	if s.spec.ParentFrom != "" {
		parent = snap.StringOr(s.spec.ParentFrom, "")
	}
	versionIDs := make([]string, 0, len(outputs))
	for i, output := range outputs {
		if s.registry == nil {
			continue
		}
		opts := []artifacts.RegisterOption{artifacts.WithMetadata(map[string]any{
			"step":     s.spec.Name,
			"command":  s.spec.Command,
			"attempts": attempts,
		})}
		if i == 0 && parent != "" {
			opts = append(opts, artifacts.WithParent(parent))
		}
		version, err := s.registry.Register(ctx, output, s.spec.ArtifactType, jobID, opts...)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, s.spec.Name, "register output", output, err)
		}
		versionIDs = append(versionIDs, version.VersionID)
	}

	patch.SetString(prefix+"output", outputs[0])
	patch.SetStrings(prefix+"outputs", outputs)
	if len(versionIDs) > 0 {
		patch.SetString(prefix+"version_id", versionIDs[0])
		patch.SetStrings(prefix+"version_ids", versionIDs)
	}
	return patch, nil
}

func (s *CommandStep) invoke(ctx context.Context, dir string, args []string) ([]byte, error) {
	stdout, err := s.runner(ctx, dir, s.spec.Command, args)
	if err == nil {
		return stdout, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		detail := fmt.Sprintf("%s exited with code %d", s.spec.Command, code)
		if stderr := strings.TrimSpace(string(exitErr.Stderr)); stderr != "" {
			detail += ": " + lastLine(stderr)
		}
		if slices.Contains(s.spec.RetryExitCodes, code) {
			return nil, services.Wrap(services.ErrTransient, s.spec.Name, "run command", detail, err)
		}
		return nil, services.Wrap(services.ErrExternalTool, s.spec.Name, "run command", detail, err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, services.Wrap(services.ErrConfiguration, s.spec.Name, "run command", "binary not found", err)
	}
	return nil, services.Wrap(services.ErrExternalTool, s.spec.Name, "run command", "", err)
}

func (s *CommandStep) resolveOutputs(snap pipeline.Snapshot) ([]string, error) {
	rendered, err := renderAll(s.spec.Name, s.spec.Outputs, snap)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, s.spec.Name, "render outputs", "", err)
	}
	base := snap.StringOr("output_dir", "")
	outputs := make([]string, 0, len(rendered))
	for _, out := range rendered {
		out = strings.TrimSpace(out)
		if out == "" {
			continue
		}
		if !filepath.IsAbs(out) && base != "" {
			out = filepath.Join(base, out)
		}
		outputs = append(outputs, filepath.Clean(out))
	}
	return outputs, nil
}

func execRunner(ctx context.Context, dir, command string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitErr.Stderr = stderr.Bytes()
	}
	return stdout.Bytes(), err
}

func lastLine(text string) string {
	lines := strings.Split(text, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
