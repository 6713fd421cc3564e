package job

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"reelsmith/internal/config"
	"reelsmith/internal/notifications"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/retry"
	"reelsmith/internal/services"
	"reelsmith/internal/steps"
)

// Step kinds accepted in job files.
const (
	KindCommand = "command"
	KindNotify  = "notify"
)

// File is the decoded form of a TOML job file.
type File struct {
	Name   string      `toml:"name"`
	Phases []PhaseSpec `toml:"phase"`

	path string
}

// PhaseSpec declares one phase in a job file.
type PhaseSpec struct {
	Name     string     `toml:"name"`
	Mode     string     `toml:"mode"`
	Optional bool       `toml:"optional"`
	Steps    []StepSpec `toml:"step"`
}

// StepSpec declares one step in a job file. Command steps use the command
// fields; notify steps use title, message, tag, and required.
type StepSpec struct {
	Name           string   `toml:"name"`
	Kind           string   `toml:"kind"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Outputs        []string `toml:"outputs"`
	ArtifactType   string   `toml:"artifact_type"`
	Policy         string   `toml:"policy"`
	RetryExitCodes []int    `toml:"retry_exit_codes"`
	ParentFrom     string   `toml:"parent_from"`

	Title    string `toml:"title"`
	Message  string `toml:"message"`
	Tag      string `toml:"tag"`
	Required bool   `toml:"required"`
}

// Path returns the file the job was loaded from.
func (f *File) Path() string { return f.path }

// LoadFile reads and validates a job file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	file.path = path
	return file, nil
}

// Parse decodes and validates job file contents. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var file File
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "parse job file", "", err)
	}
	file.normalize()
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *File) normalize() {
	for i := range f.Phases {
		phase := &f.Phases[i]
		phase.Name = strings.TrimSpace(phase.Name)
		phase.Mode = strings.ToLower(strings.TrimSpace(phase.Mode))
		if phase.Mode == "" {
			phase.Mode = string(pipeline.ModeSequential)
		}
		for j := range phase.Steps {
			step := &phase.Steps[j]
			step.Name = strings.TrimSpace(step.Name)
			step.Kind = strings.ToLower(strings.TrimSpace(step.Kind))
			if step.Kind == "" {
				step.Kind = KindCommand
			}
			step.Policy = strings.ToLower(strings.TrimSpace(step.Policy))
		}
	}
}

// Validate checks the declarations without building steps.
func (f *File) Validate() error {
	if len(f.Phases) == 0 {
		return services.Wrap(services.ErrValidation, "", "validate job file", "no [[phase]] tables", nil)
	}
	seen := map[string]struct{}{}
	for _, phase := range f.Phases {
		if phase.Name == "" {
			return services.Wrap(services.ErrValidation, "", "validate job file", "phase name is required", nil)
		}
		if phase.Mode != string(pipeline.ModeSequential) && phase.Mode != string(pipeline.ModeParallel) {
			return services.Wrap(services.ErrValidation, phase.Name, "validate job file", fmt.Sprintf("unknown mode %q", phase.Mode), nil)
		}
		for _, step := range phase.Steps {
			if step.Name == "" {
				return services.Wrap(services.ErrValidation, phase.Name, "validate job file", "step name is required", nil)
			}
			if _, dup := seen[step.Name]; dup {
				return services.Wrap(services.ErrValidation, phase.Name, "validate job file", fmt.Sprintf("duplicate step %q", step.Name), nil)
			}
			seen[step.Name] = struct{}{}
			switch step.Kind {
			case KindCommand:
				if strings.TrimSpace(step.Command) == "" {
					return services.Wrap(services.ErrValidation, step.Name, "validate job file", "command is required", nil)
				}
			case KindNotify:
				if strings.TrimSpace(step.Message) == "" {
					return services.Wrap(services.ErrValidation, step.Name, "validate job file", "message is required", nil)
				}
			default:
				return services.Wrap(services.ErrValidation, step.Name, "validate job file", fmt.Sprintf("unknown kind %q", step.Kind), nil)
			}
		}
	}
	return nil
}

// Commands returns the distinct external binaries the file invokes, in
// declaration order.
func (f *File) Commands() []string {
	var commands []string
	for _, phase := range f.Phases {
		for _, step := range phase.Steps {
			if step.Kind != KindCommand {
				continue
			}
			cmd := strings.TrimSpace(step.Command)
			if cmd != "" && !slices.Contains(commands, cmd) {
				commands = append(commands, cmd)
			}
		}
	}
	return commands
}

// Policies returns the distinct retry policy names referenced by command
// steps, with empty names reported as the default policy.
func (f *File) Policies() []string {
	var names []string
	for _, phase := range f.Phases {
		for _, step := range phase.Steps {
			if step.Kind != KindCommand {
				continue
			}
			name := step.Policy
			if name == "" {
				name = config.DefaultRetryPolicyName
			}
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// Dependencies wires the collaborators steps need.
type Dependencies struct {
	Config   *config.Config
	Registry steps.Registrar
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Build turns the file into an executable plan.
func (f *File) Build(deps Dependencies) (Plan, error) {
	var plan Plan
	for _, spec := range f.Phases {
		phase := Phase{
			Name:     spec.Name,
			Mode:     pipeline.Mode(spec.Mode),
			Optional: spec.Optional,
		}
		for _, stepSpec := range spec.Steps {
			step, err := buildStep(stepSpec, deps)
			if err != nil {
				return Plan{}, err
			}
			phase.Steps = append(phase.Steps, step)
		}
		plan.Phases = append(plan.Phases, phase)
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func buildStep(spec StepSpec, deps Dependencies) (pipeline.Step, error) {
	switch spec.Kind {
	case KindNotify:
		return steps.NewNotifyStep(steps.NotifySpec{
			Name:     spec.Name,
			Title:    spec.Title,
			Message:  spec.Message,
			Tag:      spec.Tag,
			Required: spec.Required,
		}, deps.Notifier, deps.Logger)
	default:
		policyName := spec.Policy
		if policyName == "" {
			policyName = config.DefaultRetryPolicyName
		}
		policy := retry.Named(deps.Config, policyName, deps.Logger)
		return steps.NewCommandStep(steps.CommandSpec{
			Name:           spec.Name,
			Command:        spec.Command,
			Args:           spec.Args,
			Outputs:        spec.Outputs,
			ArtifactType:   spec.ArtifactType,
			RetryExitCodes: spec.RetryExitCodes,
			ParentFrom:     spec.ParentFrom,
		}, policy, deps.Registry, steps.WithLogger(deps.Logger))
	}
}
