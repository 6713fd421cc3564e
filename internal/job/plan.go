package job

import (
	"fmt"
	"strings"

	"reelsmith/internal/pipeline"
	"reelsmith/internal/services"
)

// Standard phase names.
const (
	PhaseSetup    = "setup"
	PhaseAssets   = "assets"
	PhaseAssembly = "assembly"
	PhasePublish  = "publish"
)

// Phase is a named group of steps run with one composition mode.
type Phase struct {
	Name  string
	Mode  pipeline.Mode
	Steps []pipeline.Step
	// Optional phases with no steps are skipped instead of rejected.
	Optional bool
}

// Plan lists the phases of a job in execution order.
type Plan struct {
	Phases []Phase
}

// StandardPlan builds the usual four-phase plan: sequential setup and script
// steps, parallel asset generation, sequential assembly and review, then
// optional publish and notify steps.
func StandardPlan(setup, assets, assembly, publish []pipeline.Step) Plan {
	return Plan{Phases: []Phase{
		{Name: PhaseSetup, Mode: pipeline.ModeSequential, Steps: setup},
		{Name: PhaseAssets, Mode: pipeline.ModeParallel, Steps: assets},
		{Name: PhaseAssembly, Mode: pipeline.ModeSequential, Steps: assembly},
		{Name: PhasePublish, Mode: pipeline.ModeSequential, Steps: publish, Optional: true},
	}}
}

// Validate checks phase names, modes, and step names. Step names must be
// unique across the plan because they prefix the context keys steps write.
func (p Plan) Validate() error {
	if len(p.Phases) == 0 {
		return services.Wrap(services.ErrValidation, "", "validate plan", "plan has no phases", nil)
	}
	phases := map[string]struct{}{}
	steps := map[string]string{}
	for i, phase := range p.Phases {
		name := strings.TrimSpace(phase.Name)
		if name == "" {
			return services.Wrap(services.ErrValidation, "", "validate plan", fmt.Sprintf("phase %d has no name", i), nil)
		}
		if _, dup := phases[name]; dup {
			return services.Wrap(services.ErrValidation, "", "validate plan", fmt.Sprintf("duplicate phase %q", name), nil)
		}
		phases[name] = struct{}{}
		switch phase.Mode {
		case pipeline.ModeSequential, pipeline.ModeParallel:
		default:
			return services.Wrap(services.ErrValidation, "", "validate plan", fmt.Sprintf("phase %q has unknown mode %q", name, phase.Mode), nil)
		}
		if len(phase.Steps) == 0 && !phase.Optional {
			return services.Wrap(services.ErrValidation, "", "validate plan", fmt.Sprintf("phase %q has no steps", name), nil)
		}
		for j, step := range phase.Steps {
			if step == nil {
				return services.Wrap(services.ErrValidation, "", "validate plan", fmt.Sprintf("phase %q step %d is nil", name, j), nil)
			}
			stepName := step.Name()
			if stepName == "" {
				continue
			}
			if prev, dup := steps[stepName]; dup {
				return services.Wrap(services.ErrValidation, "", "validate plan",
					fmt.Sprintf("step %q appears in phases %q and %q", stepName, prev, name), nil)
			}
			steps[stepName] = name
		}
	}
	return nil
}

// StepCount returns the number of steps across all phases.
func (p Plan) StepCount() int {
	n := 0
	for _, phase := range p.Phases {
		n += len(phase.Steps)
	}
	return n
}
