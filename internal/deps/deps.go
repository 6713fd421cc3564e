package deps

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Requirement is an external binary a job relies on. Command may be a bare
// name resolved through PATH or a path containing a slash.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of resolving one Requirement.
type Status struct {
	Requirement
	Available bool
	// Resolved is the absolute path LookPath found.
	Resolved string
	Detail   string
}

// ForCommands turns the distinct, non-empty commands of a job file into
// required entries sharing description.
func ForCommands(commands []string, description string) []Requirement {
	seen := make(map[string]bool, len(commands))
	reqs := make([]Requirement, 0, len(commands))
	for _, cmd := range commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" || seen[cmd] {
			continue
		}
		seen[cmd] = true
		reqs = append(reqs, Requirement{Name: cmd, Command: cmd, Description: description})
	}
	return reqs
}

// CheckBinaries resolves every requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		results[i] = resolve(req)
	}
	return results
}

func resolve(req Requirement) Status {
	status := Status{Requirement: req}
	if req.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(req.Command)
	switch {
	case err == nil:
		status.Available = true
		status.Resolved = path
	case errors.Is(err, exec.ErrNotFound):
		status.Detail = fmt.Sprintf("binary %q not found", req.Command)
	case errors.Is(err, os.ErrPermission):
		status.Detail = fmt.Sprintf("binary %q is not executable", req.Command)
	default:
		status.Detail = fmt.Sprintf("resolve %q: %v", req.Command, err)
	}
	return status
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
