package executor

import (
	"fmt"
	"path/filepath"

	"github.com/modelyard/modelyard/pkg/api"
)

// Command is the fully resolved invocation a backend produces. Backends are
// pure functions from (job, working directory) to a Command so they can be
// unit-tested without spawning processes.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty for container jobs where the
	// workdir is mounted into the container instead.
	Dir string
}

// buildCommand selects the backend for the job's environment kind. Unknown
// kinds run through the system shell.
func buildCommand(job api.Job, workDir string) Command {
	switch job.Environment {
	case api.EnvContainer:
		return buildContainerCommand(job, workDir)
	case api.EnvConda:
		return buildCondaCommand(job, workDir)
	case api.EnvVenv:
		return buildVenvCommand(job, workDir)
	default:
		return buildSystemCommand(job, workDir)
	}
}

// buildSystemCommand runs the command directly through a shell.
func buildSystemCommand(job api.Job, workDir string) Command {
	return Command{
		Name: "sh",
		Args: []string{"-c", job.Command},
		Dir:  workDir,
	}
}

// buildContainerCommand runs the command inside a container with the working
// directory mounted at /workspace. GPU access, extra volumes and the image
// come from the job's environment config; environment variables are injected
// as container flags.
func buildContainerCommand(job api.Job, workDir string) Command {
	image := "python:3.12"
	if img, ok := job.EnvConfig["image"].(string); ok {
		image = img
	}

	args := []string{"run", "--rm"}
	args = append(args, "-v", fmt.Sprintf("%s:/workspace", workDir))

	if volumes, ok := job.EnvConfig["volumes"].([]any); ok {
		for _, v := range volumes {
			if vol, ok := v.(string); ok {
				args = append(args, "-v", vol)
			}
		}
	}

	if gpu, ok := job.EnvConfig["gpu"].(bool); ok && gpu {
		args = append(args, "--gpus", "all")
	}

	for _, kv := range sortedEnv(job.EnvironmentVars) {
		args = append(args, "-e", kv)
	}

	args = append(args, "-w", "/workspace", image)
	args = append(args, "sh", "-c", job.Command)

	return Command{
		Name: "docker",
		Args: args,
	}
}

// buildCondaCommand wraps the command in a conda activation preamble.
func buildCondaCommand(job api.Job, workDir string) Command {
	envName := "base"
	if name, ok := job.EnvConfig["env_name"].(string); ok {
		envName = name
	}

	wrapped := fmt.Sprintf(
		"source $(conda info --base)/etc/profile.d/conda.sh && conda activate %s && %s",
		envName, job.Command,
	)

	return Command{
		Name: "bash",
		Args: []string{"-c", wrapped},
		Dir:  workDir,
	}
}

// buildVenvCommand wraps the command in a virtualenv activation preamble.
// Relative venv paths resolve against the working directory.
func buildVenvCommand(job api.Job, workDir string) Command {
	venvPath := ".venv"
	if path, ok := job.EnvConfig["venv_path"].(string); ok {
		venvPath = path
	}
	if !filepath.IsAbs(venvPath) {
		venvPath = filepath.Join(workDir, venvPath)
	}

	activate := filepath.Join(venvPath, "bin", "activate")
	wrapped := fmt.Sprintf("source %s && %s", activate, job.Command)

	return Command{
		Name: "bash",
		Args: []string{"-c", wrapped},
		Dir:  workDir,
	}
}
