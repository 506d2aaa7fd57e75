package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/moby/moby/api/types/container"
)

var _ Runtime = (*CLIRuntime)(nil)

// Executor runs a program with an explicit argument vector and returns its
// stdout. A non-zero exit must be reported as *ExitError.
type Executor func(ctx context.Context, name string, args ...string) (string, error)

// CLIRuntime drives the docker command line client. Arguments are always
// passed as a vector, never through a shell.
type CLIRuntime struct {
	bin  string
	exec Executor
}

// NewCLIRuntime drives bin, "docker" when empty. A nil run executes the
// binary directly.
func NewCLIRuntime(bin string, run Executor) *CLIRuntime {
	if bin == "" {
		bin = "docker"
	}
	if run == nil {
		run = runCommand
	}
	return &CLIRuntime{bin: bin, exec: run}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &ExitError{
			Args:   append([]string{name}, args...),
			Code:   exitErr.ExitCode(),
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return stdout.String(), err
}

func (r *CLIRuntime) Close() error {
	return nil
}

func (r *CLIRuntime) command(ctx context.Context, args ...string) (Result, error) {
	res := Result{Action: r.bin + " " + strings.Join(args, " ")}
	out, err := r.exec(ctx, r.bin, args...)
	res.Output = strings.TrimSpace(out)
	return res, err
}

type psLine struct {
	ID    string `json:"ID"`
	Names string `json:"Names"`
	Image string `json:"Image"`
	State string `json:"State"`
}

func (r *CLIRuntime) ListContainers(ctx context.Context, all bool) ([]Container, error) {
	args := []string{"ps", "--no-trunc", "--format", "{{json .}}"}
	if all {
		args = append(args, "--all")
	}
	res, err := r.command(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var out []Container
	scanner := bufio.NewScanner(strings.NewReader(res.Output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ps psLine
		if err := json.Unmarshal([]byte(line), &ps); err != nil {
			return nil, fmt.Errorf("parse container list: %w", err)
		}
		name, _, _ := strings.Cut(ps.Names, ",")
		out = append(out, Container{ID: ps.ID, Name: name, Image: ps.Image, Status: ps.State})
	}
	return out, scanner.Err()
}

func (r *CLIRuntime) Inspect(ctx context.Context, id string) (Details, error) {
	if err := checkArg("container", id); err != nil {
		return Details{}, err
	}
	res, err := r.command(ctx, "container", "inspect", id)
	if err != nil {
		return Details{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	var items []container.InspectResponse
	if err := json.Unmarshal([]byte(res.Output), &items); err != nil {
		return Details{}, fmt.Errorf("parse inspect %s: %w", id, err)
	}
	if len(items) == 0 {
		return Details{}, fmt.Errorf("inspect container %s: empty response", id)
	}
	return detailsFromInspect(items[0]), nil
}

type statsLine struct {
	MemUsage string `json:"MemUsage"`
}

// Stats reports memory only: the CLI exposes a CPU percentage, not the
// cumulative CPU time the API returns.
func (r *CLIRuntime) Stats(ctx context.Context, id string) (Usage, error) {
	if err := checkArg("container", id); err != nil {
		return Usage{}, err
	}
	res, err := r.command(ctx, "stats", "--no-stream", "--no-trunc", "--format", "{{json .}}", id)
	if err != nil {
		return Usage{}, fmt.Errorf("stats %s: %w", id, err)
	}
	var line statsLine
	if err := json.Unmarshal([]byte(res.Output), &line); err != nil {
		return Usage{}, fmt.Errorf("parse stats %s: %w", id, err)
	}
	used, _, _ := strings.Cut(line.MemUsage, "/")
	used = strings.TrimSpace(used)
	if used == "" || used == "--" {
		return Usage{}, nil
	}
	n, err := units.RAMInBytes(used)
	if err != nil {
		return Usage{}, fmt.Errorf("parse memory usage %q: %w", used, err)
	}
	mem := uint64(n)
	return Usage{Memory: &mem}, nil
}

func (r *CLIRuntime) Pull(ctx context.Context, ref string) (Result, error) {
	if err := checkArg("image", ref); err != nil {
		return Result{}, err
	}
	res, err := r.command(ctx, "pull", ref)
	if err != nil {
		return res, fmt.Errorf("pull image %s: %w", ref, err)
	}
	if idx := strings.LastIndex(res.Output, "\n"); idx >= 0 {
		res.Output = strings.TrimSpace(res.Output[idx+1:])
	}
	return res, nil
}

func (r *CLIRuntime) Stop(ctx context.Context, id string) (Result, error) {
	if err := checkArg("container", id); err != nil {
		return Result{}, err
	}
	res, err := r.command(ctx, "stop", id)
	if err != nil {
		return res, fmt.Errorf("stop container %s: %w", id, err)
	}
	return res, nil
}

func (r *CLIRuntime) Remove(ctx context.Context, id string) (Result, error) {
	if err := checkArg("container", id); err != nil {
		return Result{}, err
	}
	res, err := r.command(ctx, "rm", id)
	if err != nil {
		return res, fmt.Errorf("remove container %s: %w", id, err)
	}
	return res, nil
}

func (r *CLIRuntime) Run(ctx context.Context, spec RecreateSpec) (Result, error) {
	if err := checkArg("container", spec.Name); err != nil {
		return Result{}, err
	}
	if err := checkArg("image", spec.Image); err != nil {
		return Result{}, err
	}
	res, err := r.command(ctx, RunArgs(spec)...)
	if err != nil {
		return res, fmt.Errorf("run container %s: %w", spec.Name, err)
	}
	res.ContainerID = res.Output
	return res, nil
}

// RunArgs builds the "docker run" argument vector for a spec, in a stable order.
func RunArgs(spec RecreateSpec) []string {
	args := []string{"run", "--detach", "--name", spec.Name}

	ports := make([]string, 0, len(spec.Ports))
	for port := range spec.Ports {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		args = append(args, "--publish", spec.Ports[port]+":"+port)
	}
	for _, name := range sortedVolumeNames(spec.Volumes) {
		vol := spec.Volumes[name]
		mode := vol.Mode
		if mode == "" {
			mode = "rw"
		}
		args = append(args, "--volume", name+":"+vol.Bind+":"+mode)
	}
	for _, env := range spec.Env {
		args = append(args, "--env", env)
	}
	return append(args, spec.Image)
}

// checkArg rejects values the docker CLI would parse as flags.
func checkArg(kind, val string) error {
	if val == "" {
		return fmt.Errorf("empty %s name", kind)
	}
	if strings.HasPrefix(val, "-") {
		return fmt.Errorf("invalid %s name %q", kind, val)
	}
	return nil
}

func sortedVolumeNames(volumes map[string]VolumeBinding) []string {
	names := make([]string, 0, len(volumes))
	for name := range volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
