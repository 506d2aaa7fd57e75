package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

var _ Runtime = (*APIRuntime)(nil)

// APIRuntime talks to the Docker Engine API over the control socket.
type APIRuntime struct {
	cli *client.Client
}

// NewAPIRuntime connects to the Engine API at host. A bare socket path is
// treated as a unix socket; an empty host uses the client defaults.
func NewAPIRuntime(host string) (*APIRuntime, error) {
	if host != "" && !strings.Contains(host, "://") {
		host = fmt.Sprintf("unix://%s", host)
	}
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &APIRuntime{cli: cli}, nil
}

func (r *APIRuntime) Close() error {
	return r.cli.Close()
}

func (r *APIRuntime) ListContainers(ctx context.Context, all bool) ([]Container, error) {
	result, err := r.cli.ContainerList(ctx, client.ContainerListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]Container, 0, len(result.Items))
	for _, c := range result.Items {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, Container{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			Status: string(c.State),
		})
	}
	return out, nil
}

func (r *APIRuntime) Inspect(ctx context.Context, id string) (Details, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		return Details{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	return detailsFromInspect(inspect.Container), nil
}

// statsSample mirrors the two counters we read. Pointers keep "missing"
// distinct from zero; stopped containers report an empty memory_stats object.
type statsSample struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage *uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
	} `json:"cpu_stats"`
	MemoryStats struct {
		Usage *uint64 `json:"usage"`
	} `json:"memory_stats"`
}

func (r *APIRuntime) Stats(ctx context.Context, id string) (Usage, error) {
	result, err := r.cli.ContainerStats(ctx, id, client.ContainerStatsOptions{Stream: false})
	if err != nil {
		return Usage{}, fmt.Errorf("stats %s: %w", id, err)
	}
	defer result.Body.Close()

	var sample statsSample
	if err := json.NewDecoder(result.Body).Decode(&sample); err != nil {
		return Usage{}, fmt.Errorf("decode stats %s: %w", id, err)
	}
	return Usage{
		CPUTotal: sample.CPUStats.CPUUsage.TotalUsage,
		Memory:   sample.MemoryStats.Usage,
	}, nil
}

// pullMessage is one line of the image pull progress stream.
type pullMessage struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (r *APIRuntime) Pull(ctx context.Context, ref string) (Result, error) {
	res := Result{Action: "POST /images/create fromImage=" + ref}
	resp, err := r.cli.ImagePull(ctx, ref, client.ImagePullOptions{})
	if err != nil {
		return res, fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer resp.Close()

	dec := json.NewDecoder(resp)
	for {
		var msg pullMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, fmt.Errorf("pull image %s: read response: %w", ref, err)
		}
		if msg.ErrorDetail != nil && msg.ErrorDetail.Message != "" {
			return res, fmt.Errorf("pull image %s: %s", ref, msg.ErrorDetail.Message)
		}
		if msg.Error != "" {
			return res, fmt.Errorf("pull image %s: %s", ref, msg.Error)
		}
		if msg.Status != "" {
			res.Output = msg.Status
		}
	}
	return res, nil
}

func (r *APIRuntime) Stop(ctx context.Context, id string) (Result, error) {
	res := Result{Action: "POST /containers/" + id + "/stop"}
	if _, err := r.cli.ContainerStop(ctx, id, client.ContainerStopOptions{}); err != nil {
		return res, fmt.Errorf("stop container %s: %w", id, err)
	}
	return res, nil
}

func (r *APIRuntime) Remove(ctx context.Context, id string) (Result, error) {
	res := Result{Action: "DELETE /containers/" + id}
	if _, err := r.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{}); err != nil {
		return res, fmt.Errorf("remove container %s: %w", id, err)
	}
	return res, nil
}

func (r *APIRuntime) Run(ctx context.Context, spec RecreateSpec) (Result, error) {
	res := Result{Action: "POST /containers/create name=" + spec.Name + " image=" + spec.Image}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: network.PortSet{},
	}
	hostCfg := &container.HostConfig{
		PortBindings: network.PortMap{},
	}
	for containerPort, hostPort := range spec.Ports {
		port, err := network.ParsePort(containerPort)
		if err != nil {
			return res, fmt.Errorf("parse port %q: %w", containerPort, err)
		}
		cfg.ExposedPorts[port] = struct{}{}
		hostCfg.PortBindings[port] = []network.PortBinding{{HostPort: hostPort}}
	}
	for _, name := range sortedVolumeNames(spec.Volumes) {
		vol := spec.Volumes[name]
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   name,
			Target:   vol.Bind,
			ReadOnly: vol.Mode == "ro",
		})
	}

	created, err := r.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     cfg,
		HostConfig: hostCfg,
		Name:       spec.Name,
	})
	if err != nil {
		return res, fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	res.ContainerID = created.ID
	res.Output = created.ID
	if len(created.Warnings) > 0 {
		res.Output = created.ID + "\n" + strings.Join(created.Warnings, "\n")
	}

	if _, err := r.cli.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return res, fmt.Errorf("start container %s: %w", spec.Name, err)
	}
	return res, nil
}
