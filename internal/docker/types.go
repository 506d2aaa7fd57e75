package docker

import (
	"context"
	"fmt"
	"time"
)

// NoHealthcheck marks containers whose image and config define no healthcheck.
const NoHealthcheck = "no healthcheck"

// Runtime is the container runtime as seen by the reporter and the updater.
// Implementations block until the runtime answers; no timeout is imposed here.
type Runtime interface {
	ListContainers(ctx context.Context, all bool) ([]Container, error)
	Inspect(ctx context.Context, id string) (Details, error)
	Stats(ctx context.Context, id string) (Usage, error)
	Pull(ctx context.Context, ref string) (Result, error)
	Stop(ctx context.Context, id string) (Result, error)
	Remove(ctx context.Context, id string) (Result, error)
	Run(ctx context.Context, spec RecreateSpec) (Result, error)
	Close() error
}

// Container is one entry of a container listing.
type Container struct {
	ID     string
	Name   string
	Image  string
	Status string
}

// Details is the subset of an inspect response the tools rely on.
type Details struct {
	ID      string
	Name    string
	Image   string
	ImageID string
	Status  string
	Health  string
	Created time.Time
	Env     []string
	Ports   map[string][]string
	Mounts  []Mount
}

// Mount is one filesystem mount of a container as reported by inspect.
type Mount struct {
	Type        string
	Name        string
	Source      string
	Destination string
	RW          bool
}

// Usage holds one-shot resource counters. Nil means the runtime did not report the value.
type Usage struct {
	CPUTotal *uint64
	Memory   *uint64
}

// Result describes a completed runtime action.
type Result struct {
	Action      string
	Output      string
	ContainerID string
}

// RecreateSpec is everything needed to relaunch a container under its old name.
type RecreateSpec struct {
	Name    string                   `json:"name"`
	Image   string                   `json:"image"`
	Ports   map[string]string        `json:"ports"`
	Volumes map[string]VolumeBinding `json:"volumes"`
	Env     []string                 `json:"env"`
}

// VolumeBinding places a named volume at Bind inside the container; Mode is "rw" or "ro".
type VolumeBinding struct {
	Bind string `json:"bind"`
	Mode string `json:"mode"`
}

// ShortID truncates a container ID the way the docker CLI displays it.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Open returns the backend named by kind: "api" (Engine API socket) or "cli" (docker binary).
func Open(kind, host, bin string) (Runtime, error) {
	switch kind {
	case "", "api":
		rt, err := NewAPIRuntime(host)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case "cli":
		return NewCLIRuntime(bin, nil), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", kind)
	}
}
