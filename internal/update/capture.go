package update

import (
	"fmt"
	"strconv"

	"containerops/internal/docker"
)

// CaptureSpec extracts the relaunch configuration from a container that still
// exists. Only the first host binding per port and only named volumes are
// kept; bind mounts to host paths are dropped.
func CaptureSpec(d docker.Details, image string) docker.RecreateSpec {
	if image == "" {
		image = d.Image
	}
	spec := docker.RecreateSpec{
		Name:    d.Name,
		Image:   image,
		Ports:   d.PublishedPorts(),
		Volumes: map[string]docker.VolumeBinding{},
		Env:     append([]string(nil), d.Env...),
	}
	for _, m := range d.Mounts {
		if m.Type != "volume" || m.Name == "" {
			continue
		}
		mode := "ro"
		if m.RW {
			mode = "rw"
		}
		spec.Volumes[m.Name] = docker.VolumeBinding{Bind: m.Destination, Mode: mode}
	}
	return spec
}

// FixedSpec is the configuration used in fixed mode: one tcp port mapping,
// no volumes and no environment.
func FixedSpec(name, image string, hostPort, containerPort int) docker.RecreateSpec {
	return docker.RecreateSpec{
		Name:    name,
		Image:   image,
		Ports:   map[string]string{fmt.Sprintf("%d/tcp", containerPort): strconv.Itoa(hostPort)},
		Volumes: map[string]docker.VolumeBinding{},
	}
}
