package docker

import (
	"sort"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/moby/moby/api/types/container"
)

// ResolveImage turns the image a container was created from into a pullable
// tagged reference. Image IDs, digest-only references and unparsable values
// resolve to "".
func ResolveImage(image string) string {
	image = strings.TrimSpace(image)
	if image == "" || strings.HasPrefix(image, "sha256:") {
		return ""
	}
	ref, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return ""
	}
	tagged, isTagged := ref.(reference.NamedTagged)
	if !isTagged {
		if _, digested := ref.(reference.Digested); digested {
			return ""
		}
	}
	tag := "latest"
	if isTagged {
		tag = tagged.Tag()
	}
	out, err := reference.WithTag(reference.TrimNamed(ref), tag)
	if err != nil {
		return ""
	}
	return reference.FamiliarString(out)
}

func detailsFromInspect(inspect container.InspectResponse) Details {
	d := Details{
		ID:      inspect.ID,
		Name:    strings.TrimPrefix(inspect.Name, "/"),
		ImageID: inspect.Image,
		Status:  "unknown",
		Health:  NoHealthcheck,
		Created: parseDockerTime(inspect.Created),
		Ports:   map[string][]string{},
	}
	if inspect.Config != nil {
		d.Image = inspect.Config.Image
		d.Env = append([]string(nil), inspect.Config.Env...)
	}
	if inspect.State != nil {
		d.Status = string(inspect.State.Status)
		if inspect.State.Health != nil && inspect.State.Health.Status != "" {
			d.Health = string(inspect.State.Health.Status)
		}
	}
	if inspect.NetworkSettings != nil {
		for port, bindings := range inspect.NetworkSettings.Ports {
			hostPorts := make([]string, 0, len(bindings))
			for _, b := range bindings {
				hostPorts = append(hostPorts, b.HostPort)
			}
			d.Ports[port.String()] = hostPorts
		}
	}
	// The Engine only reports live bindings for running containers; a stopped
	// container keeps its requested bindings in the host config.
	if d.Status != "running" && len(d.PublishedPorts()) == 0 && inspect.HostConfig != nil {
		for port, bindings := range inspect.HostConfig.PortBindings {
			var hostPorts []string
			for _, b := range bindings {
				if b.HostPort != "" {
					hostPorts = append(hostPorts, b.HostPort)
				}
			}
			d.Ports[port.String()] = hostPorts
		}
	}
	for _, m := range inspect.Mounts {
		d.Mounts = append(d.Mounts, Mount{
			Type:        string(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
			RW:          m.RW,
		})
	}
	return d
}

// PublishedPorts keeps the first host binding of every published port.
func (d Details) PublishedPorts() map[string]string {
	out := make(map[string]string, len(d.Ports))
	for port, hostPorts := range d.Ports {
		if len(hostPorts) == 0 {
			continue
		}
		out[port] = hostPorts[0]
	}
	return out
}

// SortedPorts renders a port map as "8080/tcp->8080" pairs in a stable order.
func SortedPorts(ports map[string]string) []string {
	out := make([]string, 0, len(ports))
	for port, host := range ports {
		out = append(out, port+"->"+host)
	}
	sort.Strings(out)
	return out
}

func parseDockerTime(val string) time.Time {
	if val == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
