// Package report takes one-shot status snapshots of every container on the host.
package report

import (
	"context"
	"strings"
	"time"

	"containerops/internal/docker"
	"containerops/internal/output"

	"github.com/docker/go-units"
	log "github.com/sirupsen/logrus"
)

// Snapshot is the state of one container at report time. Usage fields are
// nil when the runtime reported nothing.
type Snapshot struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	Status   string            `json:"status"`
	Health   string            `json:"health"`
	Created  time.Time         `json:"created"`
	Ports    map[string]string `json:"ports"`
	CPUUsage *uint64           `json:"cpu_usage"`
	MemUsage *uint64           `json:"mem_usage"`
}

// Report is the document written once per status run.
type Report struct {
	Timestamp  time.Time  `json:"timestamp"`
	Containers []Snapshot `json:"containers"`
}

type Reporter struct {
	rt  docker.Runtime
	now func() time.Time
}

func New(rt docker.Runtime, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{rt: rt, now: now}
}

// Produce snapshots every container, running or not. Per-container inspect
// and stats failures degrade that container's entry; only a failed listing
// fails the report.
func (r *Reporter) Produce(ctx context.Context) (Report, error) {
	rep := Report{Timestamp: r.now(), Containers: []Snapshot{}}

	containers, err := r.rt.ListContainers(ctx, true)
	if err != nil {
		return rep, err
	}
	for _, c := range containers {
		rep.Containers = append(rep.Containers, r.snapshot(ctx, c))
	}
	return rep, nil
}

func (r *Reporter) snapshot(ctx context.Context, c docker.Container) Snapshot {
	snap := Snapshot{
		ID:     docker.ShortID(c.ID),
		Name:   c.Name,
		Image:  c.Image,
		Status: c.Status,
		Health: docker.NoHealthcheck,
		Ports:  map[string]string{},
	}

	details, err := r.rt.Inspect(ctx, c.ID)
	if err != nil {
		log.WithField("container", c.Name).Warnf("inspect failed: %v", err)
	} else {
		if details.Image != "" {
			snap.Image = details.Image
		}
		snap.Status = details.Status
		snap.Health = details.Health
		snap.Created = details.Created
		snap.Ports = details.PublishedPorts()
	}
	if snap.Image == "" {
		snap.Image = "unknown"
	}

	if !strings.EqualFold(snap.Status, "running") {
		return snap
	}
	usage, err := r.rt.Stats(ctx, c.ID)
	if err != nil {
		log.WithField("container", c.Name).Debugf("stats unavailable: %v", err)
		return snap
	}
	snap.CPUUsage = usage.CPUTotal
	snap.MemUsage = usage.Memory
	return snap
}

// Summary renders one row per container. The row of target, when present, is marked.
func Summary(rep Report, target string) string {
	rows := make([][]string, 0, len(rep.Containers))
	found := false
	for _, c := range rep.Containers {
		name := c.Name
		if target != "" && strings.EqualFold(c.Name, target) {
			name = "▶ " + name
			found = true
		}
		rows = append(rows, []string{
			name,
			c.ID,
			c.Status,
			c.Health,
			c.Image,
			strings.Join(docker.SortedPorts(c.Ports), " "),
			formatCPU(c.CPUUsage),
			formatMem(c.MemUsage),
		})
	}
	var sb strings.Builder
	sb.WriteString(output.Table([]string{"NAME", "ID", "STATUS", "HEALTH", "IMAGE", "PORTS", "CPU", "MEM"}, rows))
	sb.WriteString("\n")
	if target != "" && !found {
		sb.WriteString(output.WarnMsg("target container %q not found", target))
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatCPU(v *uint64) string {
	if v == nil {
		return "-"
	}
	return time.Duration(*v).Round(time.Millisecond).String()
}

func formatMem(v *uint64) string {
	if v == nil {
		return "-"
	}
	return units.BytesSize(float64(*v))
}
