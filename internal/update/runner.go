// Package update pulls fresh images and recreates containers from them.
package update

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"containerops/internal/config"
	"containerops/internal/docker"
	"containerops/internal/output"

	log "github.com/sirupsen/logrus"
)

// Options select which containers are recreated and how.
type Options struct {
	Mode          string
	Exclude       string
	Target        string
	Image         string
	HostPort      int
	ContainerPort int
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Mode:          cfg.Mode,
		Exclude:       cfg.Exclude,
		Target:        cfg.Target,
		Image:         cfg.Image,
		HostPort:      cfg.HostPort,
		ContainerPort: cfg.ContainerPort,
	}
}

// Runner recreates the selected containers one at a time.
type Runner struct {
	rt   docker.Runtime
	opts Options
	out  io.Writer
	now  func() time.Time
}

func NewRunner(rt docker.Runtime, opts Options, out io.Writer, now func() time.Time) *Runner {
	if out == nil {
		out = io.Discard
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{rt: rt, opts: opts, out: out, now: now}
}

type target struct {
	id      string
	name    string
	image   string
	present bool
}

// Run processes every target to completion before starting the next. It
// returns an error only when the targets cannot be determined; the log is
// returned either way.
func (r *Runner) Run(ctx context.Context) (Log, error) {
	started := r.now()
	lg := Log{
		Timestamp: started,
		Action:    "update_containers",
		Mode:      r.opts.Mode,
		Results:   []Result{},
	}

	targets, err := r.targets(ctx)
	if err != nil {
		lg.FinishedAt = r.now()
		lg.DurationMS = lg.FinishedAt.Sub(started).Milliseconds()
		return lg, err
	}

	for _, t := range targets {
		var res Result
		if err := ctx.Err(); err != nil {
			res = Result{Container: t.name, OldImage: t.image, Image: r.imageFor(t), Status: errorStatus(err.Error()), Steps: []Step{}}
			res.StartedAt = r.now()
			res.FinishedAt = res.StartedAt
		} else {
			res = r.recreate(ctx, t)
		}
		r.report(res)
		lg.Results = append(lg.Results, res)
	}

	lg.FinishedAt = r.now()
	lg.DurationMS = lg.FinishedAt.Sub(started).Milliseconds()
	return lg, nil
}

func (r *Runner) targets(ctx context.Context) ([]target, error) {
	containers, err := r.rt.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}

	if r.opts.Mode == config.ModeFixed {
		for _, c := range containers {
			if c.Name == r.opts.Target {
				return []target{{id: c.ID, name: c.Name, image: c.Image, present: true}}, nil
			}
		}
		return []target{{name: r.opts.Target}}, nil
	}

	var out []target
	for _, c := range containers {
		if r.opts.Exclude != "" && strings.EqualFold(c.Name, r.opts.Exclude) {
			log.WithField("container", c.Name).Debug("excluded")
			continue
		}
		image := docker.ResolveImage(c.Image)
		if image == "" {
			log.WithField("container", c.Name).Infof("skipped: no resolvable image (%q)", c.Image)
			continue
		}
		out = append(out, target{id: c.ID, name: c.Name, image: image, present: true})
	}
	return out, nil
}

func (r *Runner) imageFor(t target) string {
	if r.opts.Mode == config.ModeFixed {
		return r.opts.Image
	}
	return t.image
}

// recreate runs pull, capture, stop, remove and run for one container. The
// configuration is captured before anything is destroyed.
func (r *Runner) recreate(ctx context.Context, t target) (res Result) {
	image := r.imageFor(t)
	res = Result{
		Container: t.name,
		OldImage:  t.image,
		Image:     image,
		Steps:     []Step{},
		StartedAt: r.now(),
	}
	logger := log.WithFields(log.Fields{"container": t.name, "image": image})
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("recreate panicked: %v", p)
			res.Status = errorStatus(fmt.Sprint(p))
		}
		res.FinishedAt = r.now()
		res.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	}()

	fmt.Fprintln(r.out, output.InfoMsg("Pulling latest image for %s (%s)", t.name, image))
	pulled, err := r.rt.Pull(ctx, image)
	res.record("pull", pulled, err)
	if err != nil {
		logger.Warnf("pull failed, container left untouched: %v", err)
		res.Status = StatusFailedPull
		return res
	}

	spec, err := r.capture(ctx, t, image)
	if err != nil {
		res.Status = errorStatus("capture configuration: " + err.Error())
		return res
	}

	fmt.Fprintln(r.out, output.InfoMsg("Recreating container %s", t.name))
	if t.present {
		stopped, err := r.rt.Stop(ctx, t.id)
		res.record("stop", stopped, err)
		if err != nil {
			res.Status = errorStatus(err.Error())
			return res
		}
		removed, err := r.rt.Remove(ctx, t.id)
		res.record("remove", removed, err)
		if err != nil {
			res.Status = errorStatus(err.Error())
			return res
		}
	} else {
		res.Steps = append(res.Steps,
			Step{Name: "stop", Action: "skip", Output: "not present"},
			Step{Name: "remove", Action: "skip", Output: "not present"},
		)
	}

	started, err := r.rt.Run(ctx, spec)
	res.record("run", started, err)
	if err != nil {
		logger.Errorf("relaunch failed, container %s is absent: %v", t.name, err)
		res.Status = StatusFailedRun
		return res
	}
	res.NewContainerID = started.ContainerID
	res.Status = StatusSuccess
	return res
}

func (r *Runner) capture(ctx context.Context, t target, image string) (docker.RecreateSpec, error) {
	if r.opts.Mode == config.ModeFixed {
		return FixedSpec(t.name, image, r.opts.HostPort, r.opts.ContainerPort), nil
	}
	details, err := r.rt.Inspect(ctx, t.id)
	if err != nil {
		return docker.RecreateSpec{}, err
	}
	spec := CaptureSpec(details, image)
	if spec.Name == "" {
		spec.Name = t.name
	}
	return spec, nil
}

func (r *Runner) report(res Result) {
	switch {
	case res.Status.OK():
		fmt.Fprintln(r.out, output.SuccessMsg("%s updated (%s)", res.Container, docker.ShortID(res.NewContainerID)))
	default:
		fmt.Fprintln(r.out, output.ErrorMsg("%s: %s", res.Container, res.Status))
	}
}

func (res *Result) record(name string, out docker.Result, err error) {
	step := Step{Name: name, Action: out.Action, Code: docker.ResultCode(err), Output: out.Output}
	if err != nil {
		step.Output = docker.ErrorOutput(err)
	}
	res.Steps = append(res.Steps, step)
}

// Summary renders the results of a run as a table.
func Summary(lg Log) string {
	rows := make([][]string, 0, len(lg.Results))
	for _, res := range lg.Results {
		rows = append(rows, []string{
			res.Container,
			res.Image,
			string(res.Status),
			docker.ShortID(res.NewContainerID),
			(time.Duration(res.DurationMS) * time.Millisecond).String(),
		})
	}
	return output.Table([]string{"CONTAINER", "IMAGE", "STATUS", "NEW ID", "DURATION"}, rows)
}
