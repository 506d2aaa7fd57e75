package update

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"containerops/internal/docker"
)

// fakeRuntime is an in-memory container host. Containers are keyed by name.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	order      []string
	calls      []string
	nextID     int

	pullErr   map[string]error
	stopErr   map[string]error
	removeErr map[string]error
	runErr    map[string]error
	inspectFn func(id string)
}

type fakeContainer struct {
	details docker.Details
	running bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: map[string]*fakeContainer{},
		pullErr:    map[string]error{},
		stopErr:    map[string]error{},
		removeErr:  map[string]error{},
		runErr:     map[string]error{},
	}
}

func (f *fakeRuntime) add(d docker.Details) {
	if d.Ports == nil {
		d.Ports = map[string][]string{}
	}
	f.containers[d.Name] = &fakeContainer{details: d, running: true}
	f.order = append(f.order, d.Name)
}

func (f *fakeRuntime) byID(id string) *fakeContainer {
	for _, c := range f.containers {
		if c.details.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeRuntime) record(format string, a ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, a...))
}

func (f *fakeRuntime) ListContainers(ctx context.Context, all bool) ([]docker.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	var out []docker.Container
	for _, name := range f.order {
		c, ok := f.containers[name]
		if !ok {
			continue
		}
		out = append(out, docker.Container{ID: c.details.ID, Name: name, Image: c.details.Image, Status: c.details.Status})
	}
	return out, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, id string) (docker.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect %s", id)
	if f.inspectFn != nil {
		f.inspectFn(id)
	}
	c := f.byID(id)
	if c == nil {
		return docker.Details{}, errors.New("no such container")
	}
	return c.details, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) (docker.Usage, error) {
	return docker.Usage{}, errors.New("not implemented")
}

func (f *fakeRuntime) Pull(ctx context.Context, ref string) (docker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", ref)
	res := docker.Result{Action: "pull " + ref}
	if err := f.pullErr[ref]; err != nil {
		return res, err
	}
	res.Output = "Status: Image is up to date for " + ref
	return res, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, id string) (docker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", id)
	res := docker.Result{Action: "stop " + id}
	if err := f.stopErr[id]; err != nil {
		return res, err
	}
	if c := f.byID(id); c != nil {
		c.running = false
	}
	return res, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, id string) (docker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rm %s", id)
	res := docker.Result{Action: "rm " + id}
	if err := f.removeErr[id]; err != nil {
		return res, err
	}
	if c := f.byID(id); c != nil {
		delete(f.containers, c.details.Name)
	}
	return res, nil
}

func (f *fakeRuntime) Run(ctx context.Context, spec docker.RecreateSpec) (docker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("run %s %s", spec.Name, spec.Image)
	res := docker.Result{Action: "run " + spec.Name}
	if err := f.runErr[spec.Name]; err != nil {
		return res, err
	}
	if _, exists := f.containers[spec.Name]; exists {
		return res, errors.New("conflict: name already in use")
	}
	f.nextID++
	id := fmt.Sprintf("new%061d", f.nextID)
	ports := map[string][]string{}
	for port, host := range spec.Ports {
		ports[port] = []string{host}
	}
	var mounts []docker.Mount
	for name, v := range spec.Volumes {
		mounts = append(mounts, docker.Mount{Type: "volume", Name: name, Destination: v.Bind, RW: v.Mode == "rw"})
	}
	f.containers[spec.Name] = &fakeContainer{
		details: docker.Details{
			ID:     id,
			Name:   spec.Name,
			Image:  spec.Image,
			Status: "running",
			Env:    append([]string(nil), spec.Env...),
			Ports:  ports,
			Mounts: mounts,
		},
		running: true,
	}
	found := false
	for _, n := range f.order {
		if n == spec.Name {
			found = true
		}
	}
	if !found {
		f.order = append(f.order, spec.Name)
	}
	res.ContainerID = id
	res.Output = id
	return res, nil
}

func (f *fakeRuntime) Close() error { return nil }
