package update

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"containerops/internal/config"
	"containerops/internal/docker"
)

func webContainer() docker.Details {
	return docker.Details{
		ID:     "aaaaaaaaaaaaaaaaaaaa",
		Name:   "web",
		Image:  "nginx:1.25",
		Status: "running",
		Env:    []string{"A=1", "B=two"},
		Ports: map[string][]string{
			"80/tcp":  {"8080", "8081"},
			"443/tcp": {},
		},
		Mounts: []docker.Mount{
			{Type: "volume", Name: "data", Source: "/var/lib/docker/volumes/data/_data", Destination: "/data", RW: true},
			{Type: "bind", Source: "/srv/conf", Destination: "/etc/nginx/conf.d", RW: false},
		},
	}
}

func stepNames(res Result) []string {
	out := make([]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		out = append(out, s.Name)
	}
	return out
}

func hasCall(calls []string, prefix string) bool {
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func preserve() Options {
	return Options{Mode: config.ModePreserve, Exclude: "portainer"}
}

func TestRunRecreatesWithCapturedConfiguration(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if lg.Action != "update_containers" || lg.Mode != config.ModePreserve {
		t.Fatalf("unexpected log header: %q %q", lg.Action, lg.Mode)
	}
	if len(lg.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(lg.Results))
	}
	res := lg.Results[0]
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %q", res.Status)
	}
	if got := strings.Join(stepNames(res), ","); got != "pull,stop,remove,run" {
		t.Fatalf("unexpected steps %s", got)
	}
	for _, s := range res.Steps {
		if s.Code != 0 {
			t.Fatalf("step %s has code %d", s.Name, s.Code)
		}
	}

	relaunched, ok := rt.containers["web"]
	if !ok {
		t.Fatalf("web container missing after update")
	}
	if res.NewContainerID != relaunched.details.ID {
		t.Fatalf("new id %q does not match relaunched container %q", res.NewContainerID, relaunched.details.ID)
	}
	if relaunched.details.Image != "nginx:1.25" {
		t.Fatalf("relaunched from %q", relaunched.details.Image)
	}
	ports := relaunched.details.PublishedPorts()
	if len(ports) != 1 || ports["80/tcp"] != "8080" {
		t.Fatalf("expected only the first binding 80/tcp->8080, got %v", ports)
	}
	if len(relaunched.details.Mounts) != 1 || relaunched.details.Mounts[0].Name != "data" || !relaunched.details.Mounts[0].RW {
		t.Fatalf("expected only the named volume to be kept, got %+v", relaunched.details.Mounts)
	}
	if strings.Join(relaunched.details.Env, ";") != "A=1;B=two" {
		t.Fatalf("env not carried over: %v", relaunched.details.Env)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("finished before start")
	}
}

func TestRunCapturesBeforeStopping(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())

	if _, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	inspectAt, stopAt := -1, -1
	for i, c := range rt.calls {
		switch {
		case strings.HasPrefix(c, "inspect ") && inspectAt < 0:
			inspectAt = i
		case strings.HasPrefix(c, "stop "):
			stopAt = i
		}
	}
	if inspectAt < 0 || stopAt < 0 || inspectAt > stopAt {
		t.Fatalf("expected inspect before stop, calls: %v", rt.calls)
	}
}

func TestRunSkipsExcludedContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(docker.Details{ID: "p1", Name: "Portainer", Image: "portainer/portainer-ce:latest", Status: "running"})
	rt.add(webContainer())

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lg.Results) != 1 || lg.Results[0].Container != "web" {
		t.Fatalf("expected only web to be processed, got %+v", lg.Results)
	}
	if hasCall(rt.calls, "pull portainer") || hasCall(rt.calls, "stop p1") {
		t.Fatalf("excluded container was touched: %v", rt.calls)
	}
}

func TestRunSkipsUnresolvableImages(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(docker.Details{ID: "x1", Name: "orphan", Image: "sha256:0123456789abcdef", Status: "running"})
	rt.add(docker.Details{ID: "x2", Name: "pinned", Image: "nginx@sha256:0000000000000000000000000000000000000000000000000000000000000000", Status: "running"})
	rt.add(webContainer())

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lg.Results) != 1 || lg.Results[0].Container != "web" {
		t.Fatalf("expected only web to be processed, got %+v", lg.Results)
	}
	if _, ok := rt.containers["orphan"]; !ok {
		t.Fatalf("orphan should be untouched")
	}
}

func TestRunPullFailureLeavesContainerUntouched(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())
	rt.pullErr["nginx:1.25"] = &docker.ExitError{Args: []string{"docker", "pull", "nginx:1.25"}, Code: 1, Stderr: "manifest unknown"}

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := lg.Results[0]
	if res.Status != StatusFailedPull {
		t.Fatalf("expected failed_pull, got %q", res.Status)
	}
	if len(res.Steps) != 1 || res.Steps[0].Code != 1 || res.Steps[0].Output != "manifest unknown" {
		t.Fatalf("unexpected steps %+v", res.Steps)
	}
	if res.NewContainerID != "" {
		t.Fatalf("expected no new container id")
	}
	c, ok := rt.containers["web"]
	if !ok || !c.running || c.details.ID != "aaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("container should still be running unchanged")
	}
	if hasCall(rt.calls, "stop ") || hasCall(rt.calls, "rm ") {
		t.Fatalf("container was stopped or removed: %v", rt.calls)
	}
}

func TestRunFailureLeavesContainerAbsent(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())
	rt.runErr["web"] = &docker.ExitError{Args: []string{"docker", "run"}, Code: 125, Stderr: "port is already allocated"}

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := lg.Results[0]
	if res.Status != StatusFailedRun {
		t.Fatalf("expected failed_run, got %q", res.Status)
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Name != "run" || last.Code != 125 {
		t.Fatalf("unexpected run step %+v", last)
	}
	if _, ok := rt.containers["web"]; ok {
		t.Fatalf("container should be absent after failed relaunch")
	}
	if msg := FailureMessage(lg); !strings.Contains(msg, "[container is absent]") {
		t.Fatalf("failure message should flag the absent container: %q", msg)
	}
}

func TestRunStopFailureKeepsContainerAndContinues(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())
	rt.add(docker.Details{ID: "bbbbbbbbbbbbbbbb", Name: "api", Image: "example/api:2", Status: "running"})
	rt.stopErr["aaaaaaaaaaaaaaaaaaaa"] = errors.New("cannot stop container")

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lg.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(lg.Results))
	}
	if got := lg.Results[0].Status; got != "error: cannot stop container" || !got.IsError() {
		t.Fatalf("unexpected status %q", got)
	}
	if hasCall(rt.calls, "run web") {
		t.Fatalf("relaunch attempted after stop failure")
	}
	if lg.Results[1].Status != StatusSuccess {
		t.Fatalf("second container should succeed, got %q", lg.Results[1].Status)
	}
	if len(lg.Failed()) != 1 {
		t.Fatalf("expected exactly one failure")
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())
	rt.add(docker.Details{ID: "bbbbbbbbbbbbbbbb", Name: "api", Image: "example/api:2", Status: "running"})
	rt.inspectFn = func(id string) {
		if id == "aaaaaaaaaaaaaaaaaaaa" {
			panic("boom")
		}
	}

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := lg.Results[0].Status; got != "error: boom" {
		t.Fatalf("unexpected status %q", got)
	}
	if lg.Results[1].Status != StatusSuccess {
		t.Fatalf("batch should continue after a panic, got %q", lg.Results[1].Status)
	}
	if _, ok := rt.containers["web"]; !ok {
		t.Fatalf("web should not be removed when capture panics")
	}
}

func TestRunFixedModeReplacesTarget(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())
	rt.add(docker.Details{ID: "cccccccccccccccc", Name: "app", Image: "registry.local/app:1", Status: "running", Env: []string{"SECRET=x"}})

	opts := Options{Mode: config.ModeFixed, Target: "app", Image: "registry.local/app:2", HostPort: 9000, ContainerPort: 80}
	lg, err := NewRunner(rt, opts, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lg.Results) != 1 {
		t.Fatalf("expected only the target, got %d results", len(lg.Results))
	}
	res := lg.Results[0]
	if res.Status != StatusSuccess || res.Image != "registry.local/app:2" || res.OldImage != "registry.local/app:1" {
		t.Fatalf("unexpected result %+v", res)
	}
	app := rt.containers["app"].details
	if app.Image != "registry.local/app:2" {
		t.Fatalf("relaunched from %q", app.Image)
	}
	if ports := app.PublishedPorts(); len(ports) != 1 || ports["80/tcp"] != "9000" {
		t.Fatalf("unexpected ports %v", ports)
	}
	if len(app.Env) != 0 || len(app.Mounts) != 0 {
		t.Fatalf("fixed mode should not carry env or volumes: %+v", app)
	}
	if hasCall(rt.calls, "inspect ") {
		t.Fatalf("fixed mode should not inspect: %v", rt.calls)
	}
	if rt.containers["web"].details.ID != "aaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("non-target container was touched")
	}
}

func TestRunFixedModeAbsentTarget(t *testing.T) {
	rt := newFakeRuntime()
	opts := Options{Mode: config.ModeFixed, Target: "app", Image: "registry.local/app:2", HostPort: 9000, ContainerPort: 80}

	lg, err := NewRunner(rt, opts, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := lg.Results[0]
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %q", res.Status)
	}
	for _, s := range res.Steps[1:3] {
		if s.Action != "skip" {
			t.Fatalf("expected %s to be skipped, got %+v", s.Name, s)
		}
	}
	if _, ok := rt.containers["app"]; !ok {
		t.Fatalf("app should be running")
	}
}

func TestRunCanceledBeforeStart(t *testing.T) {
	rt := newFakeRuntime()
	rt.add(webContainer())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lg, err := NewRunner(rt, preserve(), nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := lg.Results[0].Status; got != "error: context canceled" {
		t.Fatalf("unexpected status %q", got)
	}
	if hasCall(rt.calls, "pull ") {
		t.Fatalf("nothing should be pulled after cancel")
	}
}

func TestLogJSONFields(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lg := Log{
		Timestamp: start,
		Action:    "update_containers",
		Mode:      config.ModePreserve,
		Results: []Result{{
			Container: "web",
			Image:     "nginx:1.25",
			Status:    StatusFailedPull,
			Steps:     []Step{{Name: "pull", Action: "pull nginx:1.25", Code: 1, Output: "denied"}},
		}},
	}
	raw, err := json.Marshal(lg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"timestamp", "action", "mode", "results", "finished_at", "duration_ms"} {
		if _, ok := generic[key]; !ok {
			t.Fatalf("missing key %q in %s", key, raw)
		}
	}
	res := generic["results"].([]any)[0].(map[string]any)
	if _, ok := res["new_container_id"]; ok {
		t.Fatalf("new_container_id should be omitted on failure")
	}
	if res["status"] != "failed_pull" {
		t.Fatalf("unexpected status %v", res["status"])
	}
}

func TestFailureMessage(t *testing.T) {
	lg := Log{Results: []Result{
		{Container: "web", Image: "nginx:1.25", Status: StatusSuccess},
		{Container: "api", Image: "example/api:2", Status: StatusFailedPull},
	}}
	msg := FailureMessage(lg)
	if !strings.Contains(msg, "1 of 2 containers failed") || !strings.Contains(msg, "api (example/api:2): failed_pull") {
		t.Fatalf("unexpected message %q", msg)
	}
	if strings.Contains(msg, "web") {
		t.Fatalf("successful containers should not be listed: %q", msg)
	}
	if FailureMessage(Log{Results: lg.Results[:1]}) != "" {
		t.Fatalf("expected empty message when nothing failed")
	}
}
