package docker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// mockDockerServer answers the subset of the Engine API the runtime uses.
type mockDockerServer struct {
	t        *testing.T
	mu       sync.Mutex
	list     string
	inspects map[string]string
	stats    map[string]string
	pulls    map[string]string
	missing  map[string]bool
	created  []createRequest
	requests []string
	srv      *httptest.Server
}

type createRequest struct {
	Name         string
	Image        string              `json:"Image"`
	Env          []string            `json:"Env"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts"`
	HostConfig   struct {
		PortBindings map[string][]struct {
			HostPort string `json:"HostPort"`
		} `json:"PortBindings"`
		Mounts []struct {
			Type     string `json:"Type"`
			Source   string `json:"Source"`
			Target   string `json:"Target"`
			ReadOnly bool   `json:"ReadOnly"`
		} `json:"Mounts"`
	} `json:"HostConfig"`
}

func newMockDockerServer(t *testing.T) *mockDockerServer {
	t.Helper()
	m := &mockDockerServer{
		t:        t,
		list:     "[]",
		inspects: map[string]string{},
		stats:    map[string]string{},
		pulls:    map[string]string{},
		missing:  map[string]bool{},
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockDockerServer) Host() string {
	return "tcp://" + m.srv.Listener.Addr().String()
}

func (m *mockDockerServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

func (m *mockDockerServer) Created() []createRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]createRequest(nil), m.created...)
}

func (m *mockDockerServer) handle(w http.ResponseWriter, r *http.Request) {
	path := stripDockerVersionPrefix(r.URL.Path)
	if path == "/_ping" {
		w.Header().Set("Api-Version", "1.44")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte("OK"))
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r.Method+" "+path)

	switch {
	case path == "/version":
		writeJSON(w, http.StatusOK, `{"ApiVersion":"1.44","MinAPIVersion":"1.12","Version":"29.2.1"}`)
	case path == "/containers/json" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, m.list)
	case path == "/images/create" && r.Method == http.MethodPost:
		ref := r.URL.Query().Get("fromImage") + ":" + r.URL.Query().Get("tag")
		body, ok := m.pulls[ref]
		if !ok {
			body = `{"status":"Status: Image is up to date for ` + ref + `"}` + "\n"
		}
		writeJSON(w, http.StatusOK, body)
	case path == "/containers/create" && r.Method == http.MethodPost:
		var req createRequest
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, `{"message":"bad request"}`)
			return
		}
		req.Name = r.URL.Query().Get("name")
		m.created = append(m.created, req)
		writeJSON(w, http.StatusCreated, `{"Id":"newcontainer000000000000000000","Warnings":[]}`)
	case strings.HasPrefix(path, "/containers/"):
		rest := strings.TrimPrefix(path, "/containers/")
		id, action, _ := strings.Cut(rest, "/")
		if m.missing[id] {
			writeJSON(w, http.StatusNotFound, `{"message":"No such container: `+id+`"}`)
			return
		}
		switch {
		case action == "json" && r.Method == http.MethodGet:
			raw, ok := m.inspects[id]
			if !ok {
				writeJSON(w, http.StatusNotFound, `{"message":"No such container: `+id+`"}`)
				return
			}
			writeJSON(w, http.StatusOK, raw)
		case action == "stats" && r.Method == http.MethodGet:
			raw, ok := m.stats[id]
			if !ok {
				raw = `{"cpu_stats":{},"memory_stats":{}}`
			}
			writeJSON(w, http.StatusOK, raw)
		case (action == "stop" || action == "start") && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusNoContent)
		case action == "" && r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

var dockerVersionPrefix = regexp.MustCompile(`^/v[0-9]+\.[0-9]+`)

func stripDockerVersionPrefix(path string) string {
	loc := dockerVersionPrefix.FindStringIndex(path)
	if loc == nil || loc[0] != 0 {
		return path
	}
	stripped := path[loc[1]:]
	if stripped == "" {
		return "/"
	}
	return stripped
}
