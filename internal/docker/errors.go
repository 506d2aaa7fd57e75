package docker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ExitError is returned by the CLI backend when the docker binary exits non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", strings.Join(e.Args, " "), e.Code, msg)
}

// ResultCode maps both error shapes to a single step result code: the exit
// code for command errors, an HTTP-like status for classified API errors.
func ResultCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errdefs.IsNotFound(err):
		return 404
	case errdefs.IsConflict(err):
		return 409
	case errdefs.IsUnauthorized(err):
		return 401
	case errdefs.IsPermissionDenied(err):
		return 403
	case errdefs.IsInvalidArgument(err):
		return 400
	case errdefs.IsUnavailable(err):
		return 503
	}
	return 1
}

// ErrorOutput returns the text to record for a failed step.
func ErrorOutput(err error) string {
	if err == nil {
		return ""
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if s := strings.TrimSpace(exitErr.Stderr); s != "" {
			return s
		}
		return strings.TrimSpace(exitErr.Stdout)
	}
	return err.Error()
}

// IsNotFound reports whether the runtime said the object does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errdefs.IsNotFound(err) {
		return true
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return strings.Contains(strings.ToLower(exitErr.Stderr), "no such container")
	}
	return false
}
