// Package serverclass defines the shared contract for
// server fixtures: a workload that a test suite launches,
// connects to, and tears down. Concrete server classes
// (such as the Kubernetes one) embed Base and implement
// Server.
package serverclass

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared by all server classes.
var (
	// ErrNotRunning reports that the workload is not in
	// a running state, either on a direct status check
	// or after the launch wait exhausted its retries.
	ErrNotRunning = errors.New(
		"server fixture is not running",
	)

	// ErrNotTerminated reports that the workload was
	// still present when the teardown wait exhausted
	// its retries.
	ErrNotTerminated = errors.New(
		"server fixture failed to terminate",
	)

	// ErrNotInCluster reports that the process is not
	// itself running inside a Kubernetes cluster.
	ErrNotInCluster = errors.New(
		"not running inside a kubernetes cluster",
	)
)

// GetCmd returns the command and arguments the workload
// runs. When it is invoked depends on the server class:
// classes that bake the command into provisioning call it
// once at construction, classes that start the process on
// Run call it then.
type GetCmd func() []string

// Server is the lifecycle contract every server class
// implements.
type Server interface {
	// Launch starts the workload and blocks until it is
	// running.
	Launch(ctx context.Context) error

	// Run starts the workload process for server
	// classes that separate provisioning from process
	// start. Classes whose workload starts on launch
	// implement it as a no-op.
	Run(ctx context.Context) error

	// Teardown stops the workload and blocks until it
	// is gone.
	Teardown(ctx context.Context) error

	// Hostname returns the address test code uses to
	// connect to the workload.
	Hostname(ctx context.Context) (string, error)
}

// Base carries the fields common to all server classes.
type Base struct {
	// ServerType tags the workload kind, e.g. "redis".
	ServerType string

	// Name uniquely identifies the workload instance.
	Name string

	// GetCmd produces the workload command line. Kept on
	// Base for server classes that start the process on
	// Run rather than at construction.
	GetCmd GetCmd

	// Env holds environment variables for the workload.
	Env map[string]string
}

// NewBase builds a Base with a generated unique name.
func NewBase(
	serverType string,
	getCmd GetCmd,
	env map[string]string,
) Base {
	return Base{
		ServerType: serverType,
		Name: fmt.Sprintf(
			"server-fixtures-%s", uuid.NewString(),
		),
		GetCmd: getCmd,
		Env:    env,
	}
}
