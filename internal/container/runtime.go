package container

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fuomag9/vscode-farm/internal/config"
)

// Labels written on every container the gateway creates.
const (
	LabelManaged = "farm.vscode.managed"
	LabelUser    = "farm.vscode.user"
	// LabelConnectionToken records the connection secret by name, so reading
	// it back does not depend on the order of the launch arguments.
	LabelConnectionToken = "farm.vscode.connection-token"
)

// ErrAlreadyExists is returned by Runtime.Create when a container with the
// requested name is already present.
var ErrAlreadyExists = errors.New("container already exists")

// Runtime is the control surface the orchestrator needs from a container runtime
type Runtime interface {
	// Create creates (but does not start) a container. It returns
	// ErrAlreadyExists when the name is taken.
	Create(ctx context.Context, spec CreateSpec) error

	// Start starts a container. Starting a running container is a no-op.
	Start(ctx context.Context, name string) error

	// Inspect evaluates a Go template against the container's inspect document
	Inspect(ctx context.Context, name, format string) (string, error)
}

// Inventory is implemented by runtimes that can enumerate managed containers
type Inventory interface {
	List(ctx context.Context) ([]InventoryItem, error)
}

// InventoryItem is one managed container as seen by the runtime
type InventoryItem struct {
	Name     string
	UserName string
	State    string // created, running, exited, ...
}

// CreateSpec holds configuration for creating a per-user container
type CreateSpec struct {
	Name        string            // Container name
	Image       string            // Container image
	Entrypoint  []string          // Entrypoint override
	Args        []string          // Arguments passed to the entrypoint
	ServicePort int               // Internal port published to an ephemeral host port
	Labels      map[string]string // Container labels
	Init        bool              // Run an init process as PID 1
}

// NewRuntime creates the runtime binding selected by cfg.Driver
func NewRuntime(ctx context.Context, cfg config.ContainerConfig, logger zerolog.Logger) (Runtime, error) {
	switch strings.ToLower(cfg.Driver) {
	case "api", "":
		return NewDockerAPIRuntime(ctx, cfg.DockerHost, logger)
	case "cli":
		return NewDockerCLIRuntime(ctx, cfg.DockerHost, logger)
	default:
		return nil, fmt.Errorf("unsupported container runtime driver: %s", cfg.Driver)
	}
}

func portKey(port int) string {
	return fmt.Sprintf("%d/tcp", port)
}
