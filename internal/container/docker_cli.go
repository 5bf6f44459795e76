package container

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// DockerCLIRuntime implements Runtime by running the docker binary
type DockerCLIRuntime struct {
	host   string
	logger zerolog.Logger
}

// NewDockerCLIRuntime checks that the docker binary can reach a daemon
func NewDockerCLIRuntime(ctx context.Context, dockerHost string, logger zerolog.Logger) (*DockerCLIRuntime, error) {
	d := &DockerCLIRuntime{host: dockerHost, logger: logger}

	if _, err := d.run(ctx, "info"); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return d, nil
}

func (d *DockerCLIRuntime) Create(ctx context.Context, spec CreateSpec) error {
	args := []string{"create", "--name", spec.Name}
	if spec.Init {
		args = append(args, "--init")
	}
	args = append(args, "-p", portKey(spec.ServicePort))
	for k, v := range spec.Labels {
		args = append(args, "--label", k+"="+v)
	}

	// Clearing the image entrypoint lets the command below run as given.
	if len(spec.Entrypoint) > 0 {
		args = append(args, "--entrypoint", "")
	}
	args = append(args, spec.Image)
	args = append(args, spec.Entrypoint...)
	args = append(args, spec.Args...)

	d.logger.Debug().Str("container", spec.Name).Str("image", spec.Image).Msg("Creating container with docker CLI")

	if out, err := d.run(ctx, args...); err != nil {
		if strings.Contains(out, "is already in use") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	return nil
}

func (d *DockerCLIRuntime) Start(ctx context.Context, name string) error {
	if _, err := d.run(ctx, "start", name); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

func (d *DockerCLIRuntime) Inspect(ctx context.Context, name, format string) (string, error) {
	out, err := d.run(ctx, "inspect", "-f", format, name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return out, nil
}

// List returns every managed container, running or not
func (d *DockerCLIRuntime) List(ctx context.Context) ([]InventoryItem, error) {
	out, err := d.run(ctx, "ps", "-a",
		"--filter", "label="+LabelManaged+"=true",
		"--format", fmt.Sprintf(`{{.Names}}\t{{.State}}\t{{.Label %q}}`, LabelUser))
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var items []InventoryItem
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		item := InventoryItem{Name: parts[0]}
		if len(parts) > 1 {
			item.State = parts[1]
		}
		if len(parts) > 2 {
			item.UserName = parts[2]
		}
		items = append(items, item)
	}
	return items, nil
}

// run executes docker with args and returns stdout. On failure the error
// carries stderr, which is also returned for classification.
func (d *DockerCLIRuntime) run(ctx context.Context, args ...string) (string, error) {
	sub := args[0]
	if d.host != "" {
		args = append([]string{"--host", d.host}, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := execCommandContext(ctx, "docker", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return msg, fmt.Errorf("docker %s: %w: %s", sub, err, msg)
	}
	return stdout.String(), nil
}
