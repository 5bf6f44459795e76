package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
)

// DockerAPIRuntime implements Runtime against the Docker Engine API
type DockerAPIRuntime struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewDockerAPIRuntime connects to dockerHost, or to the environment's
// DOCKER_HOST when empty, and checks that the daemon answers.
func NewDockerAPIRuntime(ctx context.Context, dockerHost string, logger zerolog.Logger) (*DockerAPIRuntime, error) {
	var cli *client.Client
	var err error

	if dockerHost != "" {
		cli, err = client.NewClientWithOpts(
			client.WithHost(dockerHost),
			client.WithAPIVersionNegotiation(),
		)
	} else {
		cli, err = client.NewClientWithOpts(
			client.FromEnv,
			client.WithAPIVersionNegotiation(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return &DockerAPIRuntime{cli: cli, logger: logger}, nil
}

// Close releases the underlying client
func (d *DockerAPIRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerAPIRuntime) Create(ctx context.Context, spec CreateSpec) error {
	port := nat.Port(portKey(spec.ServicePort))
	useInit := spec.Init

	cfg := &container.Config{
		Image:        spec.Image,
		Entrypoint:   spec.Entrypoint,
		Cmd:          spec.Args,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		Init: &useInit,
		// An empty HostPort asks the daemon for an ephemeral port.
		PortBindings: nat.PortMap{port: []nat.PortBinding{{}}},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	for _, w := range resp.Warnings {
		d.logger.Warn().Str("container", spec.Name).Msg(w)
	}
	return nil
}

func (d *DockerAPIRuntime) Start(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Inspect renders format over the raw inspect document, the way
// `docker inspect -f` does.
func (d *DockerAPIRuntime) Inspect(ctx context.Context, name, format string) (string, error) {
	_, raw, err := d.cli.ContainerInspectWithRaw(ctx, name, false)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return renderInspect(raw, format)
}

// List returns every managed container, running or not
func (d *DockerAPIRuntime) List(ctx context.Context) ([]InventoryItem, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	items := make([]InventoryItem, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		items = append(items, InventoryItem{
			Name:     name,
			UserName: c.Labels[LabelUser],
			State:    string(c.State),
		})
	}
	return items, nil
}

var inspectFuncs = template.FuncMap{
	"json": func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"join":  strings.Join,
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
}

func renderInspect(raw []byte, format string) (string, error) {
	tmpl, err := template.New("inspect").Funcs(inspectFuncs).Parse(format)
	if err != nil {
		return "", fmt.Errorf("invalid inspect format: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to decode inspect output: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to render inspect format: %w", err)
	}
	return buf.String(), nil
}
