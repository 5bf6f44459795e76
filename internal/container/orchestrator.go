package container

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/models"
	"github.com/fuomag9/vscode-farm/internal/secret"
)

var (
	ErrMalformedInspectOutput = errors.New("malformed inspect output")
	ErrProvisioningFailed     = errors.New("provisioning failed")
)

var (
	validName   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	validSecret = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// launchArgs are passed to the startup script after the connection token
var launchArgs = []string{"--host", "0.0.0.0", "--enable-remote-auto-shutdown"}

// Orchestrator makes sure a user's container exists and runs, then builds
// the URL that routes the user into it.
type Orchestrator struct {
	runtime   Runtime
	cfg       config.ContainerConfig
	logger    zerolog.Logger
	flights   singleflight.Group
	newSecret func(length int) (string, error)
}

// NewOrchestrator creates an orchestrator on top of runtime
func NewOrchestrator(runtime Runtime, cfg config.ContainerConfig, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		runtime:   runtime,
		cfg:       cfg,
		logger:    logger,
		newSecret: secret.Generate,
	}
}

// Name derives the container name for a user. It is the idempotency key.
func (o *Orchestrator) Name(id models.LoginIdentity) string {
	return o.cfg.NamePrefix + id.UserName
}

// Provision runs create, start and inspect for the user's container and
// returns the rendered access URL. Concurrent calls for the same user share
// one provisioning run.
func (o *Orchestrator) Provision(ctx context.Context, id models.LoginIdentity) (string, error) {
	name := o.Name(id)
	if id.UserName == "" || !validName.MatchString(name) {
		return "", fmt.Errorf("%w: invalid container name %q", ErrProvisioningFailed, name)
	}

	// The run outlives a caller that goes away; each runtime call has its own timeout.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := o.flights.Do(name, func() (interface{}, error) {
		return o.provision(runCtx, name, id)
	})
	if shared {
		o.logger.Debug().Str("container", name).Msg("Joined in-flight provisioning")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Orchestrator) provision(ctx context.Context, name string, id models.LoginIdentity) (string, error) {
	logger := o.logger.With().Str("user_name", id.UserName).Str("container", name).Logger()

	token, err := o.newSecret(o.cfg.SecretLength)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate connection secret")
		return "", fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	err = o.call(ctx, func(ctx context.Context) error {
		return o.runtime.Create(ctx, o.createSpec(name, id, token))
	})
	switch {
	case errors.Is(err, ErrAlreadyExists):
		logger.Debug().Msg("Container already exists, reusing it")
	case err != nil:
		logger.Error().Err(err).Str("step", "create").Msg("Container runtime call failed")
		return "", fmt.Errorf("%w: create %s: %w", ErrProvisioningFailed, name, err)
	default:
		logger.Info().Str("image", o.cfg.Image).Msg("Created container")
	}

	if err := o.call(ctx, func(ctx context.Context) error {
		return o.runtime.Start(ctx, name)
	}); err != nil {
		logger.Error().Err(err).Str("step", "start").Msg("Container runtime call failed")
		return "", fmt.Errorf("%w: start %s: %w", ErrProvisioningFailed, name, err)
	}

	var output string
	if err := o.call(ctx, func(ctx context.Context) error {
		var err error
		output, err = o.runtime.Inspect(ctx, name, InspectFormat(o.cfg.ServicePort))
		return err
	}); err != nil {
		logger.Error().Err(err).Str("step", "inspect").Msg("Container runtime call failed")
		return "", fmt.Errorf("%w: inspect %s: %w", ErrProvisioningFailed, name, err)
	}

	record, err := ParseInspectOutput(name, output)
	if err != nil {
		logger.Error().Err(err).Int("tokens", len(strings.Fields(output))).Msg("Unexpected inspect output")
		return "", err
	}

	logger.Info().Int("host_port", record.HostPort).Msg("Container ready")
	return RenderURL(o.cfg.URLTemplate, record), nil
}

func (o *Orchestrator) createSpec(name string, id models.LoginIdentity, token string) CreateSpec {
	args := append([]string{"--connection-token", token}, launchArgs...)

	return CreateSpec{
		Name:        name,
		Image:       o.cfg.Image,
		Entrypoint:  []string{"sh", "-c", o.cfg.StartupScript, "--"},
		Args:        args,
		ServicePort: o.cfg.ServicePort,
		Labels: map[string]string{
			LabelManaged:         "true",
			LabelUser:            id.UserName,
			LabelConnectionToken: token,
		},
		Init: true,
	}
}

// call bounds one runtime round trip by the configured timeout
func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := o.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// InspectFormat is the inspect template yielding "<host port> <connection secret>"
func InspectFormat(servicePort int) string {
	return fmt.Sprintf(`{{(index (index .NetworkSettings.Ports %q) 0).HostPort}} {{index .Config.Labels %q}}`,
		portKey(servicePort), LabelConnectionToken)
}

// ParseInspectOutput expects exactly two whitespace-separated tokens: the
// host port and the connection secret.
func ParseInspectOutput(name, output string) (*models.ContainerRecord, error) {
	fields := strings.Fields(output)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: expected 2 tokens, got %d", ErrMalformedInspectOutput, len(fields))
	}

	port, err := strconv.Atoi(fields[0])
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid host port", ErrMalformedInspectOutput)
	}
	if !validSecret.MatchString(fields[1]) {
		return nil, fmt.Errorf("%w: invalid connection secret", ErrMalformedInspectOutput)
	}

	return &models.ContainerRecord{
		Name:             name,
		HostPort:         port,
		ConnectionSecret: fields[1],
	}, nil
}

// RenderURL substitutes {port} and {token} in the URL template
func RenderURL(template string, record *models.ContainerRecord) string {
	return strings.NewReplacer(
		"{port}", strconv.Itoa(record.HostPort),
		"{token}", record.ConnectionSecret,
	).Replace(template)
}
