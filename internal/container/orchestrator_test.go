package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/models"
)

type fakeContainer struct {
	spec     CreateSpec
	hostPort int
	running  bool
}

// fakeRuntime keeps containers in memory and answers inspect with
// "<host port> <connection-token label>".
type fakeRuntime struct {
	mu          sync.Mutex
	containers  map[string]*fakeContainer
	nextPort    int
	createCalls int
	startCalls  int
	formats     []string

	createErr     error
	startErr      error
	inspectErr    error
	inspectOutput *string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: map[string]*fakeContainer{}, nextPort: 34567}
}

func (f *fakeRuntime) Create(ctx context.Context, spec CreateSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.containers[spec.Name]; ok {
		return ErrAlreadyExists
	}
	f.containers[spec.Name] = &fakeContainer{spec: spec, hostPort: f.nextPort}
	f.nextPort++
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("no such container: %s", name)
	}
	c.running = true
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, name, format string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formats = append(f.formats, format)
	if f.inspectErr != nil {
		return "", f.inspectErr
	}
	if f.inspectOutput != nil {
		return *f.inspectOutput, nil
	}
	c, ok := f.containers[name]
	if !ok {
		return "", fmt.Errorf("no such container: %s", name)
	}
	return fmt.Sprintf("%d %s\n", c.hostPort, c.spec.Labels[LabelConnectionToken]), nil
}

func testContainerConfig() config.ContainerConfig {
	return config.ContainerConfig{
		Image:         "gitpod/openvscode-server:latest",
		URLTemplate:   "https://vscode.example/?port={port}&tkn={token}",
		NamePrefix:    "vscs-",
		ServicePort:   3000,
		StartupScript: `exec ${OPENVSCODE_SERVER_ROOT}/bin/openvscode-server "${@}"`,
		SecretLength:  32,
		Timeout:       5 * time.Second,
	}
}

func alice() models.LoginIdentity {
	return models.LoginIdentity{UserName: "alice"}
}

func TestProvision_CreatesStartsAndRendersURL(t *testing.T) {
	rt := newFakeRuntime()
	o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

	url, err := o.Provision(context.Background(), alice())
	require.NoError(t, err)

	c := rt.containers["vscs-alice"]
	require.NotNil(t, c)
	assert.True(t, c.running)

	token := c.spec.Labels[LabelConnectionToken]
	assert.Len(t, token, 32)
	assert.Equal(t, fmt.Sprintf("https://vscode.example/?port=34567&tkn=%s", token), url)

	assert.Equal(t, "gitpod/openvscode-server:latest", c.spec.Image)
	assert.Equal(t, 3000, c.spec.ServicePort)
	assert.True(t, c.spec.Init)
	assert.Equal(t, []string{"sh", "-c", testContainerConfig().StartupScript, "--"}, c.spec.Entrypoint)
	assert.Equal(t, []string{"--connection-token", token, "--host", "0.0.0.0", "--enable-remote-auto-shutdown"}, c.spec.Args)
	assert.Equal(t, "true", c.spec.Labels[LabelManaged])
	assert.Equal(t, "alice", c.spec.Labels[LabelUser])

	require.Len(t, rt.formats, 1)
	assert.Equal(t, InspectFormat(3000), rt.formats[0])
}

func TestProvision_ReusesExistingContainer(t *testing.T) {
	rt := newFakeRuntime()
	o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

	first, err := o.Provision(context.Background(), alice())
	require.NoError(t, err)

	rt.containers["vscs-alice"].running = false

	second, err := o.Provision(context.Background(), alice())
	require.NoError(t, err)

	assert.Equal(t, first, second, "the stored secret wins over the freshly generated one")
	assert.Len(t, rt.containers, 1)
	assert.Equal(t, 2, rt.createCalls)
	assert.Equal(t, 2, rt.startCalls)
	assert.True(t, rt.containers["vscs-alice"].running)
}

func TestProvision_UsesInspectOutputVerbatim(t *testing.T) {
	rt := newFakeRuntime()
	out := "34567 tok123\n"
	rt.inspectOutput = &out
	o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

	url, err := o.Provision(context.Background(), alice())
	require.NoError(t, err)
	assert.Equal(t, "https://vscode.example/?port=34567&tkn=tok123", url)
}

func TestProvision_MalformedInspectOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"empty", ""},
		{"port only", "34567"},
		{"extra token", "34567 tok123 extra"},
		{"non numeric port", "http tok123"},
		{"port out of range", "70000 tok123"},
		{"missing label", "34567 <no value>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := newFakeRuntime()
			rt.inspectOutput = &tc.output
			o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

			url, err := o.Provision(context.Background(), alice())
			assert.ErrorIs(t, err, ErrMalformedInspectOutput)
			assert.Empty(t, url)
		})
	}
}

func TestProvision_RuntimeFailures(t *testing.T) {
	boom := errors.New("daemon unavailable")

	tests := []struct {
		name       string
		setup      func(rt *fakeRuntime)
		wantStarts int
	}{
		{
			name:       "create",
			setup:      func(rt *fakeRuntime) { rt.createErr = boom },
			wantStarts: 0,
		},
		{
			name:       "start",
			setup:      func(rt *fakeRuntime) { rt.startErr = boom },
			wantStarts: 1,
		},
		{
			name:       "inspect",
			setup:      func(rt *fakeRuntime) { rt.inspectErr = boom },
			wantStarts: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := newFakeRuntime()
			tc.setup(rt)
			o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

			url, err := o.Provision(context.Background(), alice())
			assert.ErrorIs(t, err, ErrProvisioningFailed)
			assert.ErrorIs(t, err, boom)
			assert.Empty(t, url)
			assert.Equal(t, tc.wantStarts, rt.startCalls)
		})
	}
}

func TestProvision_RejectsUnusableNames(t *testing.T) {
	for _, user := range []string{"", "../etc", "alice bob", "-rm"} {
		rt := newFakeRuntime()
		cfg := testContainerConfig()
		cfg.NamePrefix = ""
		o := NewOrchestrator(rt, cfg, zerolog.Nop())

		_, err := o.Provision(context.Background(), models.LoginIdentity{UserName: user})
		assert.ErrorIs(t, err, ErrProvisioningFailed, "user %q", user)
		assert.Zero(t, rt.createCalls)
	}
}

func TestProvision_SecretGenerationFailure(t *testing.T) {
	rt := newFakeRuntime()
	o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())
	o.newSecret = func(int) (string, error) { return "", errors.New("entropy exhausted") }

	_, err := o.Provision(context.Background(), alice())
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Zero(t, rt.createCalls)
}

func TestProvision_ConcurrentSameUser(t *testing.T) {
	rt := newFakeRuntime()
	o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

	const callers = 8
	urls := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = o.Provision(context.Background(), alice())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, urls[0], urls[i])
	}
	assert.Len(t, rt.containers, 1)
}

func TestProvision_SurvivesCallerCancellation(t *testing.T) {
	rt := newFakeRuntime()
	o := NewOrchestrator(rt, testContainerConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Provision(ctx, alice())
	require.NoError(t, err)
	assert.True(t, rt.containers["vscs-alice"].running)
}

func TestInspectFormat(t *testing.T) {
	assert.Equal(t,
		`{{(index (index .NetworkSettings.Ports "3000/tcp") 0).HostPort}} {{index .Config.Labels "farm.vscode.connection-token"}}`,
		InspectFormat(3000))
}

func TestRenderURL(t *testing.T) {
	record := &models.ContainerRecord{HostPort: 40001, ConnectionSecret: "abc"}

	assert.Equal(t, "http://10.0.0.5:40001/?tkn=abc", RenderURL("http://10.0.0.5:{port}/?tkn={token}", record))
	assert.Equal(t, "https://40001.ide.example/abc/abc", RenderURL("https://{port}.ide.example/{token}/{token}", record))
}
