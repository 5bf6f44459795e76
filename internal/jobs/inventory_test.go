package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/vscode-farm/internal/container"
)

type fakeInventory struct {
	items []container.InventoryItem
	err   error
	calls int
}

func (f *fakeInventory) List(ctx context.Context) ([]container.InventoryItem, error) {
	f.calls++
	return f.items, f.err
}

func TestInventoryReporter_Run(t *testing.T) {
	var buf bytes.Buffer
	inv := &fakeInventory{items: []container.InventoryItem{
		{Name: "vscs-alice", UserName: "alice", State: "running"},
		{Name: "vscs-bob", UserName: "bob", State: "exited"},
		{Name: "vscs-carol", UserName: "carol", State: "created"},
	}}

	summary, err := NewInventoryReporter(inv, zerolog.New(&buf)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, InventorySummary{Total: 3, Running: 1, Stopped: 2}, summary)
	assert.Contains(t, buf.String(), `"running":1`)
	assert.Contains(t, buf.String(), `"stopped":2`)
}

func TestInventoryReporter_ListFailure(t *testing.T) {
	var buf bytes.Buffer
	inv := &fakeInventory{err: errors.New("daemon unavailable")}

	summary, err := NewInventoryReporter(inv, zerolog.New(&buf)).Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, summary)
	assert.Contains(t, buf.String(), "daemon unavailable")
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&fakeInventory{}, "not a schedule", zerolog.Nop())
	assert.Error(t, s.Start())
}

func TestScheduler_StartStop(t *testing.T) {
	for _, schedule := range []string{"", "*/15 * * * *", "@every 1h"} {
		inv := &fakeInventory{}
		s := NewScheduler(inv, schedule, zerolog.Nop())
		require.NoError(t, s.Start())
		s.Stop()
		assert.Zero(t, inv.calls, "nothing is due right after start")
	}
}
