package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuomag9/vscode-farm/internal/container"
)

const inventoryTimeout = 30 * time.Second

// InventorySummary counts the managed containers seen in one run
type InventorySummary struct {
	Total   int
	Running int
	Stopped int
}

// InventoryReporter logs which per-user containers exist and whether they run
type InventoryReporter struct {
	inventory container.Inventory
	logger    zerolog.Logger
}

// NewInventoryReporter creates a new inventory reporter
func NewInventoryReporter(inventory container.Inventory, logger zerolog.Logger) *InventoryReporter {
	return &InventoryReporter{inventory: inventory, logger: logger}
}

// Run lists the managed containers once and logs the counts
func (r *InventoryReporter) Run(ctx context.Context) (InventorySummary, error) {
	ctx, cancel := context.WithTimeout(ctx, inventoryTimeout)
	defer cancel()

	items, err := r.inventory.List(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list managed containers")
		return InventorySummary{}, err
	}

	var summary InventorySummary
	for _, item := range items {
		summary.Total++
		if item.State == "running" {
			summary.Running++
		} else {
			summary.Stopped++
		}
		r.logger.Debug().
			Str("container", item.Name).
			Str("user_name", item.UserName).
			Str("state", item.State).
			Msg("Managed container")
	}

	r.logger.Info().
		Int("total", summary.Total).
		Int("running", summary.Running).
		Int("stopped", summary.Stopped).
		Msg("Container inventory")
	return summary, nil
}
