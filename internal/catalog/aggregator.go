package catalog

import (
	"context"
	"fmt"

	"gpudeploy/internal/api"
	"gpudeploy/internal/logging"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Fetcher is the slice of the control-plane client the aggregator needs.
type Fetcher interface {
	ListTypes(ctx context.Context) ([]api.InstanceType, error)
	ListRegions(ctx context.Context) ([]api.Region, error)
	ListAvailability(ctx context.Context, page int) ([]api.AvailabilityRecord, int, error)
}

// Fetch issues the three independent catalog reads concurrently and joins
// them into a single availability catalog. If any call fails the whole
// fetch fails; a partial catalog would mislead provisioning.
func Fetch(ctx context.Context, client Fetcher, family string) (*Catalog, error) {
	var (
		types   []api.InstanceType
		regions []api.Region
		pages   [][]api.AvailabilityRecord
	)

	// Fork the three fetches; each task writes only its own result slot.
	pool := pond.NewPool(3)
	defer pool.StopAndWait()
	group := pool.NewGroup()

	group.SubmitErr(func() error {
		var err error
		types, err = client.ListTypes(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch instance types: %w", err)
		}
		return nil
	})

	group.SubmitErr(func() error {
		var err error
		regions, err = client.ListRegions(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch regions: %w", err)
		}
		return nil
	})

	group.SubmitErr(func() error {
		// Availability pages are ordered, so they are walked sequentially
		// within this one task.
		first, total, err := client.ListAvailability(ctx, 1)
		if err != nil {
			return fmt.Errorf("failed to fetch availability page 1: %w", err)
		}
		pages = append(pages, first)
		for p := 2; p <= total; p++ {
			recs, _, err := client.ListAvailability(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to fetch availability page %d: %w", p, err)
			}
			pages = append(pages, recs)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	catalog := build(types, regions, pages, family)

	logging.Logger().Info("availability catalog built",
		zap.String("family", family),
		zap.Int("types", len(catalog.Types)),
		zap.Int("regions", len(catalog.Regions)))

	if len(catalog.Types) == 0 {
		return nil, fmt.Errorf("no instance types match family %q", family)
	}

	return catalog, nil
}
