package catalog

import (
	"sort"
	"strings"

	"gpudeploy/internal/api"
)

// InstanceType is one GPU plan offered by the control plane, annotated
// with its parsed sort key.
type InstanceType struct {
	ID           string
	Label        string
	VCPUs        int
	MemoryMB     int
	GPUCount     int
	PriceHourly  float64
	PriceMonthly float64
}

// Region is a datacenter with at least one matching GPU plan available.
type Region struct {
	ID    string
	Label string
	// TypeIDs lists the matching plans creatable in this region, in
	// catalog sort order.
	TypeIDs []string
}

// Catalog is the merged, deduplicated availability dataset. It is built
// once and never mutated.
type Catalog struct {
	Types   []InstanceType
	Regions []Region
}

// TypeByID returns the instance type with the given ID.
func (c *Catalog) TypeByID(id string) (InstanceType, bool) {
	for _, t := range c.Types {
		if t.ID == id {
			return t, true
		}
	}
	return InstanceType{}, false
}

// HasRegion reports whether a region is in the catalog.
func (c *Catalog) HasRegion(id string) bool {
	for _, r := range c.Regions {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Available reports whether typeID can be created in region.
func (c *Catalog) Available(regionID, typeID string) bool {
	for _, r := range c.Regions {
		if r.ID == regionID {
			for _, t := range r.TypeIDs {
				if t == typeID {
					return true
				}
			}
			return false
		}
	}
	return false
}

// availabilityKey identifies one (region, plan) pair.
type availabilityKey struct {
	region string
	plan   string
}

// mergeAvailability unions availability pages into a deduplicated set of
// creatable (region, plan) pairs. Merging the same page twice yields the
// same set as merging it once.
func mergeAvailability(pages [][]api.AvailabilityRecord) map[availabilityKey]struct{} {
	merged := make(map[availabilityKey]struct{})
	for _, page := range pages {
		for _, rec := range page {
			if !rec.Available {
				continue
			}
			merged[availabilityKey{region: rec.Region, plan: rec.Plan}] = struct{}{}
		}
	}
	return merged
}

// build assembles the final catalog: filter types to the GPU family,
// sort them smallest-to-largest within GPU tiers, intersect with region
// availability, and drop regions with nothing to offer.
func build(types []api.InstanceType, regions []api.Region, pages [][]api.AvailabilityRecord, family string) *Catalog {
	available := mergeAvailability(pages)

	var filtered []InstanceType
	for _, t := range types {
		if !strings.HasPrefix(t.ID, family) {
			continue
		}
		filtered = append(filtered, InstanceType{
			ID:           t.ID,
			Label:        t.Label,
			VCPUs:        t.VCPUs,
			MemoryMB:     t.MemoryMB,
			GPUCount:     t.GPUs,
			PriceHourly:  t.Price.Hourly,
			PriceMonthly: t.Price.Monthly,
		})
	}

	sort.Slice(filtered, func(i, j int) bool {
		ki, kj := parseSortKey(filtered[i].ID), parseSortKey(filtered[j].ID)
		if ki.gpus != kj.gpus {
			return ki.gpus < kj.gpus
		}
		if ki.sizeRank != kj.sizeRank {
			return ki.sizeRank < kj.sizeRank
		}
		return filtered[i].ID < filtered[j].ID
	})

	catalog := &Catalog{Types: filtered}

	for _, r := range regions {
		var typeIDs []string
		for _, t := range filtered {
			if _, ok := available[availabilityKey{region: r.ID, plan: t.ID}]; ok {
				typeIDs = append(typeIDs, t.ID)
			}
		}
		if len(typeIDs) == 0 {
			continue
		}
		catalog.Regions = append(catalog.Regions, Region{
			ID:      r.ID,
			Label:   r.Label,
			TypeIDs: typeIDs,
		})
	}

	return catalog
}
