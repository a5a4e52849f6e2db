package api

import (
	"context"
	"fmt"
	"net/http"
)

// GetProfile validates the client's token against the identity endpoint
// and returns the account it belongs to.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListTypes returns the full instance-type catalog.
func (c *Client) ListTypes(ctx context.Context) ([]InstanceType, error) {
	var out page[InstanceType]
	if err := c.get(ctx, "/linode/types", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListRegions returns the full region catalog.
func (c *Client) ListRegions(ctx context.Context) ([]Region, error) {
	var out page[Region]
	if err := c.get(ctx, "/regions", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListAvailability returns one page of per-region-per-plan availability
// records along with the total page count.
func (c *Client) ListAvailability(ctx context.Context, pageNum int) ([]AvailabilityRecord, int, error) {
	var out page[AvailabilityRecord]
	path := fmt.Sprintf("/regions/availability?page=%d", pageNum)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, 0, err
	}
	if len(out.Data) == 0 {
		// A zero-length page where records are expected must fail the
		// whole fetch; a partial catalog would mislead provisioning.
		return nil, 0, &APIError{Status: http.StatusOK, Body: "availability page contained no records"}
	}
	return out.Data, out.Pages, nil
}

// CreateInstance submits a provisioning request. It is never retried.
func (c *Client) CreateInstance(ctx context.Context, req *CreateInstanceRequest) (*Instance, error) {
	var inst Instance
	if err := c.do(ctx, c.write, http.MethodPost, "/linode/instances", req, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetInstance fetches the current state of one instance.
func (c *Client) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := c.get(ctx, "/linode/instances/"+id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// InstanceStatus returns just the lifecycle status of one instance. This
// is the polling primitive for the boot phase.
func (c *Client) InstanceStatus(ctx context.Context, id string) (string, error) {
	inst, err := c.GetInstance(ctx, id)
	if err != nil {
		return "", err
	}
	return inst.Status, nil
}

// DeleteInstance destroys an instance. Like create, it is never retried.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.do(ctx, c.write, http.MethodDelete, "/linode/instances/"+id, nil, nil)
}
