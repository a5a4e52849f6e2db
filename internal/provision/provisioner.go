package provision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gpudeploy/internal/api"
	"gpudeploy/internal/catalog"
	"gpudeploy/internal/logging"
	"gpudeploy/internal/record"

	"go.uber.org/zap"
)

// ControlPlane is the slice of the API client the provisioner needs.
type ControlPlane interface {
	CreateInstance(ctx context.Context, req *api.CreateInstanceRequest) (*api.Instance, error)
	DeleteInstance(ctx context.Context, id string) error
}

// Request describes one instance to provision.
type Request struct {
	Region        string
	Type          string
	Label         string
	Image         string
	Model         string
	AuthorizedKey string // empty = password-only access
	NotifyServer  string
	APIPort       int
	UIPort        int
}

// Provisioner creates instances and persists their records.
type Provisioner struct {
	client ControlPlane
	store  *record.Store
}

// NewProvisioner creates a provisioner backed by the given control plane
// and record store.
func NewProvisioner(client ControlPlane, store *record.Store) *Provisioner {
	return &Provisioner{client: client, store: store}
}

// NotifyTopic derives the push-notification topic for an instance label.
func NotifyTopic(label string) string {
	return "gpudeploy-" + label
}

// Provision validates the request against the catalog, generates a
// compliant root password, submits the create request, and persists the
// instance record before anything else can go wrong. Create is never
// retried: a repeated call could allocate a duplicate billable resource.
func (p *Provisioner) Provision(ctx context.Context, cat *catalog.Catalog, req Request) (*record.Record, error) {
	if !cat.HasRegion(req.Region) {
		return nil, fmt.Errorf("region %q is not in the availability catalog", req.Region)
	}
	if _, ok := cat.TypeByID(req.Type); !ok {
		return nil, fmt.Errorf("instance type %q is not in the availability catalog", req.Type)
	}
	if !cat.Available(req.Region, req.Type) {
		return nil, fmt.Errorf("instance type %q cannot currently be created in region %q", req.Type, req.Region)
	}

	password, err := GeneratePassword()
	if err != nil {
		return nil, err
	}

	userData, err := BuildUserData(UserDataParams{
		Label:        req.Label,
		Model:        req.Model,
		NotifyServer: req.NotifyServer,
		Topic:        NotifyTopic(req.Label),
		APIPort:      req.APIPort,
		UIPort:       req.UIPort,
	})
	if err != nil {
		return nil, err
	}

	createReq := &api.CreateInstanceRequest{
		Label:    req.Label,
		Region:   req.Region,
		Type:     req.Type,
		Image:    req.Image,
		RootPass: password,
		Metadata: &api.Metadata{
			UserData: base64.StdEncoding.EncodeToString([]byte(userData)),
		},
		Booted: true,
	}
	if req.AuthorizedKey != "" {
		createReq.AuthorizedKeys = []string{req.AuthorizedKey}
	}

	logging.Logger().Info("submitting provisioning request",
		zap.String("label", req.Label),
		zap.String("region", req.Region),
		zap.String("type", req.Type))

	inst, err := p.client.CreateInstance(ctx, createReq)
	if err != nil {
		return nil, fmt.Errorf("instance creation failed: %w", err)
	}

	ip := firstIPv4(inst.IPv4)
	if ip == "" {
		logging.Logger().Warn("created instance reported no IPv4 address yet; query it before connecting",
			zap.Int("instance_id", inst.ID))
	}

	rec := &record.Record{
		ID:           strconv.Itoa(inst.ID),
		IP:           ip,
		Type:         req.Type,
		Region:       req.Region,
		Label:        req.Label,
		RootPassword: password,
		CreatedAt:    time.Now().UTC(),
	}

	// Persist before anything else so a crash right after creation never
	// orphans the billable resource.
	if err := p.store.Write(rec); err != nil {
		return rec, fmt.Errorf("instance %s created but record write failed: %w", rec.ID, err)
	}

	logging.Logger().Info("instance created",
		zap.String("instance_id", rec.ID),
		zap.String("ip", rec.IP),
		zap.String("label", rec.Label))

	return rec, nil
}

// Destroy deletes an instance and its local record.
func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	if err := p.client.DeleteInstance(ctx, id); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}
	if err := p.store.Delete(id); err != nil {
		return err
	}
	logging.Logger().Info("instance deleted", zap.String("instance_id", id))
	return nil
}

// firstIPv4 returns the first public IPv4 address from the control
// plane's list, skipping anything that is not dotted-quad.
func firstIPv4(addrs []string) string {
	for _, a := range addrs {
		if strings.Count(a, ".") == 3 {
			return a
		}
	}
	return ""
}
