// Package gce implements the compute and network control planes on Google Compute Engine.
package gce

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/protobuf/proto"

	computeplane "github.com/bc-dunia/failoverdrill/internal/compute"
	"github.com/bc-dunia/failoverdrill/internal/types"
	"github.com/bc-dunia/failoverdrill/internal/vip"
)

// DefaultNetworkInterface is the NIC carrying the alias range.
const DefaultNetworkInterface = "nic0"

// instancesAPI is the subset of the Instances service the harness uses.
// Stop and Start return once the operation is accepted; UpdateNetworkInterface
// waits for the operation to finish.
type instancesAPI interface {
	Get(ctx context.Context, req *computepb.GetInstanceRequest) (*computepb.Instance, error)
	Stop(ctx context.Context, req *computepb.StopInstanceRequest) error
	Start(ctx context.Context, req *computepb.StartInstanceRequest) error
	UpdateNetworkInterface(ctx context.Context, req *computepb.UpdateNetworkInterfaceInstanceRequest) error
	Close() error
}

type restInstances struct {
	c *compute.InstancesClient
}

func (r restInstances) Get(ctx context.Context, req *computepb.GetInstanceRequest) (*computepb.Instance, error) {
	return r.c.Get(ctx, req)
}

func (r restInstances) Stop(ctx context.Context, req *computepb.StopInstanceRequest) error {
	_, err := r.c.Stop(ctx, req)
	return err
}

func (r restInstances) Start(ctx context.Context, req *computepb.StartInstanceRequest) error {
	_, err := r.c.Start(ctx, req)
	return err
}

func (r restInstances) UpdateNetworkInterface(ctx context.Context, req *computepb.UpdateNetworkInterfaceInstanceRequest) error {
	op, err := r.c.UpdateNetworkInterface(ctx, req)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (r restInstances) Close() error {
	return r.c.Close()
}

var (
	_ computeplane.ControlPlane = (*Client)(nil)
	_ vip.NetworkPlane          = (*Client)(nil)
)

// Client talks to the Instances API for one project and zone.
type Client struct {
	api     instancesAPI
	project string
	zone    string
	nic     string
}

// New creates a Client using Application Default Credentials.
func New(ctx context.Context, project, zone, nic string) (*Client, error) {
	if project == "" || zone == "" {
		return nil, errors.New("gce: project and zone are required")
	}
	c, err := compute.NewInstancesRESTClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gce: failed to create instances client: %w", err)
	}
	return newClient(restInstances{c: c}, project, zone, nic), nil
}

func newClient(api instancesAPI, project, zone, nic string) *Client {
	if nic == "" {
		nic = DefaultNetworkInterface
	}
	return &Client{api: api, project: project, zone: zone, nic: nic}
}

// Close releases the underlying API connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// GetInstanceState returns the instance's lifecycle state.
func (c *Client) GetInstanceState(ctx context.Context, instance string) (types.LifecycleState, error) {
	inst, err := c.get(ctx, instance)
	if err != nil {
		return types.StateUnknown, err
	}
	return types.ParseLifecycleState(inst.GetStatus()), nil
}

// StopInstance submits a stop operation.
func (c *Client) StopInstance(ctx context.Context, instance string) error {
	err := c.api.Stop(ctx, &computepb.StopInstanceRequest{
		Project:  c.project,
		Zone:     c.zone,
		Instance: instance,
	})
	return c.wrap("stop", instance, err)
}

// StartInstance submits a start operation.
func (c *Client) StartInstance(ctx context.Context, instance string) error {
	err := c.api.Start(ctx, &computepb.StartInstanceRequest{
		Project:  c.project,
		Zone:     c.zone,
		Instance: instance,
	})
	return c.wrap("start", instance, err)
}

// AliasRange returns the first alias range on the configured NIC, or "".
func (c *Client) AliasRange(ctx context.Context, instance string) (string, error) {
	inst, err := c.get(ctx, instance)
	if err != nil {
		return "", err
	}
	nic, err := c.findNIC(inst)
	if err != nil {
		return "", err
	}
	for _, r := range nic.GetAliasIpRanges() {
		if cidr := r.GetIpCidrRange(); cidr != "" {
			return cidr, nil
		}
	}
	return "", nil
}

// SetAliasRange replaces the NIC's alias ranges with cidr, or clears them when cidr is "".
// The call waits for the operation so the caller observes a settled binding.
func (c *Client) SetAliasRange(ctx context.Context, instance, cidr string) error {
	inst, err := c.get(ctx, instance)
	if err != nil {
		return err
	}
	nic, err := c.findNIC(inst)
	if err != nil {
		return err
	}

	ranges := []*computepb.AliasIpRange{}
	if cidr != "" {
		ranges = append(ranges, &computepb.AliasIpRange{IpCidrRange: proto.String(cidr)})
	}

	err = c.api.UpdateNetworkInterface(ctx, &computepb.UpdateNetworkInterfaceInstanceRequest{
		Project:          c.project,
		Zone:             c.zone,
		Instance:         instance,
		NetworkInterface: c.nic,
		NetworkInterfaceResource: &computepb.NetworkInterface{
			Fingerprint:   nic.Fingerprint,
			AliasIpRanges: ranges,
		},
	})
	return c.wrap("update alias range of", instance, err)
}

func (c *Client) get(ctx context.Context, instance string) (*computepb.Instance, error) {
	inst, err := c.api.Get(ctx, &computepb.GetInstanceRequest{
		Project:  c.project,
		Zone:     c.zone,
		Instance: instance,
	})
	if err != nil {
		return nil, c.wrap("get", instance, err)
	}
	return inst, nil
}

func (c *Client) findNIC(inst *computepb.Instance) (*computepb.NetworkInterface, error) {
	for _, nic := range inst.GetNetworkInterfaces() {
		if nic.GetName() == c.nic {
			return nic, nil
		}
	}
	return nil, fmt.Errorf("gce: instance %s has no network interface %s", inst.GetName(), c.nic)
}

func (c *Client) wrap(action, instance string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("gce: %s %s: %w", action, instance, computeplane.ErrInstanceNotFound)
	}
	return fmt.Errorf("gce: %s %s: %w", action, instance, err)
}

// isNotFound reports whether err carries an HTTP 404 from the API.
func isNotFound(err error) bool {
	var coded interface{ HTTPCode() int }
	return errors.As(err, &coded) && coded.HTTPCode() == http.StatusNotFound
}
