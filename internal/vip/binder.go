// Package vip moves a floating alias IP range between instances.
package vip

import (
	"context"
	"fmt"
)

// NetworkPlane reads and writes the alias IP range of an instance's interface.
// An empty range means no alias is assigned.
type NetworkPlane interface {
	AliasRange(ctx context.Context, instance string) (string, error)
	SetAliasRange(ctx context.Context, instance, cidr string) error
}

// Binder binds and unbinds the alias range idempotently.
type Binder struct {
	plane NetworkPlane
}

// NewBinder creates a Binder over plane.
func NewBinder(plane NetworkPlane) *Binder {
	return &Binder{plane: plane}
}

// Bind assigns cidr to instance. Binding a range the instance already holds is a no-op.
func (b *Binder) Bind(ctx context.Context, instance, cidr string) error {
	if cidr == "" {
		return fmt.Errorf("bind %s: empty alias range", instance)
	}
	return b.set(ctx, instance, cidr)
}

// Unbind removes any alias range from instance. Unbinding an instance without one is a no-op.
func (b *Binder) Unbind(ctx context.Context, instance string) error {
	return b.set(ctx, instance, "")
}

func (b *Binder) set(ctx context.Context, instance, cidr string) error {
	current, err := b.plane.AliasRange(ctx, instance)
	if err != nil {
		return fmt.Errorf("read alias range of %s: %w", instance, err)
	}
	if current == cidr {
		return nil
	}
	if err := b.plane.SetAliasRange(ctx, instance, cidr); err != nil {
		if cidr == "" {
			return fmt.Errorf("unbind alias range from %s: %w", instance, err)
		}
		return fmt.Errorf("bind %s to %s: %w", cidr, instance, err)
	}
	return nil
}
