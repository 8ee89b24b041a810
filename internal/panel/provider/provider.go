// Package provider creates cloud servers for provider-backed deployments.
// Bare-host deployments bypass it entirely; the provisioning pipeline only
// needs a reachable SSH address.
package provider

import (
	"context"

	apperrors "github.com/vpanel/core/pkg/errors"
)

// CreatedServer is a freshly created cloud server ready for provisioning
type CreatedServer struct {
	ProviderID string
	IP         string
}

// Provider creates and destroys cloud servers
type Provider interface {
	CreateServer(ctx context.Context, name string) (CreatedServer, error)
	DestroyServer(ctx context.Context, providerID string) error
	Name() string
}

// ErrUnknownProvider is returned when a deploy request names a provider
// that is not configured
var ErrUnknownProvider = apperrors.NewDeployError(
	apperrors.ErrCodeProviderError, "unknown or unconfigured provider", false, nil)
