package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/vpanel/core/internal/panel/config"
	apperrors "github.com/vpanel/core/pkg/errors"
	applogger "github.com/vpanel/core/pkg/logger"
)

// Hetzner creates servers on Hetzner Cloud
type Hetzner struct {
	client *hcloud.Client
	config config.HetznerConfig
	logger *applogger.Logger
}

// NewHetzner creates the Hetzner provider. Requires an API token.
func NewHetzner(cfg config.HetznerConfig, logger *applogger.Logger) (*Hetzner, error) {
	if cfg.APIToken == "" {
		return nil, apperrors.NewDeployError(apperrors.ErrCodeConfiguration,
			"hetzner API token is required", false, nil)
	}

	return &Hetzner{
		client: hcloud.NewClient(hcloud.WithToken(cfg.APIToken)),
		config: cfg,
		logger: logger.WithComponent("provider.hetzner"),
	}, nil
}

func (h *Hetzner) Name() string { return "hetzner" }

// CreateServer creates a server and waits until it has a public IPv4
// address. SSH readiness is the pipeline's problem; its connection retry
// absorbs the boot window.
func (h *Hetzner) CreateServer(ctx context.Context, name string) (CreatedServer, error) {
	sshKeys, err := h.uploadedSSHKeys(ctx)
	if err != nil {
		return CreatedServer{}, err
	}

	serverName := fmt.Sprintf("%s-%d", name, time.Now().Unix())
	h.logger.InfoContext(ctx, "creating server",
		slog.String("server_name", serverName),
		slog.String("server_type", h.config.ServerType),
		slog.String("location", h.config.Location))

	result, _, err := h.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       serverName,
		ServerType: &hcloud.ServerType{Name: h.config.ServerType},
		Image:      &hcloud.Image{Name: h.config.Image},
		Location:   &hcloud.Location{Name: h.config.Location},
		PublicNet: &hcloud.ServerCreatePublicNet{
			EnableIPv4: true,
			EnableIPv6: false,
		},
		SSHKeys: sshKeys,
	})
	if err != nil {
		return CreatedServer{}, apperrors.NewDeployError(apperrors.ErrCodeProviderError,
			"failed to create hetzner server", true, err)
	}

	created := CreatedServer{
		ProviderID: fmt.Sprintf("%d", result.Server.ID),
		IP:         result.Server.PublicNet.IPv4.IP.String(),
	}
	h.logger.InfoContext(ctx, "server created",
		slog.String("server_id", created.ProviderID),
		slog.String("ip_address", created.IP))

	return created, nil
}

// DestroyServer deletes a server by its provider id
func (h *Hetzner) DestroyServer(ctx context.Context, providerID string) error {
	var hetznerID int64
	if _, err := fmt.Sscanf(providerID, "%d", &hetznerID); err != nil {
		return apperrors.NewDeployError(apperrors.ErrCodeProviderError,
			fmt.Sprintf("invalid server id %q", providerID), false, err)
	}

	_, _, err := h.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: hetznerID})
	if err != nil {
		return apperrors.NewDeployError(apperrors.ErrCodeProviderError,
			"failed to delete hetzner server", true, err)
	}

	h.logger.InfoContext(ctx, "server destroyed", slog.String("server_id", providerID))
	return nil
}

// uploadedSSHKeys resolves the configured public key. Direct key content is
// uploaded under a deterministic name; otherwise the content is read from
// the configured path first.
func (h *Hetzner) uploadedSSHKeys(ctx context.Context) ([]*hcloud.SSHKey, error) {
	if h.config.SSHPublicKey == "" {
		h.logger.Warn("no SSH public key configured, using account keys")
		keys, err := h.client.SSHKey.All(ctx)
		if err != nil {
			return nil, apperrors.NewDeployError(apperrors.ErrCodeProviderError,
				"failed to list account SSH keys", true, err)
		}
		return keys, nil
	}

	content := h.config.SSHPublicKey
	if !isKeyContent(content) {
		raw, err := os.ReadFile(content)
		if err != nil {
			return nil, apperrors.NewDeployError(apperrors.ErrCodeConfiguration,
				"failed to read SSH public key file", false, err)
		}
		content = strings.TrimSpace(string(raw))
	}

	key, _, err := h.client.SSHKey.GetByName(ctx, "vpanel-deploy")
	if err == nil && key != nil {
		return []*hcloud.SSHKey{key}, nil
	}

	key, _, err = h.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      "vpanel-deploy",
		PublicKey: content,
	})
	if err != nil {
		return nil, apperrors.NewDeployError(apperrors.ErrCodeProviderError,
			"failed to upload SSH public key", true, err)
	}
	return []*hcloud.SSHKey{key}, nil
}

func isKeyContent(s string) bool {
	return strings.HasPrefix(s, "ssh-") || strings.HasPrefix(s, "ecdsa-") || strings.HasPrefix(s, "ed25519-")
}
