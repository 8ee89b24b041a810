// Package registry is the capacity-aware record of known VPN nodes.
// Slot accounting goes through atomic conditional updates in the store so
// two callers racing for the last slot can never both win.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/sshx"
	apperrors "github.com/vpanel/core/pkg/errors"
	applogger "github.com/vpanel/core/pkg/logger"
)

// NodeSpec describes a node to register
type NodeSpec struct {
	Name        string
	IP          string
	SSHUser     string
	SSHPort     int
	SSHPassword string
	SSHKeyPath  string
	Location    string
	Provider    string
	MaxClients  int
}

// Registry manages VPN node records and their capacity
type Registry struct {
	store  db.Store
	logger *applogger.Logger
}

// New creates a node registry backed by the given store
func New(store db.Store, logger *applogger.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.WithComponent("registry"),
	}
}

// RegisterNode validates the spec and creates a node in the provisioning
// state. A second deploy attempt against the same host is rejected here,
// before any pipeline work starts.
func (r *Registry) RegisterNode(ctx context.Context, spec NodeSpec) (db.Node, error) {
	if err := validateSpec(spec); err != nil {
		return db.Node{}, err
	}

	if _, err := r.store.GetNodeByIP(ctx, spec.IP); err == nil {
		return db.Node{}, apperrors.ErrDuplicateHost.WithMetadata("ip", spec.IP)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return db.Node{}, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to check for existing node", true, err)
	}

	node, err := r.store.CreateNode(ctx, db.CreateNodeParams{
		ID:          uuid.New().String(),
		Name:        spec.Name,
		IP:          spec.IP,
		SSHUser:     spec.SSHUser,
		SSHPort:     spec.SSHPort,
		SSHPassword: nullString(spec.SSHPassword),
		SSHKeyPath:  nullString(spec.SSHKeyPath),
		Location:    spec.Location,
		Provider:    spec.Provider,
		MaxClients:  spec.MaxClients,
	})
	if err != nil {
		// The unique index on ip closes the race between the check above
		// and the insert.
		if isUniqueViolation(err) {
			return db.Node{}, apperrors.ErrDuplicateHost.WithMetadata("ip", spec.IP)
		}
		return db.Node{}, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to create node", true, err)
	}

	r.logger.InfoContext(ctx, "node registered",
		slog.String("node_id", node.ID),
		slog.String("ip", node.IP),
		slog.Int("max_clients", node.MaxClients))

	return node, nil
}

// GetNode returns a node by id
func (r *Registry) GetNode(ctx context.Context, nodeID string) (db.Node, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Node{}, apperrors.ErrNodeNotFound.WithMetadata("node_id", nodeID)
		}
		return db.Node{}, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to load node", true, err)
	}
	return node, nil
}

// ListNodes returns all registered nodes
func (r *Registry) ListNodes(ctx context.Context) ([]db.Node, error) {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to list nodes", true, err)
	}
	return nodes, nil
}

// ReserveSlot atomically claims one client slot on the node. Exactly one of
// N concurrent callers wins the last free slot; the rest get CapacityExceeded.
func (r *Registry) ReserveSlot(ctx context.Context, nodeID string) error {
	affected, err := r.store.ReserveNodeSlot(ctx, nodeID)
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to reserve slot", true, err)
	}
	if affected == 0 {
		// Either the node is unknown or it is full; look once to tell apart.
		if _, err := r.GetNode(ctx, nodeID); err != nil {
			return err
		}
		return apperrors.ErrCapacityExceeded.WithMetadata("node_id", nodeID)
	}
	return nil
}

// ReleaseSlot frees one client slot, floored at zero. A double release is
// logged but not an error: the count must never underflow.
func (r *Registry) ReleaseSlot(ctx context.Context, nodeID string) error {
	affected, err := r.store.ReleaseNodeSlot(ctx, nodeID)
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to release slot", true, err)
	}
	if affected == 0 {
		if _, err := r.GetNode(ctx, nodeID); err != nil {
			return err
		}
		r.logger.WarnContext(ctx, "slot released on node with zero clients",
			slog.String("node_id", nodeID))
	}
	return nil
}

// MarkActive transitions a node out of provisioning once its deployment
// pipeline completed. Called by the orchestrator only.
func (r *Registry) MarkActive(ctx context.Context, nodeID string) error {
	return r.setStatus(ctx, nodeID, db.NodeStatusActive, sql.NullString{})
}

// MarkFailed records a failed deployment. The node row is kept so operators
// can inspect what happened; it is never deleted implicitly.
func (r *Registry) MarkFailed(ctx context.Context, nodeID, reason string) error {
	return r.setStatus(ctx, nodeID, db.NodeStatusFailed, nullString(reason))
}

// SetEnabled enables or disables a node by explicit operator action
func (r *Registry) SetEnabled(ctx context.Context, nodeID string, enabled bool) error {
	status := db.NodeStatusDisabled
	if enabled {
		status = db.NodeStatusActive
	}
	return r.setStatus(ctx, nodeID, status, sql.NullString{})
}

func (r *Registry) setStatus(ctx context.Context, nodeID, status string, reason sql.NullString) error {
	if err := r.store.UpdateNodeStatus(ctx, nodeID, status, reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrNodeNotFound.WithMetadata("node_id", nodeID)
		}
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to update node status", true, err)
	}

	r.logger.InfoContext(ctx, "node status changed",
		slog.String("node_id", nodeID),
		slog.String("status", status))
	return nil
}

// SSHTarget builds the remote execution target for a node
func SSHTarget(node db.Node) sshx.Target {
	return sshx.Target{
		Host:     node.IP,
		Port:     node.SSHPort,
		User:     node.SSHUser,
		Password: node.SSHPassword.String,
		KeyPath:  node.SSHKeyPath.String,
	}
}

func validateSpec(spec NodeSpec) error {
	if spec.Name == "" {
		return validationError("name is required")
	}
	if spec.IP == "" {
		return validationError("ip is required")
	}
	if net.ParseIP(spec.IP) == nil {
		return validationError(fmt.Sprintf("invalid ip address: %s", spec.IP))
	}
	if spec.SSHUser == "" {
		return validationError("sshUsername is required")
	}
	if spec.SSHPort < 1 || spec.SSHPort > 65535 {
		return validationError(fmt.Sprintf("invalid ssh port: %d", spec.SSHPort))
	}
	if spec.SSHPassword == "" && spec.SSHKeyPath == "" {
		return validationError("either sshPassword or sshKeyPath is required")
	}
	if spec.MaxClients < 1 {
		return validationError(fmt.Sprintf("maxClients must be positive, got %d", spec.MaxClients))
	}
	return nil
}

func validationError(msg string) error {
	return apperrors.NewRegistryError(apperrors.ErrCodeValidation, msg, false, nil)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
