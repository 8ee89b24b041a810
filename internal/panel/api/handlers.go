package api

import (
	"encoding/json"
	"net/http"

	pkgapi "github.com/vpanel/core/pkg/api"
	apperrors "github.com/vpanel/core/pkg/errors"
)

// handleDeployServer accepts a deployment request and returns the job id
// immediately; progress is polled via the status endpoint.
func (s *Server) handleDeployServer(w http.ResponseWriter, r *http.Request) {
	var req pkgapi.DeployServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r,
			apperrors.NewAPIError(apperrors.ErrCodeValidation, "invalid JSON request body", false, err))
		return
	}

	resp, err := s.service.DeployServer(r.Context(), req)
	if err != nil {
		WriteErrorResponse(w, r, err)
		return
	}

	// Provisioning continues in the background; callers poll the status endpoint
	_ = WriteAccepted(w, resp)
}

// handleDeploymentStatus returns a snapshot of an in-flight or recently
// finished deployment. Unknown or purged ids return 404.
func (s *Server) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.PathValue("deploymentID")
	if deploymentID == "" {
		WriteErrorResponse(w, r,
			apperrors.NewAPIError(apperrors.ErrCodeValidation, "missing deployment id", false, nil))
		return
	}

	snap, err := s.service.DeploymentStatus(r.Context(), deploymentID)
	if err != nil {
		WriteErrorResponse(w, r, err)
		return
	}

	_ = WriteSuccess(w, pkgapi.DeploymentStatusResponse{
		Status:    string(snap.Stage),
		ServerID:  snap.NodeID,
		Logs:      snap.Logs,
		Error:     snap.Error,
		StartedAt: snap.StartedAt,
	})
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.service.ListNodes(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, err)
		return
	}

	servers := make([]pkgapi.ServerInfo, 0, len(nodes))
	for _, node := range nodes {
		servers = append(servers, pkgapi.ServerInfo{
			ID:             node.ID,
			Name:           node.Name,
			IP:             node.IP,
			Status:         node.Status,
			MaxClients:     node.MaxClients,
			CurrentClients: node.CurrentClients,
			Location:       node.Location,
			Provider:       node.Provider,
			CreatedAt:      node.CreatedAt,
		})
	}

	_ = WriteSuccess(w, pkgapi.ServersListResponse{
		Servers:    servers,
		TotalCount: len(servers),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = WriteSuccess(w, pkgapi.HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
	})
}
