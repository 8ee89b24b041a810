package api

import "time"

// Response is the generic envelope for all API responses
type Response[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries structured error details in API responses
type ErrorInfo struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DeployServerResponse is returned when a deployment has been accepted
type DeployServerResponse struct {
	DeploymentID string `json:"deploymentId"`
	ServerID     string `json:"serverId"`
}

// DeploymentStatusResponse reports the progress of an in-flight deployment
type DeploymentStatusResponse struct {
	Status    string    `json:"status"`
	ServerID  string    `json:"serverId"`
	Logs      []string  `json:"logs"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// ServerInfo represents a registered VPN node for listing operations
type ServerInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	IP             string    `json:"ip"`
	Status         string    `json:"status"`
	MaxClients     int       `json:"maxClients"`
	CurrentClients int       `json:"currentClients"`
	Location       string    `json:"location,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ServersListResponse represents the response for listing servers
type ServersListResponse struct {
	Servers    []ServerInfo `json:"servers"`
	TotalCount int          `json:"total_count"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
