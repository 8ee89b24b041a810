package api

// DeployServerRequest represents a request to provision a new VPN node.
// Either IP or Provider must be set: a bare host is deployed directly over
// SSH, while a provider-backed deploy creates the cloud server first.
type DeployServerRequest struct {
	Name        string  `json:"name"`
	IP          string  `json:"ip,omitempty"`
	SSHUsername string  `json:"sshUsername"`
	SSHPort     int     `json:"sshPort"`
	SSHPassword *string `json:"sshPassword,omitempty"`
	SSHKeyPath  *string `json:"sshKeyPath,omitempty"`
	Location    *string `json:"location,omitempty"`
	Provider    *string `json:"provider,omitempty"`
	MaxClients  int     `json:"maxClients,omitempty"`
}
