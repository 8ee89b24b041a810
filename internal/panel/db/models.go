package db

import (
	"database/sql"
	"time"
)

// Node lifecycle states
const (
	NodeStatusProvisioning = "provisioning"
	NodeStatusActive       = "active"
	NodeStatusFailed       = "failed"
	NodeStatusDisabled     = "disabled"
)

// Subscription states. Status is always a pure function of expiry and
// current time; only a successful renewal forces it back to active.
const (
	SubscriptionStatusActive       = "active"
	SubscriptionStatusExpiringSoon = "expiring_soon"
	SubscriptionStatusExpired      = "expired"
)

// Node is a VPN server record with capacity accounting
type Node struct {
	ID             string
	Name           string
	IP             string
	SSHUser        string
	SSHPort        int
	SSHPassword    sql.NullString
	SSHKeyPath     sql.NullString
	Location       string
	Provider       string
	MaxClients     int
	CurrentClients int
	Status         string
	FailureReason  sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subscription is one user's VPN access period on a node
type Subscription struct {
	ID                 string
	UserID             string
	NodeID             sql.NullString
	ClientID           string
	PlanPeriodDays     int
	PriceCents         int
	ExpiresAt          time.Time
	Status             string
	AutoRenew          bool
	LastReminderAt     sql.NullTime
	LastRenewalAt      sql.NullTime
	LastRenewalOutcome sql.NullString
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
