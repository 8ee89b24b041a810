package db

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so queries can run
// standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries provides typed access to the vpanel tables
type Queries struct {
	db DBTX
}

// New creates a Queries instance bound to the given connection or transaction
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Querier defines all query operations, implemented by Queries
type Querier interface {
	CreateNode(ctx context.Context, arg CreateNodeParams) (Node, error)
	GetNode(ctx context.Context, id string) (Node, error)
	GetNodeByIP(ctx context.Context, ip string) (Node, error)
	ListNodes(ctx context.Context) ([]Node, error)
	UpdateNodeStatus(ctx context.Context, id, status string, failureReason sql.NullString) error
	ReserveNodeSlot(ctx context.Context, id string) (int64, error)
	ReleaseNodeSlot(ctx context.Context, id string) (int64, error)

	CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	ListSubscriptionsByStatus(ctx context.Context, status string) ([]Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string) error
	StampReminder(ctx context.Context, id string, at time.Time) error
	RenewSubscription(ctx context.Context, arg RenewSubscriptionParams) error
	RecordRenewalFailure(ctx context.Context, id, outcome string, at time.Time) error
	DeleteSubscription(ctx context.Context, id string) error
}

var _ Querier = (*Queries)(nil)

const nodeColumns = `id, name, ip, ssh_user, ssh_port, ssh_password, ssh_key_path,
	location, provider, max_clients, current_clients, status, failure_reason,
	created_at, updated_at`

// CreateNodeParams holds the fields required to insert a node
type CreateNodeParams struct {
	ID          string
	Name        string
	IP          string
	SSHUser     string
	SSHPort     int
	SSHPassword sql.NullString
	SSHKeyPath  sql.NullString
	Location    string
	Provider    string
	MaxClients  int
}

const createNode = `
INSERT INTO nodes (id, name, ip, ssh_user, ssh_port, ssh_password, ssh_key_path,
	location, provider, max_clients, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'provisioning')
RETURNING ` + nodeColumns

// CreateNode inserts a new node in the provisioning state
func (q *Queries) CreateNode(ctx context.Context, arg CreateNodeParams) (Node, error) {
	row := q.db.QueryRowContext(ctx, createNode,
		arg.ID, arg.Name, arg.IP, arg.SSHUser, arg.SSHPort,
		arg.SSHPassword, arg.SSHKeyPath, arg.Location, arg.Provider, arg.MaxClients)
	return scanNode(row)
}

// GetNode returns a node by id
func (q *Queries) GetNode(ctx context.Context, id string) (Node, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// GetNodeByIP returns a node by host address
func (q *Queries) GetNodeByIP(ctx context.Context, ip string) (Node, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE ip = ?`, ip)
	return scanNode(row)
}

// ListNodes returns all known nodes ordered by creation time
func (q *Queries) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpdateNodeStatus transitions a node's lifecycle state
func (q *Queries) UpdateNodeStatus(ctx context.Context, id, status string, failureReason sql.NullString) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE nodes SET status = ?, failure_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, failureReason, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReserveNodeSlot atomically increments current_clients if capacity remains.
// Returns the number of affected rows: 0 means the node was full or unknown.
func (q *Queries) ReserveNodeSlot(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE nodes SET current_clients = current_clients + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND current_clients < max_clients`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseNodeSlot decrements current_clients, floored at zero.
// Returns the number of affected rows: 0 means the count was already zero.
func (q *Queries) ReleaseNodeSlot(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE nodes SET current_clients = current_clients - 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND current_clients > 0`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const subscriptionColumns = `id, user_id, node_id, client_id, plan_period_days, price_cents,
	expires_at, status, auto_renew, last_reminder_at, last_renewal_at, last_renewal_outcome,
	created_at, updated_at`

// CreateSubscriptionParams holds the fields required to insert a subscription
type CreateSubscriptionParams struct {
	ID             string
	UserID         string
	NodeID         sql.NullString
	ClientID       string
	PlanPeriodDays int
	PriceCents     int
	ExpiresAt      time.Time
	AutoRenew      bool
}

const createSubscription = `
INSERT INTO subscriptions (id, user_id, node_id, client_id, plan_period_days, price_cents,
	expires_at, status, auto_renew)
VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?)
RETURNING ` + subscriptionColumns

// CreateSubscription inserts a new active subscription
func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, createSubscription,
		arg.ID, arg.UserID, arg.NodeID, arg.ClientID, arg.PlanPeriodDays,
		arg.PriceCents, arg.ExpiresAt, arg.AutoRenew)
	return scanSubscription(row)
}

// GetSubscription returns a subscription by id
func (q *Queries) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row)
}

// ListSubscriptions returns all subscriptions ordered by expiry
func (q *Queries) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY expires_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListSubscriptionsByStatus returns all subscriptions in the given status
func (q *Queries) ListSubscriptionsByStatus(ctx context.Context, status string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = ? ORDER BY expires_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// UpdateSubscriptionStatus sets the computed status for a subscription
func (q *Queries) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	return err
}

// StampReminder records that a reminder was sent at the given time
func (q *Queries) StampReminder(ctx context.Context, id string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_reminder_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at, id)
	return err
}

// RenewSubscriptionParams holds the outcome of a successful renewal charge
type RenewSubscriptionParams struct {
	ID        string
	ExpiresAt time.Time
	At        time.Time
}

// RenewSubscription extends the expiry after a successful charge and
// forces the status back to active
func (q *Queries) RenewSubscription(ctx context.Context, arg RenewSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET expires_at = ?, status = 'active', last_renewal_at = ?, last_renewal_outcome = 'success',
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		arg.ExpiresAt, arg.At, arg.ID)
	return err
}

// RecordRenewalFailure records a failed charge attempt without touching expiry
func (q *Queries) RecordRenewalFailure(ctx context.Context, id, outcome string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET last_renewal_at = ?, last_renewal_outcome = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		at, outcome, id)
	return err
}

// DeleteSubscription removes a subscription (user cancel or purge)
func (q *Queries) DeleteSubscription(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

// scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeFrom(s rowScanner) (Node, error) {
	var n Node
	err := s.Scan(
		&n.ID, &n.Name, &n.IP, &n.SSHUser, &n.SSHPort, &n.SSHPassword, &n.SSHKeyPath,
		&n.Location, &n.Provider, &n.MaxClients, &n.CurrentClients, &n.Status,
		&n.FailureReason, &n.CreatedAt, &n.UpdatedAt,
	)
	return n, err
}

func scanNode(row *sql.Row) (Node, error)       { return scanNodeFrom(row) }
func scanNodeRows(rows *sql.Rows) (Node, error) { return scanNodeFrom(rows) }

func scanSubscriptionFrom(s rowScanner) (Subscription, error) {
	var sub Subscription
	err := s.Scan(
		&sub.ID, &sub.UserID, &sub.NodeID, &sub.ClientID, &sub.PlanPeriodDays, &sub.PriceCents,
		&sub.ExpiresAt, &sub.Status, &sub.AutoRenew, &sub.LastReminderAt, &sub.LastRenewalAt,
		&sub.LastRenewalOutcome, &sub.CreatedAt, &sub.UpdatedAt,
	)
	return sub, err
}

func scanSubscription(row *sql.Row) (Subscription, error) { return scanSubscriptionFrom(row) }

func collectSubscriptions(rows *sql.Rows) ([]Subscription, error) {
	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscriptionFrom(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
