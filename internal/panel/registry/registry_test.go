package registry

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpanel/core/internal/panel/db"
	apperrors "github.com/vpanel/core/pkg/errors"
	applogger "github.com/vpanel/core/pkg/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	store, err := db.NewStoreFromDB(conn)
	require.NoError(t, err)

	return New(store, applogger.NewDevelopment("test"))
}

func validSpec() NodeSpec {
	return NodeSpec{
		Name:        "node-1",
		IP:          "203.0.113.10",
		SSHUser:     "root",
		SSHPort:     22,
		SSHPassword: "secret",
		MaxClients:  2,
	}
}

func TestRegisterNode(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.RegisterNode(ctx, validSpec())
	require.NoError(t, err)

	assert.NotEmpty(t, node.ID)
	assert.Equal(t, db.NodeStatusProvisioning, node.Status)
	assert.Equal(t, 0, node.CurrentClients)
	assert.Equal(t, 2, node.MaxClients)
}

func TestRegisterNodeDuplicateHost(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterNode(ctx, validSpec())
	require.NoError(t, err)

	spec := validSpec()
	spec.Name = "node-2"
	_, err = r.RegisterNode(ctx, spec)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateHost))
}

func TestRegisterNodeValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*NodeSpec)
	}{
		{"missing name", func(s *NodeSpec) { s.Name = "" }},
		{"missing ip", func(s *NodeSpec) { s.IP = "" }},
		{"malformed ip", func(s *NodeSpec) { s.IP = "not-an-ip" }},
		{"missing ssh user", func(s *NodeSpec) { s.SSHUser = "" }},
		{"port too low", func(s *NodeSpec) { s.SSHPort = 0 }},
		{"port too high", func(s *NodeSpec) { s.SSHPort = 70000 }},
		{"no credentials", func(s *NodeSpec) { s.SSHPassword = ""; s.SSHKeyPath = "" }},
		{"zero capacity", func(s *NodeSpec) { s.MaxClients = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			_, err := r.RegisterNode(ctx, spec)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		})
	}
}

func TestReserveSlotUntilFull(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.RegisterNode(ctx, validSpec())
	require.NoError(t, err)

	require.NoError(t, r.ReserveSlot(ctx, node.ID))
	require.NoError(t, r.ReserveSlot(ctx, node.ID))

	err = r.ReserveSlot(ctx, node.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCapacityExceeded))

	got, err := r.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentClients)
}

// newFileRegistry uses a file-backed database so concurrent writers hit
// real sqlite contention instead of a single shared connection.
func newFileRegistry(t *testing.T) *Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "registry.db")
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store, err := db.NewStoreFromDB(conn)
	require.NoError(t, err)

	return New(store, applogger.NewDevelopment("test"))
}

func TestReserveSlotConcurrentLastSlot(t *testing.T) {
	r := newFileRegistry(t)
	ctx := context.Background()

	spec := validSpec()
	spec.MaxClients = 3
	node, err := r.RegisterNode(ctx, spec)
	require.NoError(t, err)

	// Fill all but the last slot
	require.NoError(t, r.ReserveSlot(ctx, node.ID))
	require.NoError(t, r.ReserveSlot(ctx, node.ID))

	const contenders = 8
	start := make(chan struct{})
	results := make(chan error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- r.ReserveSlot(ctx, node.ID)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var wins, capacityErrs int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.True(t, apperrors.HasCode(err, apperrors.ErrCodeCapacityExceeded),
			"unexpected error: %v", err)
		capacityErrs++
	}

	assert.Equal(t, 1, wins, "exactly one contender should win the last slot")
	assert.Equal(t, contenders-1, capacityErrs)

	got, err := r.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentClients)
}

func TestReserveSlotUnknownNode(t *testing.T) {
	r := newTestRegistry(t)

	err := r.ReserveSlot(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNodeNotFound))
}

func TestReleaseSlotNeverUnderflows(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.RegisterNode(ctx, validSpec())
	require.NoError(t, err)

	require.NoError(t, r.ReserveSlot(ctx, node.ID))
	require.NoError(t, r.ReleaseSlot(ctx, node.ID))

	// Releasing again with zero clients is tolerated, count stays at zero.
	require.NoError(t, r.ReleaseSlot(ctx, node.ID))

	got, err := r.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentClients)
}

func TestStatusTransitions(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.RegisterNode(ctx, validSpec())
	require.NoError(t, err)

	require.NoError(t, r.MarkActive(ctx, node.ID))
	got, err := r.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, db.NodeStatusActive, got.Status)

	require.NoError(t, r.MarkFailed(ctx, node.ID, "docker install failed"))
	got, err = r.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, db.NodeStatusFailed, got.Status)
	assert.Equal(t, "docker install failed", got.FailureReason.String)

	require.NoError(t, r.SetEnabled(ctx, node.ID, false))
	got, err = r.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, db.NodeStatusDisabled, got.Status)
}

func TestListNodes(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		spec := validSpec()
		spec.Name = fmt.Sprintf("node-%d", i)
		spec.IP = fmt.Sprintf("203.0.113.%d", 10+i)
		_, err := r.RegisterNode(ctx, spec)
		require.NoError(t, err)
	}

	nodes, err := r.ListNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}
