package deploy

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpanel/core/internal/panel/config"
	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/registry"
	"github.com/vpanel/core/internal/panel/sshx"
	applogger "github.com/vpanel/core/pkg/logger"
)

// fakeRunner scripts remote command outcomes per substring match
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   string // substring; matching command exits non-zero
	errOn    string // substring; matching command returns a transport error
	block    bool   // hang every command until the context is cancelled
}

func (f *fakeRunner) Run(ctx context.Context, target sshx.Target, command string) (sshx.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return sshx.Result{}, ctx.Err()
	}
	if f.errOn != "" && strings.Contains(command, f.errOn) {
		return sshx.Result{Output: "partial transfer\n"}, errors.New("connection reset by peer")
	}
	if f.failOn != "" && strings.Contains(command, f.failOn) {
		return sshx.Result{ExitCode: 1, Output: "command failed\n"}, nil
	}
	return sshx.Result{ExitCode: 0, Output: "ok\n"}, nil
}

func (f *fakeRunner) ran(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func testDeployConfig() config.DeployConfig {
	return config.DeployConfig{
		Deadline:       5 * time.Second,
		JobRetention:   time.Hour,
		StageTimeout:   time.Second,
		XrayImage:      "teddysun/xray:latest",
		XrayConfigPath: "/etc/xray",
	}
}

func newTestOrchestrator(t *testing.T, runner sshx.Runner, cfg config.DeployConfig) (*Orchestrator, *registry.Registry) {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	store, err := db.NewStoreFromDB(conn)
	require.NoError(t, err)

	logger := applogger.NewDevelopment("test")
	reg := registry.New(store, logger)
	tracker := NewTracker(cfg.JobRetention)
	return NewOrchestrator(tracker, reg, runner, nil, logger, cfg), reg
}

func registerTestNode(t *testing.T, reg *registry.Registry) db.Node {
	t.Helper()
	node, err := reg.RegisterNode(context.Background(), registry.NodeSpec{
		Name:        "node-1",
		IP:          "203.0.113.10",
		SSHUser:     "root",
		SSHPort:     22,
		SSHPassword: "secret",
		MaxClients:  5,
	})
	require.NoError(t, err)
	return node
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID string) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.Status(jobID)
		require.NoError(t, err)
		if snap.Stage.IsTerminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("deployment did not reach a terminal stage in time")
	return JobSnapshot{}
}

func TestDeploymentCompletes(t *testing.T) {
	runner := &fakeRunner{}
	o, reg := newTestOrchestrator(t, runner, testDeployConfig())
	node := registerTestNode(t, reg)

	jobID := o.StartDeployment(context.Background(), node)
	snap := waitTerminal(t, o, jobID)

	assert.Equal(t, StageCompleted, snap.Stage)
	assert.Empty(t, snap.Error)
	assert.True(t, runner.ran("get.docker.com"))
	assert.True(t, runner.ran("docker pull"))
	assert.True(t, runner.ran("docker run"))

	got, err := reg.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, db.NodeStatusActive, got.Status)
}

func TestDeploymentFailsOnCommandError(t *testing.T) {
	runner := &fakeRunner{failOn: "docker pull"}
	o, reg := newTestOrchestrator(t, runner, testDeployConfig())
	node := registerTestNode(t, reg)

	jobID := o.StartDeployment(context.Background(), node)
	snap := waitTerminal(t, o, jobID)

	assert.Equal(t, StageFailed, snap.Stage)
	assert.Contains(t, snap.Error, "pulling_image")

	// remaining stages were never attempted
	assert.False(t, runner.ran("docker run"))

	got, err := reg.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, db.NodeStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason.String, "pulling_image")
}

func TestDeploymentFailsOnTransportError(t *testing.T) {
	runner := &fakeRunner{errOn: "get.docker.com"}
	o, reg := newTestOrchestrator(t, runner, testDeployConfig())
	node := registerTestNode(t, reg)

	jobID := o.StartDeployment(context.Background(), node)
	snap := waitTerminal(t, o, jobID)

	assert.Equal(t, StageFailed, snap.Stage)
	assert.Contains(t, snap.Error, "installing_docker")
	assert.False(t, runner.ran("docker pull"))

	// output captured before the connection dropped survives into the job logs
	assert.Contains(t, snap.Logs, "partial transfer")
}

func TestWatchdogEnforcesDeadline(t *testing.T) {
	cfg := testDeployConfig()
	cfg.Deadline = 50 * time.Millisecond
	cfg.StageTimeout = 10 * time.Second

	runner := &fakeRunner{block: true}
	o, reg := newTestOrchestrator(t, runner, cfg)
	node := registerTestNode(t, reg)

	jobID := o.StartDeployment(context.Background(), node)
	snap := waitTerminal(t, o, jobID)

	assert.Equal(t, StageFailed, snap.Stage)
	assert.Contains(t, snap.Error, "did not finish")

	got, err := reg.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, db.NodeStatusFailed, got.Status)
}

func TestStageSequenceIsPrefixOfPipeline(t *testing.T) {
	runner := &fakeRunner{}
	o, reg := newTestOrchestrator(t, runner, testDeployConfig())
	node := registerTestNode(t, reg)

	jobID := o.StartDeployment(context.Background(), node)

	seen := map[Stage]bool{}
	var sequence []Stage
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.Status(jobID)
		require.NoError(t, err)
		if !seen[snap.Stage] {
			seen[snap.Stage] = true
			sequence = append(sequence, snap.Stage)
		}
		if snap.Stage.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// every observed stage appears at its pipeline position
	for i := 1; i < len(sequence); i++ {
		prevIdx := indexOf(sequence[i-1])
		curIdx := indexOf(sequence[i])
		assert.Greater(t, curIdx, prevIdx, "observed %v before %v", sequence[i-1], sequence[i])
	}
}

func indexOf(s Stage) int {
	for i, stage := range pipelineOrder {
		if stage == s {
			return i
		}
	}
	return -1
}
