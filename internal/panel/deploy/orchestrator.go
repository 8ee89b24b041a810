package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vpanel/core/internal/panel/config"
	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/registry"
	"github.com/vpanel/core/internal/panel/sshx"
	apperrors "github.com/vpanel/core/pkg/errors"
	"github.com/vpanel/core/pkg/events"
	applogger "github.com/vpanel/core/pkg/logger"
)

// Orchestrator runs provisioning pipelines. Each deployment is an
// independent goroutine paired with a watchdog that enforces the wall-clock
// deadline regardless of pipeline progress.
type Orchestrator struct {
	tracker  *Tracker
	registry *registry.Registry
	runner   sshx.Runner
	bus      events.EventBus
	logger   *applogger.Logger
	cfg      config.DeployConfig
}

// NewOrchestrator creates a provisioning orchestrator
func NewOrchestrator(
	tracker *Tracker,
	reg *registry.Registry,
	runner sshx.Runner,
	bus events.EventBus,
	logger *applogger.Logger,
	cfg config.DeployConfig,
) *Orchestrator {
	return &Orchestrator{
		tracker:  tracker,
		registry: reg,
		runner:   runner,
		bus:      bus,
		logger:   logger.WithComponent("deploy.orchestrator"),
		cfg:      cfg,
	}
}

// StartDeployment creates a deployment job for the node and launches its
// pipeline in the background. Returns the job id immediately; progress is
// observed through the tracker.
func (o *Orchestrator) StartDeployment(ctx context.Context, node db.Node) string {
	jobID := o.tracker.Create(node.ID)

	o.publish(ctx, events.EventDeployRequested, map[string]any{
		"deployment_id": jobID,
		"node_id":       node.ID,
		"ip":            node.IP,
	})

	// The pipeline outlives the originating HTTP request, so it runs on a
	// fresh context bounded only by the deployment deadline.
	done := make(chan struct{})
	go o.runPipeline(jobID, node, done)
	go o.watchdog(jobID, node.ID, done)

	o.logger.InfoContext(ctx, "deployment started",
		slog.String("deployment_id", jobID),
		slog.String("node_id", node.ID),
		slog.String("ip", node.IP))

	return jobID
}

func (o *Orchestrator) runPipeline(jobID string, node db.Node, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Deadline)
	defer cancel()
	ctx = applogger.WithDeploymentID(applogger.WithNodeID(ctx, node.ID), jobID)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("pipeline panic: %v", r)
			o.logger.ErrorCtx(ctx, "deployment pipeline panicked",
				apperrors.NewDeployError(apperrors.ErrCodeInternal, msg, false, nil))
			o.failDeployment(ctx, jobID, node.ID, msg)
		}
	}()

	target := registry.SSHTarget(node)
	op := o.logger.StartOp(ctx, "deploy").With(
		slog.String("deployment_id", jobID),
		slog.String("node_id", node.ID))

	for _, stage := range workStages {
		if err := o.tracker.Advance(jobID, stage); err != nil {
			op.Fail(err, "stage transition rejected")
			return
		}
		_ = o.tracker.AppendLog(jobID, fmt.Sprintf("=== stage %s ===", stage))
		o.publish(ctx, events.EventDeployProgress, map[string]any{
			"deployment_id": jobID,
			"node_id":       node.ID,
			"stage":         string(stage),
		})

		if err := o.runStage(ctx, jobID, target, stage); err != nil {
			o.failDeployment(ctx, jobID, node.ID, err.Error())
			op.Fail(err, "deployment failed", slog.String("stage", string(stage)))
			return
		}
	}

	if err := o.tracker.Complete(jobID); err != nil {
		op.Fail(err, "failed to mark deployment complete")
		return
	}
	if err := o.registry.MarkActive(ctx, node.ID); err != nil {
		o.logger.ErrorCtx(ctx, "failed to mark node active after deployment", err,
			slog.String("node_id", node.ID))
	}
	o.publish(ctx, events.EventDeployCompleted, map[string]any{
		"deployment_id": jobID,
		"node_id":       node.ID,
		"ip":            node.IP,
	})
	op.Complete("deployment finished")
}

// runStage executes the stage's command sequence. A connection error or a
// non-zero exit aborts the stage; remaining commands are skipped.
func (o *Orchestrator) runStage(ctx context.Context, jobID string, target sshx.Target, stage Stage) error {
	stageCtx := ctx
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}

	for _, cmd := range stageCommands(stage, o.cfg.XrayImage, o.cfg.XrayConfigPath) {
		result, err := o.runner.Run(stageCtx, target, cmd)
		if result.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(result.Output, "\n"), "\n") {
				_ = o.tracker.AppendLog(jobID, line)
			}
		}
		if err != nil {
			return apperrors.NewDeployError(apperrors.ErrCodeSSHConnection,
				fmt.Sprintf("stage %s: %v", stage, err), true, err)
		}
		if result.ExitCode != 0 {
			return apperrors.NewDeployError(apperrors.ErrCodeSSHCommand,
				fmt.Sprintf("stage %s: command exited with code %d", stage, result.ExitCode), false, nil)
		}
	}
	return nil
}

// watchdog forces the job to failed when the deadline elapses before the
// pipeline reports a terminal stage. It is the authority on timeouts; a hung
// remote command cannot block deployment visibility.
func (o *Orchestrator) watchdog(jobID, nodeID string, done <-chan struct{}) {
	timer := time.NewTimer(o.cfg.Deadline)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	snap, err := o.tracker.Get(jobID)
	if err != nil || snap.Stage.IsTerminal() {
		return
	}

	ctx := context.Background()
	msg := fmt.Sprintf("deployment did not finish within %s (last stage: %s)", o.cfg.Deadline, snap.Stage)
	o.logger.WarnContext(ctx, "deployment watchdog fired",
		slog.String("deployment_id", jobID),
		slog.String("node_id", nodeID),
		slog.String("stage", string(snap.Stage)))
	o.failDeployment(ctx, jobID, nodeID, msg)
}

func (o *Orchestrator) failDeployment(ctx context.Context, jobID, nodeID, reason string) {
	if err := o.tracker.Fail(jobID, reason); err != nil {
		o.logger.ErrorCtx(ctx, "failed to record deployment failure", err,
			slog.String("deployment_id", jobID))
	}
	if err := o.registry.MarkFailed(ctx, nodeID, reason); err != nil {
		o.logger.ErrorCtx(ctx, "failed to mark node failed", err,
			slog.String("node_id", nodeID))
	}
	o.publish(ctx, events.EventDeployFailed, map[string]any{
		"deployment_id": jobID,
		"node_id":       nodeID,
		"error":         reason,
	})
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, metadata map[string]any) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, events.NewBaseEvent(eventType, metadata)); err != nil {
		o.logger.WarnContext(ctx, "failed to publish event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

// Status returns the current snapshot for a deployment job
func (o *Orchestrator) Status(jobID string) (JobSnapshot, error) {
	return o.tracker.Get(jobID)
}
