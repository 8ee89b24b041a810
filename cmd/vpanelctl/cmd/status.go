package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpanel/core/internal/ctl/client"
	pkgapi "github.com/vpanel/core/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status <deployment-id>",
	Short: "Show deployment progress",
	Long: `Show the current stage and logs of a deployment job.

Finished jobs are purged server-side after a retention window, so a missing
job is reported as such rather than treated as a failure.

Examples:
  # One-shot status
  vpanelctl status 6a1f...

  # Follow until the deployment finishes
  vpanelctl status 6a1f... --watch`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		deploymentID := args[0]
		watch, _ := cmd.Flags().GetBool("watch")
		waitTimeout, _ := cmd.Flags().GetDuration("wait-timeout")

		apiClient := newClient()

		if watch {
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()

			result, err := apiClient.WaitForDeployment(ctx, deploymentID, 3*time.Second)
			if err != nil {
				fatal("Stopped waiting: %v", err)
			}
			if result.Expired {
				fmt.Printf("Deployment %s no longer exists (purged or unknown).\n", deploymentID)
				return
			}
			printStatus(result.Status)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := apiClient.DeploymentStatus(ctx, deploymentID)
		if err != nil {
			if client.IsNotFound(err) {
				fmt.Printf("Deployment %s no longer exists (purged or unknown).\n", deploymentID)
				return
			}
			fatal("Failed to get deployment status: %v", err)
		}
		printStatus(status)
	},
}

func init() {
	statusCmd.Flags().Bool("watch", false, "Poll until the deployment reaches a terminal status")
	statusCmd.Flags().Duration("wait-timeout", 35*time.Minute, "How long to watch before giving up")
}

func printStatus(status pkgapi.DeploymentStatusResponse) {
	fmt.Printf("Deployment Status\n")
	fmt.Printf("=================\n")
	fmt.Printf("  Status:    %s\n", status.Status)
	fmt.Printf("  Server ID: %s\n", status.ServerID)
	fmt.Printf("  Started:   %s\n", status.StartedAt.Format(time.RFC1123))
	if status.Error != "" {
		fmt.Printf("  Error:     %s\n", status.Error)
	}
	if len(status.Logs) > 0 {
		fmt.Printf("\nLogs:\n")
		for _, line := range status.Logs {
			fmt.Printf("  %s\n", line)
		}
	}
}
