package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pkgapi "github.com/vpanel/core/pkg/api"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new VPN server",
	Long: `Deploy a new VPN server either onto an existing host or onto a
freshly created cloud server.

Examples:
  # Provision an existing host over SSH
  vpanelctl deploy --name berlin-1 --ip 203.0.113.10 --ssh-user root --ssh-password secret

  # Create a Hetzner server first, then provision it
  vpanelctl deploy --name berlin-2 --provider hetzner --ssh-user root --ssh-key ~/.ssh/id_ed25519

  # Fire and forget, poll later with "vpanelctl status"
  vpanelctl deploy --name berlin-3 --ip 203.0.113.11 --ssh-user root --ssh-password secret --no-wait`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		ip, _ := cmd.Flags().GetString("ip")
		sshUser, _ := cmd.Flags().GetString("ssh-user")
		sshPort, _ := cmd.Flags().GetInt("ssh-port")
		sshPassword, _ := cmd.Flags().GetString("ssh-password")
		sshKey, _ := cmd.Flags().GetString("ssh-key")
		location, _ := cmd.Flags().GetString("location")
		providerName, _ := cmd.Flags().GetString("provider")
		maxClients, _ := cmd.Flags().GetInt("max-clients")
		noWait, _ := cmd.Flags().GetBool("no-wait")
		waitTimeout, _ := cmd.Flags().GetDuration("wait-timeout")

		req := pkgapi.DeployServerRequest{
			Name:        name,
			IP:          ip,
			SSHUsername: sshUser,
			SSHPort:     sshPort,
			MaxClients:  maxClients,
		}
		if sshPassword != "" {
			req.SSHPassword = &sshPassword
		}
		if sshKey != "" {
			req.SSHKeyPath = &sshKey
		}
		if location != "" {
			req.Location = &location
		}
		if providerName != "" {
			req.Provider = &providerName
		}

		apiClient := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		resp, err := apiClient.DeployServer(ctx, req)
		cancel()
		if err != nil {
			fatal("Deployment request failed: %v", err)
		}

		fmt.Printf("Deployment started\n")
		fmt.Printf("  Deployment ID: %s\n", resp.DeploymentID)
		fmt.Printf("  Server ID:     %s\n", resp.ServerID)

		if noWait {
			fmt.Printf("\nPoll progress with: vpanelctl status %s\n", resp.DeploymentID)
			return
		}

		fmt.Printf("\nWaiting for deployment to finish (up to %s)...\n", waitTimeout)
		waitCtx, cancelWait := context.WithTimeout(context.Background(), waitTimeout)
		defer cancelWait()

		result, err := apiClient.WaitForDeployment(waitCtx, resp.DeploymentID, 3*time.Second)
		if err != nil {
			fatal("Stopped waiting: %v (the deployment keeps running server-side)", err)
		}
		if result.Expired {
			fmt.Printf("Deployment record already purged server-side; check the server list.\n")
			return
		}

		printStatus(result.Status)
		if result.Status.Status == "failed" {
			fatal("Deployment failed")
		}
	},
}

func init() {
	deployCmd.Flags().String("name", "", "Server name (required)")
	deployCmd.Flags().String("ip", "", "Host address of an existing server")
	deployCmd.Flags().String("ssh-user", "root", "SSH username")
	deployCmd.Flags().Int("ssh-port", 22, "SSH port")
	deployCmd.Flags().String("ssh-password", "", "SSH password")
	deployCmd.Flags().String("ssh-key", "", "Path to SSH private key")
	deployCmd.Flags().String("location", "", "Datacenter location label")
	deployCmd.Flags().String("provider", "", "Cloud provider for server creation (e.g. hetzner)")
	deployCmd.Flags().Int("max-clients", 0, "Client capacity (0 uses the server default)")
	deployCmd.Flags().Bool("no-wait", false, "Return immediately after the deployment is accepted")
	deployCmd.Flags().Duration("wait-timeout", 35*time.Minute, "How long to watch before giving up")
	_ = deployCmd.MarkFlagRequired("name")
}
