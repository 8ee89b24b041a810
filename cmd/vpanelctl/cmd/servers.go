package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List registered VPN servers",
	Run: func(cmd *cobra.Command, args []string) {
		apiClient := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := apiClient.ListServers(ctx)
		if err != nil {
			fatal("Failed to list servers: %v", err)
		}

		if resp.TotalCount == 0 {
			fmt.Println("No servers registered.")
			return
		}

		fmt.Printf("%-36s  %-15s  %-15s  %-12s  %s\n", "ID", "NAME", "IP", "STATUS", "CLIENTS")
		for _, srv := range resp.Servers {
			fmt.Printf("%-36s  %-15s  %-15s  %-12s  %d/%d\n",
				srv.ID, srv.Name, srv.IP, srv.Status, srv.CurrentClients, srv.MaxClients)
		}
	},
}
