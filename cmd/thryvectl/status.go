package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/api"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/client"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/lock"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/profile"
	"github.com/spf13/cobra"
)

func init() {
	netCmd.AddCommand(netOnlineCmd, netOfflineCmd)
	rootCmd.AddCommand(statusCmd, netCmd, profilesCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Status.GetStatus(ctx, &api.GetStatusRequest{})
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			network := resp.Network
			if resp.ForcedOffline {
				network += " (forced)"
			}
			fmt.Printf("Profile:    %s\n", resp.Profile)
			fmt.Printf("Network:    %s since %s\n", network, formatMillis(resp.NetworkChangedAtUnixMs))
			fmt.Printf("Pending:    %d\n", resp.PendingCount)
			fmt.Printf("Draining:   %t\n", resp.Draining)
			fmt.Printf("Last drain: %s (synced %d, failed %d)\n",
				formatMillis(resp.LastDrainAtUnixMs), resp.LastDrainSynced, resp.LastDrainFailed)
			fmt.Printf("Uptime:     %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
			return nil
		})
	},
}

var netCmd = &cobra.Command{
	Use:   "net",
	Short: "Force the daemon offline or return it to probing",
}

var netOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Clear the offline override",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setNetwork(false)
	},
}

var netOfflineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Force the daemon offline; new messages are queued",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setNetwork(true)
	},
}

func setNetwork(offline bool) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		resp, err := c.Status.SetNetwork(ctx, &api.SetNetworkRequest{Offline: offline})
		if err != nil {
			return err
		}
		if flagJSON {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Network: %s\n", resp.Network)
		return nil
	})
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List known profiles and whether a daemon holds them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		type row struct {
			Name    string `json:"name"`
			Running bool   `json:"running"`
			PID     int    `json:"pid,omitempty"`
		}
		rows := make([]row, 0, len(names))
		for _, n := range names {
			r := row{Name: n}
			if held, ok := lock.Inspect(profile.Dir(n)); ok {
				r.Running, r.PID = true, held.PID
			}
			rows = append(rows, r)
		}
		if flagJSON {
			outputJSON(rows)
			return nil
		}
		if len(rows) == 0 {
			fmt.Println("No profiles.")
			return nil
		}
		for _, r := range rows {
			state := "stopped"
			if r.Running {
				state = fmt.Sprintf("running (pid %d)", r.PID)
			}
			fmt.Printf("%-16s %s\n", r.Name, state)
		}
		return nil
	},
}
