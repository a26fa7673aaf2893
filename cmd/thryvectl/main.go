package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/client"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/profile"
	"github.com/spf13/cobra"
)

var (
	flagProfile string
	flagJSON    bool
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "thryvectl",
	Short:         "Control a running thryved daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "per-call timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the profile and dials its daemon.
func connect() (*client.Client, error) {
	name := profile.Resolve(flagProfile)
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, nil
}

// withClient runs fn with a connected client and a call deadline.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
