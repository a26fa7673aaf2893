package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/api"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/client"
	"github.com/spf13/cobra"
)

var (
	signalUser  string
	typingName  string
	readUntil   int64
	unreadSince int64
	unreadWatch bool
)

func init() {
	typingCmd.PersistentFlags().StringVar(&signalUser, "user", "", "user id (required)")
	typingSetCmd.Flags().StringVar(&typingName, "name", "", "display name shown to other users")
	typingCmd.AddCommand(typingSetCmd, typingClearCmd, typingWatchCmd)

	readCmd.Flags().StringVar(&signalUser, "user", "", "reader user id (required)")
	readAllCmd.Flags().StringVar(&signalUser, "user", "", "reader user id (required)")
	readAllCmd.Flags().Int64Var(&readUntil, "until", 0, "timestamp (ms) of the newest message read")
	_ = readCmd.MarkFlagRequired("user")
	_ = readAllCmd.MarkFlagRequired("user")
	_ = readAllCmd.MarkFlagRequired("until")
	readCmd.AddCommand(readAllCmd)

	unreadCmd.Flags().StringVar(&signalUser, "user", "", "user id (required)")
	unreadCmd.Flags().Int64Var(&unreadSince, "since", 0, "last read timestamp (ms) for a one-off count")
	unreadCmd.Flags().BoolVar(&unreadWatch, "watch", false, "stream counts using the stored read cursors")
	_ = unreadCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(typingCmd, readCmd, unreadCmd)
}

var typingCmd = &cobra.Command{
	Use:   "typing",
	Short: "Broadcast or watch typing indicators",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if signalUser == "" {
			return errors.New("--user is required")
		}
		return nil
	},
}

var typingSetCmd = &cobra.Command{
	Use:   "set <room>",
	Short: "Mark the user as typing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Signal.SetTyping(ctx, &api.SetTypingRequest{RoomID: args[0], UserID: signalUser, UserName: typingName})
			return reportBestEffort(resp, err)
		})
	},
}

var typingClearCmd = &cobra.Command{
	Use:   "clear <room>",
	Short: "Clear the user's typing indicator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Signal.ClearTyping(ctx, &api.ClearTypingRequest{RoomID: args[0], UserID: signalUser})
			return reportBestEffort(resp, err)
		})
	},
}

var typingWatchCmd = &cobra.Command{
	Use:   "watch <room>",
	Short: "Show who else is typing until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return streamUntilInterrupt(func(ctx context.Context, c *client.Client) error {
			stream, err := c.Signal.WatchTyping(ctx, &api.WatchTypingRequest{RoomID: args[0], CurrentUserID: signalUser})
			if err != nil {
				return err
			}
			return recvLoop(ctx, stream.Recv, func(upd *api.TypingUpdate) {
				if flagJSON {
					outputJSON(upd)
					return
				}
				if len(upd.Typing) == 0 {
					fmt.Println("(nobody typing)")
					return
				}
				names := make([]string, 0, len(upd.Typing))
				for _, u := range upd.Typing {
					names = append(names, cmp.Or(u.UserName, u.UserID))
				}
				fmt.Printf("%s typing...\n", strings.Join(names, ", "))
			})
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <room> <message-id>",
	Short: "Record a read receipt for one message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Signal.MarkAsRead(ctx, &api.MarkAsReadRequest{RoomID: args[0], MessageID: args[1], UserID: signalUser})
			return reportBestEffort(resp, err)
		})
	},
}

var readAllCmd = &cobra.Command{
	Use:   "all <room>",
	Short: "Move the read cursor of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Signal.MarkAllAsRead(ctx, &api.MarkAllAsReadRequest{RoomID: args[0], UserID: signalUser, LastMessageTimestamp: readUntil})
			return reportBestEffort(resp, err)
		})
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <room>...",
	Short: "Count unread messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if unreadWatch {
			return streamUntilInterrupt(func(ctx context.Context, c *client.Client) error {
				stream, err := c.Signal.WatchUnreadCounts(ctx, &api.WatchUnreadCountsRequest{UserID: signalUser, RoomIDs: args})
				if err != nil {
					return err
				}
				return recvLoop(ctx, stream.Recv, func(upd *api.UnreadCounts) {
					if flagJSON {
						outputJSON(upd)
						return
					}
					rooms := make([]string, 0, len(upd.Counts))
					for r := range upd.Counts {
						rooms = append(rooms, r)
					}
					slices.Sort(rooms)
					parts := make([]string, 0, len(rooms))
					for _, r := range rooms {
						parts = append(parts, fmt.Sprintf("%s=%d", r, upd.Counts[r]))
					}
					fmt.Println(strings.Join(parts, " "))
				})
			})
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			counts := make(map[string]int, len(args))
			for _, room := range args {
				resp, err := c.Signal.GetUnreadCount(ctx, &api.GetUnreadCountRequest{RoomID: room, UserID: signalUser, LastReadTimestamp: unreadSince})
				if err != nil {
					return err
				}
				counts[room] = resp.Count
			}
			if flagJSON {
				outputJSON(counts)
				return nil
			}
			for _, room := range args {
				fmt.Printf("%s\t%d\n", room, counts[room])
			}
			return nil
		})
	},
}

func reportBestEffort(resp *api.BestEffortResponse, err error) error {
	if err != nil {
		return err
	}
	if flagJSON {
		outputJSON(resp)
		return nil
	}
	if resp.OK {
		fmt.Println("OK")
	} else {
		fmt.Printf("Ignored failure: %s\n", resp.Error)
	}
	return nil
}

func streamUntilInterrupt(fn func(ctx context.Context, c *client.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, c)
}

func recvLoop[T any](ctx context.Context, recv func() (*T, error), handle func(*T)) error {
	for {
		v, err := recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		handle(v)
	}
}
