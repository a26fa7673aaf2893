package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/api"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/client"
	"github.com/spf13/cobra"
)

var (
	sendUser      string
	sendName      string
	sendAvatar    string
	sendImage     string
	sendReplyID   string
	sendReplyText string
	sendReplyFrom string
	watchNS       []string
)

func init() {
	sendCmd.Flags().StringVar(&sendUser, "user", "", "sender user id (required)")
	sendCmd.Flags().StringVar(&sendName, "name", "", "sender display name")
	sendCmd.Flags().StringVar(&sendAvatar, "avatar", "", "sender avatar URL")
	sendCmd.Flags().StringVar(&sendImage, "image", "", "path of an image to attach")
	sendCmd.Flags().StringVar(&sendReplyID, "reply-to", "", "id of the message being replied to")
	sendCmd.Flags().StringVar(&sendReplyText, "reply-text", "", "text of the message being replied to")
	sendCmd.Flags().StringVar(&sendReplyFrom, "reply-from", "", "author of the message being replied to")
	_ = sendCmd.MarkFlagRequired("user")

	watchCmd.Flags().StringSliceVar(&watchNS, "ns", nil, "event kind prefixes to watch (e.g. message.,sync.)")

	rootCmd.AddCommand(sendCmd, pendingCmd, retryCmd, discardCmd, syncCmd, watchCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <room> [message]",
	Short: "Send a message, queueing it when offline",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &api.SendMessageRequest{
			RoomID:    args[0],
			UserID:    sendUser,
			Users:     sendName,
			UserImage: sendAvatar,
		}
		if len(args) == 2 {
			req.Message = args[1]
		}
		if sendImage != "" {
			img, err := readImage(sendImage)
			if err != nil {
				return err
			}
			req.Image = img
		}
		if sendReplyID != "" {
			req.ReplyTo = &api.ReplyRef{ID: sendReplyID, Message: sendReplyText, Users: sendReplyFrom}
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Message.SendMessage(ctx, req)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			if resp.Delivered {
				fmt.Printf("Delivered %s\n", resp.ID)
			} else {
				fmt.Printf("Queued %s (will send when back online)\n", resp.ID)
			}
			return nil
		})
	},
}

func readImage(path string) (*api.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &api.Image{Data: data, MIMEType: mimeType, FileName: filepath.Base(path)}, nil
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Message.ListPending(ctx, &api.ListPendingRequest{})
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			if len(resp.Messages) == 0 {
				fmt.Println("No pending messages.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tROOM\tSTATUS\tRETRIES\tCOMPOSED\tPREVIEW")
			for _, m := range resp.Messages {
				preview := m.Preview
				if m.HasImage {
					preview = strings.TrimSpace("[image] " + preview)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					m.ID, m.RoomID, m.Status, m.RetryCount, formatMillis(m.ClientTimestamp), preview)
			}
			return w.Flush()
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Reset a failed message and sync immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Message.RetryMessage(ctx, &api.RetryMessageRequest{ID: args[0]})
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Synced %d, failed %d\n", resp.Synced, resp.Failed)
			return nil
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Drop a queued message without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if _, err := c.Message.DiscardMessage(ctx, &api.DiscardMessageRequest{ID: args[0]}); err != nil {
				return err
			}
			fmt.Printf("Discarded %s\n", args[0])
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending queue now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Message.SyncNow(ctx, &api.SyncNowRequest{})
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			if resp.Skipped {
				fmt.Println("Skipped: offline or a sync is already running.")
				return nil
			}
			fmt.Printf("Synced %d, failed %d\n", resp.Synced, resp.Failed)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		stream, err := c.Message.WatchEvents(ctx, &api.WatchEventsRequest{Namespaces: watchNS})
		if err != nil {
			return err
		}
		for {
			evt, err := stream.Recv()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			payload := evt.Payload.AsMap()
			if flagJSON {
				outputJSON(map[string]any{
					"kind":    evt.Kind,
					"at":      evt.OccurredAtUnixMs,
					"payload": payload,
				})
				continue
			}
			fmt.Printf("%s  %-24s %v\n", formatMillis(evt.OccurredAtUnixMs), evt.Kind, payload)
		}
	},
}
