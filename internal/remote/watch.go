package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Watch streams change notifications for the given rooms. The connection is
// re-established with exponential backoff until ctx is done, at which point
// the channel is closed. Every reconnect is announced with a ChangeResync.
func (c *Client) Watch(ctx context.Context, roomIDs []string) <-chan Change {
	out := make(chan Change, 64)
	go func() {
		defer close(out)

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = 0

		dialed := false
		op := func() error {
			err := c.watchOnce(ctx, roomIDs, out, dialed, func() {
				b.Reset()
				dialed = true
			})
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Debug("watch disconnected", zap.Error(err))
			return err
		}
		_ = backoff.Retry(op, backoff.WithContext(b, ctx))
	}()
	return out
}

func (c *Client) watchOnce(ctx context.Context, roomIDs []string, out chan<- Change, reconnect bool, connected func()) error {
	wsURL, err := c.watchURL(roomIDs)
	if err != nil {
		return err
	}

	opts := &websocket.DialOptions{HTTPClient: c.wsHTTPClient()}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return errors.Wrap(err, "websocket dial")
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	connected()
	if reconnect {
		c.logger.Debug("watch reconnected", zap.Int("rooms", len(roomIDs)))
		select {
		case out <- Change{Kind: ChangeResync}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		var change Change
		if err := wsjson.Read(ctx, conn, &change); err != nil {
			return errors.Wrap(err, "websocket read")
		}
		select {
		case out <- change:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) watchURL(roomIDs []string) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", errors.Wrap(err, "parse watch url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"room": roomIDs}.Encode()
	return u.String(), nil
}

// wsHTTPClient strips the overall request timeout, which would otherwise cut
// a long-lived connection.
func (c *Client) wsHTTPClient() *http.Client {
	hc := *c.httpClient
	hc.Timeout = 0
	return &hc
}
