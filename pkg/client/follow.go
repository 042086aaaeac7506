package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/betbot/bothost/internal/logstream"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Follow subscribes to the bot's log stream over /ws and calls fn for every message until
// ctx is done or the connection drops. The server sends the buffered backlog first.
func (c *Client) Follow(ctx context.Context, botID string, fn func(logstream.Message)) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial websocket")
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "botId": botID}); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	for {
		var m logstream.Message
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read websocket")
		}
		if m.Type != "log" || m.BotID != botID {
			continue
		}
		fn(m)
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
