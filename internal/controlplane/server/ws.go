package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/betbot/bothost/internal/logstream"
	"github.com/betbot/bothost/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxInbound = 4 << 10
)

// wsClient 一个 websocket 连接；实现 logstream.Observer。
// Deliver 只往缓冲 channel 投递，缓冲满说明客户端读得太慢，直接断开。
type wsClient struct {
	conn *websocket.Conn
	send chan logstream.Message

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan logstream.Message, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) Deliver(m logstream.Message) {
	select {
	case <-c.done:
	case c.send <- m:
	default:
		log.Warnf("websocket client too slow, dropping connection: remote=%s", c.conn.RemoteAddr())
		c.close()
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	c := newWSClient(conn, s.cfg.WSSendBuffer)
	s.hub.Register(c)
	metrics.WSClients.Add(1)
	log.Debugf("websocket connected: remote=%s clients=%d", conn.RemoteAddr(), s.hub.Count())

	go c.writeLoop()
	c.readLoop(s.hub)

	s.hub.Unregister(c)
	metrics.WSClients.Add(-1)
	c.close()
	log.Debugf("websocket disconnected: remote=%s", conn.RemoteAddr())
}

// readLoop 处理 subscribe/unsubscribe，直到连接出错
func (c *wsClient) readLoop(hub *logstream.Hub) {
	c.conn.SetReadLimit(wsMaxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("websocket read error: %v", err)
			}
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			log.Debugf("websocket message ignored: %v", err)
			continue
		}
		if in.BotID == "" {
			continue
		}
		switch in.Type {
		case "subscribe":
			hub.Subscribe(c, in.BotID)
		case "unsubscribe":
			hub.Unsubscribe(c, in.BotID)
		}
	}
}

// writeLoop 是唯一写连接的 goroutine；done 关闭后关闭底层连接，readLoop 随之退出
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
