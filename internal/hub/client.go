package hub

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/neohum/quick-share/internal/domain"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan []byte

	// roomCode 和 userName 由 hub.roomsMu 保护
	roomCode string
	userName string

	lastSeen atomic.Int64 // unix 毫秒
	limiter  *rate.Limiter
}

// NewClient 创建一个新的 Client 实例，分配随机 ID
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	limit := rate.Inf
	burst := 0
	if hub.messagesPerSecond > 0 {
		limit = rate.Limit(hub.messagesPerSecond)
		burst = int(hub.messagesPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	c := &Client{
		hub:     hub,
		conn:    conn,
		id:      uuid.NewString(),
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(limit, burst),
	}
	c.touch()
	return c
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 读取客户端事件并交给 Hub 处理，在自己的 goroutine 中运行。
// 同一客户端的事件按到达顺序处理。
func (c *Client) ReadPump() {
	logCtx := logrus.WithField("client_id", c.id)
	defer func() {
		select {
		case c.hub.messageChan <- HubMessage{Type: "unregister", Client: c}:
		case <-c.hub.done:
		case <-time.After(1 * time.Second):
			logCtx.Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		logCtx.Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Received non-text message type: %d", messageType)
			continue
		}
		if !c.limiter.Allow() {
			logCtx.Warn("Client exceeded message rate, dropping message")
			continue
		}
		c.hub.handleInbound(c, message)
	}
}

// WritePump 将 send 通道中的消息写到 WebSocket 连接，在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	logCtx := logrus.WithField("client_id", c.id)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了 send 通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// ID 返回客户端 ID，上传时作为 socketId 回传
func (c *Client) ID() string { return c.id }

// RoomCode 返回当前所在房间，未加入时为空
func (c *Client) RoomCode() string {
	c.hub.roomsMu.RLock()
	defer c.hub.roomsMu.RUnlock()
	return c.roomCode
}

// LastSeen 返回最近一次心跳或加入房间的时间
func (c *Client) LastSeen() time.Time {
	return time.UnixMilli(c.lastSeen.Load())
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixMilli())
}

// sendEvent 只发给该客户端
func (c *Client) sendEvent(event string, payload interface{}) {
	msg, err := domain.EncodeEvent(event, payload)
	if err != nil {
		logrus.WithField("client_id", c.id).WithError(err).Error("Failed to marshal event for client")
		return
	}
	c.enqueue(msg)
}

func (c *Client) sendError(message string) {
	c.sendEvent(domain.EventError, map[string]string{"message": message})
}

// enqueue 在读锁内发送，客户端已注销时直接丢弃
func (c *Client) enqueue(msg []byte) bool {
	c.hub.roomsMu.RLock()
	defer c.hub.roomsMu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		logrus.WithField("client_id", c.id).Warn("Client send channel full, message dropped")
		return false
	}
}
