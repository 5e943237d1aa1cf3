package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/domain"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// 校验房间时的超时
	validateTimeout = 5 * time.Second
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "qs_ws_connected_clients",
	Help: "Currently connected real-time clients.",
})

// RoomValidator 判断房间是否存活，不存在时返回错误
type RoomValidator func(ctx context.Context, code string) error

// Relay 把事件转发给其他进程。每个进程收到后通过 Hub.Deliver 在本地投递。
type Relay interface {
	Publish(ctx context.Context, roomCode string, message []byte) error
}

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Hub 维护活跃客户端集合，并按房间码分组广播事件。
// 每个客户端同一时刻只属于一个房间。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	stopOnce    sync.Once

	// clients 记录所有已注册的客户端；rooms 按房间码组织
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	// 保护 clients、rooms 以及 Client.roomCode
	roomsMu sync.RWMutex

	validate          RoomValidator
	relay             Relay
	messagesPerSecond float64
}

// NewHub 创建并返回一个新的 Hub 实例。
// messagesPerSecond 为每个连接允许的入站消息速率，<= 0 表示不限速。
func NewHub(validate RoomValidator, messagesPerSecond float64) *Hub {
	if validate == nil {
		panic("RoomValidator cannot be nil for Hub")
	}
	return &Hub{
		messageChan:       make(chan HubMessage, 512),
		done:              make(chan struct{}),
		clients:           make(map[*Client]bool),
		rooms:             make(map[string]map[*Client]bool),
		validate:          validate,
		messagesPerSecond: messagesPerSecond,
	}
}

// SetRelay 设置跨进程转发。必须在 Run 之前调用。
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.done:
			h.closeAll()
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 停止 Run 循环并关闭所有客户端
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register 同步注册一个新连接的客户端，保证之后读到的 joinRoom 能找到它。
// Hub 已停止时返回 false。
func (h *Hub) Register(client *Client) bool {
	return h.registerClient(client)
}

// Publish 把事件发送给房间内所有客户端，尽力而为。
// 配置了 Relay 时经由 Relay 投递，Relay 失败则退回本地投递。
func (h *Hub) Publish(roomCode, event string, payload interface{}) {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": roomCode, "event": event})
	message, err := domain.EncodeEvent(event, payload)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal event for broadcast")
		return
	}
	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err := h.relay.Publish(ctx, roomCode, message)
		if err == nil {
			return
		}
		logCtx.WithError(err).Warn("Relay publish failed, delivering locally")
	}
	h.Deliver(roomCode, message)
}

// Deliver 将已编码的消息发送给本进程中该房间的所有客户端
func (h *Hub) Deliver(roomCode string, message []byte) {
	h.broadcast(roomCode, message, nil)
}

// RoomSize 返回房间内本地客户端数
func (h *Hub) RoomSize(roomCode string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomCode])
}

// registerClient 在写锁内检查 done：closeAll 同样持有写锁，
// 所以客户端要么被 closeAll 关闭，要么在这里被拒绝
func (h *Hub) registerClient(client *Client) bool {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return false
	}
	h.roomsMu.Lock()
	select {
	case <-h.done:
		h.roomsMu.Unlock()
		logrus.WithField("client_id", client.ID()).Debug("Hub stopped, rejecting client")
		return false
	default:
	}
	h.clients[client] = true
	h.roomsMu.Unlock()
	connectedClients.Inc()
	logrus.WithField("client_id", client.ID()).Info("Client registered to Hub")
	return true
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"client_id": client.ID(), "action": "unregisterClient"})

	h.roomsMu.Lock()
	if !h.clients[client] {
		h.roomsMu.Unlock()
		logCtx.Debug("Client already unregistered")
		return
	}
	h.leaveLocked(client)
	delete(h.clients, client)
	// 在写锁内关闭，broadcast 持有读锁发送，不会向已关闭的通道写
	close(client.send)
	h.roomsMu.Unlock()

	connectedClients.Dec()
	logCtx.Info("Client unregistered from Hub")
}

func (h *Hub) closeAll() {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	for client := range h.clients {
		h.leaveLocked(client)
		delete(h.clients, client)
		close(client.send)
		connectedClients.Dec()
	}
}

// joinRoom 把客户端移入新房间，先离开之前的房间
func (h *Hub) joinRoom(client *Client, roomCode, userName string) bool {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if !h.clients[client] {
		return false
	}
	h.leaveLocked(client)
	if _, ok := h.rooms[roomCode]; !ok {
		h.rooms[roomCode] = make(map[*Client]bool)
	}
	h.rooms[roomCode][client] = true
	client.roomCode = roomCode
	client.userName = userName
	return true
}

// leaveLocked 调用方必须持有 roomsMu 写锁
func (h *Hub) leaveLocked(client *Client) {
	if client.roomCode == "" {
		return
	}
	if roomClients, ok := h.rooms[client.roomCode]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, client.roomCode)
		}
	}
	client.roomCode = ""
}

// broadcast 将消息发送给指定房间的所有客户端，排除 sender
func (h *Hub) broadcast(roomCode string, message []byte, sender *Client) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()

	roomClients, ok := h.rooms[roomCode]
	if !ok || len(roomClients) == 0 {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code":       roomCode,
		"message_size":    len(message),
		"recipient_count": len(roomClients),
	})
	logCtx.Debug("Broadcasting message to clients")

	for client := range roomClients {
		if client == sender {
			continue
		}
		// 非阻塞发送，慢客户端直接丢弃
		select {
		case client.send <- message:
		default:
			logCtx.WithField("client_id", client.ID()).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// handleInbound 处理客户端发来的一条事件，在该客户端的读 goroutine 中执行
func (h *Hub) handleInbound(client *Client, raw []byte) {
	logCtx := logrus.WithField("client_id", client.ID())

	var evt domain.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		logCtx.WithError(err).Debug("Ignoring malformed client message")
		client.sendError("malformed message")
		return
	}

	switch evt.Event {
	case domain.EventJoinRoom:
		var p domain.JoinRoomPayload
		if len(evt.Data) > 0 {
			if err := json.Unmarshal(evt.Data, &p); err != nil {
				client.sendError("malformed joinRoom payload")
				return
			}
		}
		h.handleJoin(client, p)
	case domain.EventPing:
		client.touch()
		client.sendEvent(domain.EventPong, map[string]int64{"timestamp": time.Now().UnixMilli()})
	default:
		logCtx.WithField("event", evt.Event).Debug("Ignoring unknown client event")
	}
}

func (h *Hub) handleJoin(client *Client, p domain.JoinRoomPayload) {
	logCtx := logrus.WithFields(logrus.Fields{"client_id": client.ID(), "room_code": p.RoomCode})

	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()
	if err := h.validate(ctx, p.RoomCode); err != nil {
		logCtx.WithError(err).Info("Client tried to join an unavailable room")
		client.sendError(err.Error())
		return
	}

	userName := p.UserName
	if userName == "" {
		userName = domain.DefaultUserName
	}
	if !h.joinRoom(client, p.RoomCode, userName) {
		return
	}
	client.touch()
	client.sendEvent(domain.EventJoinedRoom, domain.JoinedRoomPayload{
		RoomCode: p.RoomCode,
		UserName: userName,
		ClientID: client.ID(),
	})
	logCtx.WithField("user_name", userName).Info("Client joined room")
}
