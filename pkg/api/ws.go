package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"eventsnap/pkg/chat"
	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/telemetry"
	"eventsnap/pkg/tree"
	"eventsnap/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is one push to a sync client. Topic identifies the stream, the
// conversation field is set for per-conversation streams.
type frame struct {
	Topic        string `json:"topic"`
	Conversation string `json:"conversation,omitempty"`
	Data         any    `json:"data"`
}

// command is a client request over the socket.
type command struct {
	Action       string `json:"action"` // subscribe | unsubscribe
	Stream       string `json:"stream"` // messages | typing
	Conversation string `json:"conversation"`
	Limit        int    `json:"limit"`
}

// syncClient is one websocket session: the connection, its outbound
// queue and the per-stream disposers it holds open.
type syncClient struct {
	conn *websocket.Conn
	send chan []byte
	user string

	mu      sync.Mutex
	cancels map[string]tree.CancelFunc
	closed  bool
}

// sync handles GET /v1/sync?user=<id>. The session starts with the
// user's conversation-list stream and the connectivity stream; message
// and typing streams attach per conversation on client command.
func (a *API) sync(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		utils.JSONError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("sync_upgrade_failed", "error", err)
		return
	}

	c := &syncClient{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		user:    user,
		cancels: map[string]tree.CancelFunc{},
	}
	telemetry.SyncClients.Inc()
	logger.Info("sync_client_connected", "user", user)

	cancel, err := a.svc.SubscribeConversations(user, func(convs []models.Conversation) {
		c.push(frame{Topic: "conversations", Data: convs})
	}, func(err error) {
		c.push(frame{Topic: "error", Data: err.Error()})
	})
	if err != nil {
		_ = conn.Close()
		telemetry.SyncClients.Dec()
		return
	}
	c.addCancel("conversations", cancel)
	c.addCancel("connection", a.svc.Monitor().Watch(func(up bool) {
		c.push(frame{Topic: "connection", Data: up})
	}))

	go c.writePump()
	a.readPump(c)
}

// readPump consumes client commands until the socket dies, then tears
// the session down.
func (a *API) readPump(c *syncClient) {
	defer c.teardown()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("sync_read_error", "user", c.user, "error", err)
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(frame{Topic: "error", Data: "invalid command"})
			continue
		}
		a.handleCommand(c, cmd)
	}
}

func (a *API) handleCommand(c *syncClient, cmd command) {
	key := cmd.Stream + ":" + cmd.Conversation
	switch cmd.Action {
	case "unsubscribe":
		c.dropCancel(key)
		return
	case "subscribe":
	default:
		c.push(frame{Topic: "error", Data: "unknown action " + cmd.Action})
		return
	}

	var cancel tree.CancelFunc
	var err error
	switch cmd.Stream {
	case "messages":
		cid := cmd.Conversation
		cancel, err = a.svc.SubscribeMessages(cid, chat.SubscribeOptions{Limit: cmd.Limit},
			func(msgs []models.Message) {
				c.push(frame{Topic: "messages", Conversation: cid, Data: msgs})
			}, func(err error) {
				c.push(frame{Topic: "error", Conversation: cid, Data: err.Error()})
			})
	case "typing":
		cid := cmd.Conversation
		cancel, err = a.svc.SubscribeTyping(cid, c.user,
			func(users []string) {
				c.push(frame{Topic: "typing", Conversation: cid, Data: users})
			}, func(err error) {
				c.push(frame{Topic: "error", Conversation: cid, Data: err.Error()})
			})
	default:
		c.push(frame{Topic: "error", Data: "unknown stream " + cmd.Stream})
		return
	}
	if err != nil {
		c.push(frame{Topic: "error", Conversation: cmd.Conversation, Data: err.Error()})
		return
	}
	c.dropCancel(key)
	c.addCancel(key, cancel)
}

// push queues a frame for delivery. Encoding goes through a pooled
// buffer; the bytes are copied into the queue so the buffer can return
// to the pool immediately. A full queue drops the frame: the stream is
// snapshot-based, the next push carries complete state anyway.
func (c *syncClient) push(f frame) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return
	}
	data := append([]byte(nil), buf.B...)

	// the queue is closed under the same lock, so a teardown cannot race
	// this send
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Warn("sync_frame_dropped", "user", c.user, "topic", f.Topic)
	}
}

func (c *syncClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *syncClient) addCancel(key string, cancel tree.CancelFunc) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancels[key] = cancel
	c.mu.Unlock()
}

func (c *syncClient) dropCancel(key string) {
	c.mu.Lock()
	cancel, ok := c.cancels[key]
	if ok {
		delete(c.cancels, key)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *syncClient) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancels := make([]tree.CancelFunc, 0, len(c.cancels))
	for _, cancel := range c.cancels {
		cancels = append(cancels, cancel)
	}
	c.cancels = map[string]tree.CancelFunc{}
	close(c.send)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	_ = c.conn.Close()
	telemetry.SyncClients.Dec()
	logger.Info("sync_client_disconnected", "user", c.user)
}
