package session

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Envelope types pushed to WebSocket clients.
const (
	EnvelopeNotifications = "notifications"
	EnvelopeConversation  = "conversation"
	EnvelopeRealtime      = "realtime"
)

const (
	clientBuffer   = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
)

// Envelope is one pushed update.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (cl *client) close() {
	cl.once.Do(func() { close(cl.send) })
}

// Broadcaster fans session updates out to the WebSocket clients attached to one
// session. A client that cannot keep up is disconnected.
type Broadcaster struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{logger: logger.Named("Broadcaster"), clients: make(map[*client]struct{})}
}

// Publish queues env for every attached client without blocking.
func (b *Broadcaster) Publish(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("Encoding envelope failed", zap.String("type", env.Type), zap.Error(err))
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for cl := range b.clients {
		select {
		case cl.send <- payload:
		default:
			b.logger.Warn("Dropping slow WebSocket client")
			delete(b.clients, cl)
			cl.close()
		}
	}
}

// Len returns the number of attached clients.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client. Later Serve calls return immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for cl := range b.clients {
		delete(b.clients, cl)
		cl.close()
	}
}

// Serve attaches conn, sends initial, then pumps published envelopes until the
// peer goes away or the broadcaster is closed. It closes conn before returning.
func (b *Broadcaster) Serve(conn *websocket.Conn, initial ...Envelope) {
	cl := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	for _, env := range initial {
		if payload, err := json.Marshal(env); err == nil {
			cl.send <- payload
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	b.clients[cl] = struct{}{}
	b.mu.Unlock()

	go b.readPump(cl)
	b.writePump(cl)
}

func (b *Broadcaster) detach(cl *client) {
	b.mu.Lock()
	if _, ok := b.clients[cl]; ok {
		delete(b.clients, cl)
		cl.close()
	}
	b.mu.Unlock()
}

// readPump discards inbound frames and detaches the client when the peer closes.
func (b *Broadcaster) readPump(cl *client) {
	defer b.detach(cl)
	cl.conn.SetReadLimit(maxInboundSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.detach(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.detach(cl)
				return
			}
		}
	}
}
