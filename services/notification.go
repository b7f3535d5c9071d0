package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub limits and timeouts
const (
	MaxNotifyClients      = 100
	NotifyWriteTimeout    = 10 * time.Second
	NotifyPongTimeout     = 60 * time.Second
	NotifyPingInterval    = 30 * time.Second
	notifySendBuffer      = 64
	notifyBroadcastBuffer = 256
)

// NotificationDispatcher delivers session lifecycle messages to a user.
// Delivery is best-effort everywhere: callers log failures and move on.
type NotificationDispatcher interface {
	Send(userID uint, title, body string) error
}

// LogDispatcher is the fallback dispatcher that only writes to the log
type LogDispatcher struct{}

// Send logs the notification
func (LogDispatcher) Send(userID uint, title, body string) error {
	log.Printf("Notify user %d: %s - %s", userID, title, body)
	return nil
}

// NotifyMessage is the JSON payload pushed to connected clients
type NotifyMessage struct {
	Type   string `json:"type"`
	UserID uint   `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Time   string `json:"time"`
}

// notifyClient is one connected dashboard socket bound to a user
type notifyClient struct {
	userID uint
	conn   *websocket.Conn
	send   chan []byte
}

// NotifyHub fans session notifications out to the owning user's connected
// clients over WebSocket. Users without a connected client simply miss the
// push; the event still lands in the audit journal.
type NotifyHub struct {
	mu         sync.RWMutex
	clients    map[*notifyClient]bool
	register   chan *notifyClient
	unregister chan *notifyClient
	broadcast  chan NotifyMessage
	shutdown   chan struct{}
	upgrader   websocket.Upgrader
	once       sync.Once
}

// NewNotifyHub creates the hub and starts its run loop
func NewNotifyHub() *NotifyHub {
	hub := &NotifyHub{
		clients:    make(map[*notifyClient]bool),
		register:   make(chan *notifyClient),
		unregister: make(chan *notifyClient),
		broadcast:  make(chan NotifyMessage, notifyBroadcastBuffer),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go hub.run()
	return hub
}

// Send queues a notification for the user's connected clients
func (h *NotifyHub) Send(userID uint, title, body string) error {
	message := NotifyMessage{
		Type:   "session_event",
		UserID: userID,
		Title:  title,
		Body:   body,
		Time:   time.Now().Format(time.RFC3339),
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		log.Printf("Notify hub queue full, dropping message for user %d", userID)
		return nil
	}
}

// Shutdown closes every client connection and stops the hub
func (h *NotifyHub) Shutdown() {
	h.once.Do(func() { close(h.shutdown) })

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*notifyClient]bool)
	h.mu.Unlock()

	log.Println("Notify hub shutdown complete")
}

func (h *NotifyHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxNotifyClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("Notify client rejected: max clients reached (%d)", MaxNotifyClients)
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Notify client connected for user %d. Total clients: %d", client.userID, count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling notification: %v", err)
				continue
			}

			h.mu.Lock()
			dead := make([]*notifyClient, 0)
			for client := range h.clients {
				if client.userID != message.UserID {
					continue
				}
				select {
				case client.send <- data:
				default:
					dead = append(dead, client)
				}
			}
			for _, client := range dead {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the request and binds the socket to the user
func (h *NotifyHub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID uint) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxNotifyClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Notify WebSocket upgrade error: %v", err)
		return
	}

	client := &notifyClient{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, notifySendBuffer),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump writes queued messages and keepalive pings to the socket
func (c *notifyClient) writePump() {
	ticker := time.NewTicker(NotifyPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(NotifyWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(NotifyWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the socket; clients only send pongs
func (c *notifyClient) readPump(h *NotifyHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(NotifyPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(NotifyPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Notify WebSocket read error: %v", err)
			}
			break
		}
	}
}
