package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hostpulse/internal/eventbus"
	"hostpulse/pkg/logx"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// streamMessage is one websocket frame. Data is the event payload as published on the bus.
type streamMessage struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Streamer pushes bus events (refreshes, scans, speed test progress) to websocket clients.
type Streamer struct {
	bus      eventbus.Bus
	tel      Telemetry
	log      logx.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*streamClient
}

type streamClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamClient) writeMessage(typ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return c.conn.WriteMessage(typ, data)
}

// NewStreamer builds a broadcaster. allowOrigin decides cross-origin upgrades; same-origin
// and origin-less clients are always accepted.
func NewStreamer(bus eventbus.Bus, tel Telemetry, allowOrigin func(string) bool, log logx.Logger) *Streamer {
	st := &Streamer{
		bus:     bus,
		tel:     tel,
		log:     log,
		clients: map[*websocket.Conn]*streamClient{},
	}
	st.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
				return true
			}
			return allowOrigin != nil && allowOrigin(origin)
		},
	}
	return st
}

func (st *Streamer) Clients() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.clients)
}

func (st *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := st.upgrader.Upgrade(w, r, nil)
	if err != nil {
		st.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()
	// Clients only send control frames.
	conn.SetReadLimit(4096)

	client := &streamClient{conn: conn}
	hello := streamMessage{Type: "connected", Time: time.Now()}
	if st.tel != nil {
		if snap, ok := st.currentSnapshot(); ok {
			hello.Data = snap
		}
	}
	data, err := json.Marshal(hello)
	if err != nil || client.writeMessage(websocket.TextMessage, data) != nil {
		return
	}

	// Registered after the hello so broadcasts never precede it.
	st.mu.Lock()
	st.clients[conn] = client
	st.mu.Unlock()
	defer st.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (st *Streamer) currentSnapshot() (any, bool) {
	// Never refresh on behalf of a stream client.
	if t := st.tel.LastUpdated(); t.IsZero() {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := st.tel.EnsureSnapshot(ctx)
	if err != nil {
		return nil, false
	}
	return snap, true
}

// Run forwards bus events to clients until ctx ends, then closes every connection.
func (st *Streamer) Run(ctx context.Context) {
	defer st.closeAll()
	if st.bus == nil {
		<-ctx.Done()
		return
	}
	events, unsub := st.bus.Subscribe(64)
	defer unsub()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			st.broadcast(websocket.PingMessage, nil)
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(streamMessage{Type: ev.Type, Time: ev.Time, Data: ev.Data})
			if err != nil {
				st.log.Warn("stream marshal failed", logx.String("type", ev.Type), logx.Err(err))
				continue
			}
			st.broadcast(websocket.TextMessage, data)
		}
	}
}

func (st *Streamer) broadcast(typ int, data []byte) {
	st.mu.RLock()
	clients := make([]*streamClient, 0, len(st.clients))
	for _, c := range st.clients {
		clients = append(clients, c)
	}
	st.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeMessage(typ, data); err != nil {
			st.remove(c.conn)
			_ = c.conn.Close()
		}
	}
}

func (st *Streamer) remove(conn *websocket.Conn) {
	st.mu.Lock()
	delete(st.clients, conn)
	st.mu.Unlock()
}

func (st *Streamer) closeAll() {
	st.mu.Lock()
	clients := st.clients
	st.clients = map[*websocket.Conn]*streamClient{}
	st.mu.Unlock()
	for conn, c := range clients {
		c.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = conn.Close()
	}
}
