package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/akimenko/authd/internal/handlers/principalctx"
	"github.com/akimenko/authd/internal/logger"
)

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
	defaultPingInterval  = 30 * time.Second
	defaultPingTimeout   = 10 * time.Second
)

// Metrics receives connection lifecycle notifications.
type Metrics interface {
	WSClientConnected()
	WSClientDisconnected()
}

type noopMetrics struct{}

func (noopMetrics) WSClientConnected()    {}
func (noopMetrics) WSClientDisconnected() {}

// Gateway upgrades authenticated HTTP requests to websocket sessions
// and streams hub events to them. Clients only listen: any inbound
// frame besides a close is discarded.
type Gateway struct {
	hub     *Hub
	logger  logger.Logger
	metrics Metrics

	// Accept authorizes same-host origins on its own; cross-origin
	// browsers need their host listed here.
	originPatterns []string

	sendQueueSize int
	writeTimeout  time.Duration
	pingInterval  time.Duration
}

func NewGateway(hub *Hub, logger logger.Logger, metrics Metrics, originPatterns []string) *Gateway {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Gateway{
		hub:            hub,
		logger:         logger,
		metrics:        metrics,
		originPatterns: originPatterns,
		sendQueueSize:  defaultSendQueueSize,
		writeTimeout:   defaultWriteTimeout,
		pingInterval:   defaultPingInterval,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalctx.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.logger.Info("websocket accept failed", "error", err.Error())
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye") //nolint:errcheck

	c := newClient(principal, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.metrics.WSClientConnected()
	defer g.metrics.WSClientDisconnected()

	snapshot := g.hub.join(c)
	defer g.hub.leave(c)

	// Initial presence view before any live event.
	for _, u := range snapshot {
		initial := Event{Type: EventUserOnline, TS: time.Now().UTC(), User: u}
		if err := writeEvent(ctx, conn, initial, g.writeTimeout); err != nil {
			return
		}
	}

	go g.readUntilClosed(ctx, conn, c)
	go g.keepAlive(ctx, conn, c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.doneCh():
			return
		case event := <-c.send:
			if err := writeEvent(ctx, conn, event, g.writeTimeout); err != nil {
				g.logger.Info("websocket write failed",
					"user_id", principal.ID.String(),
					"error", err.Error(),
				)
				return
			}
		}
	}
}

// readUntilClosed drains inbound frames so close handshakes complete,
// shutting the client down when the peer goes away.
func (g *Gateway) readUntilClosed(ctx context.Context, conn *websocket.Conn, c *client) {
	defer c.close()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (g *Gateway) keepAlive(ctx context.Context, conn *websocket.Conn, c *client) {
	t := time.NewTicker(g.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.doneCh():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, defaultPingTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func writeEvent(parent context.Context, conn *websocket.Conn, event Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
