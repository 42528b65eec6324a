// Package stream pushes bridge events to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"fundflow/internal/events"
)

// Hub fans envelopes out to subscribers. A slow subscriber loses messages;
// the hub never blocks the bridge.
type Hub struct {
	Logger       *zap.Logger
	Enabled      func(ctx context.Context) bool
	WriteTimeout time.Duration
	Buffer       int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber

	sent    uint64
	dropped uint64
}

type subscriber struct {
	ch    chan []byte
	types map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		Logger:       logger,
		WriteTimeout: 5 * time.Second,
		Buffer:       64,
		subs:         map[uint64]*subscriber{},
	}
}

// Subscribe registers a subscriber for the given event types (all when
// empty). The returned func unregisters it and closes the channel.
func (h *Hub) Subscribe(types []string) (<-chan []byte, func()) {
	buf := h.Buffer
	if buf <= 0 {
		buf = 64
	}
	sub := &subscriber{ch: make(chan []byte, buf), types: map[string]struct{}{}}
	for _, t := range types {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			sub.types[t] = struct{}{}
		}
	}
	h.mu.Lock()
	if h.subs == nil {
		h.subs = map[uint64]*subscriber{}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Stats() (sent, dropped uint64) {
	return atomic.LoadUint64(&h.sent), atomic.LoadUint64(&h.dropped)
}

// Handle is the bridge route for the live feed.
func (h *Hub) Handle(ctx context.Context, env events.Envelope) error {
	if h.Enabled != nil && !h.Enabled(ctx) {
		return nil
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(env.Type) {
			continue
		}
		select {
		case sub.ch <- raw:
			atomic.AddUint64(&h.sent, 1)
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
	return nil
}

func (h *Hub) Register(r gin.IRouter) {
	r.GET("/ws/events", h.serve)
}

// @Summary Live event feed
// @Description Websocket stream of investment, marketplace and settlement events. Filter with types=A,B.
// @Tags stream
// @Param types query string false "comma separated event types"
// @Router /ws/events [get]
func (h *Hub) serve(c *gin.Context) {
	if h.Enabled != nil && !h.Enabled(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "live stream disabled"})
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger().Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	var types []string
	if raw := strings.TrimSpace(c.Query("types")); raw != "" {
		types = strings.Split(raw, ",")
	}
	ch, cancel := h.Subscribe(types)
	defer cancel()

	// Clients never send; CloseRead handles control frames and ends ctx on close.
	ctx := conn.CloseRead(c.Request.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := h.write(ctx, conn, msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger().Debug("websocket write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	timeout := h.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, msg)
}

func (h *Hub) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
