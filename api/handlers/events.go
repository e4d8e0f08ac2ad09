package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/event"
)

const (
	defaultEventBuffer = 64
	eventWriteTimeout  = 5 * time.Second
	eventPingInterval  = 30 * time.Second
)

// EventSource 事件总线的订阅端
type EventSource interface {
	Subscribe(t event.Type, h event.Handler) string
	Unsubscribe(id string)
}

// EventsHandler 把总线事件推送到 WebSocket 客户端。
// 总线同步调用订阅者，这里只做非阻塞入队；慢客户端的溢出事件被丢弃并计数。
type EventsHandler struct {
	source         EventSource
	originPatterns []string
	buffer         int
	logger         *zap.Logger

	clients atomic.Int64
	dropped atomic.Int64
}

// EventsOption configures an EventsHandler.
type EventsOption func(*EventsHandler)

// WithOriginPatterns 允许跨域升级的 Origin 模式，见 websocket.AcceptOptions
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) { h.originPatterns = patterns }
}

// WithEventBuffer 每个连接的事件缓冲大小
func WithEventBuffer(n int) EventsOption {
	return func(h *EventsHandler) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewEventsHandler creates the event stream handler.
func NewEventsHandler(source EventSource, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		source: source,
		buffer: defaultEventBuffer,
		logger: logger.With(zap.String("handler", "events")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients 当前连接数
func (h *EventsHandler) Clients() int64 { return h.clients.Load() }

// Dropped 因客户端过慢而丢弃的事件总数
func (h *EventsHandler) Dropped() int64 { return h.dropped.Load() }

// HandleEvents 升级为 WebSocket 并持续推送事件。
// ?types=task:completed,task:failed 只推送指定类型，缺省推送全部。
// @Summary Event stream
// @Tags events
// @Param types query string false "Comma separated event types"
// @Success 101 "Switching Protocols"
// @Security ApiKeyAuth
// @Router /api/v1/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseEventTypes(r.URL.Query().Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 只推不收；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	queue := make(chan event.Event, h.buffer)
	subID := h.source.Subscribe(event.All, func(e event.Event) {
		if filter != nil && !filter[e.Type] {
			return
		}
		select {
		case queue <- e:
		default:
			h.dropped.Add(1)
		}
	})
	defer h.source.Unsubscribe(subID)

	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr))

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-queue:
			if err := h.write(ctx, conn, e); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				h.logger.Debug("event stream ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, e event.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}

func parseEventTypes(raw string) map[event.Type]bool {
	if raw == "" {
		return nil
	}
	out := make(map[event.Type]bool)
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out[event.Type(t)] = true
		}
	}
	if len(out) == 0 || out[event.All] {
		return nil
	}
	return out
}
