package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 256
	maxFrameSize = 64 << 10
)

// ClientMessage is what clients send: {"action":"subscribe","topics":[...]}.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type reply struct {
	Type     string   `json:"type"`
	Topics   []string `json:"topics,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Authorizer decides whether the caller behind ctx may follow topic.
type Authorizer func(ctx context.Context, topic string) bool

type Handler struct {
	hub       *Hub
	authorize Authorizer
	upgrader  gorillaws.Upgrader
	logger    zerolog.Logger
}

// NewHandler accepts upgrades from origins; an empty list or "*" allows any.
// authorize gates subscribe requests and is installed on hub so every
// delivery is checked again.
func NewHandler(hub *Hub, authorize Authorizer, origins []string, logger zerolog.Logger) *Handler {
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")
	hub.SetAuthorizer(authorize)
	return &Handler{
		hub:       hub,
		authorize: authorize,
		logger:    logger.With().Str("component", "ws").Logger(),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return o == "" || anyOrigin || slices.Contains(origins, o)
			},
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// handle applies one client request. Topics the authorizer refuses, and
// topics past the per-client cap, come back in Rejected.
func (h *Handler) handle(ctx context.Context, c *Client, msg ClientMessage) reply {
	switch msg.Action {
	case "subscribe":
		var ok, rejected []string
		for _, t := range msg.Topics {
			if h.authorize == nil || h.authorize(ctx, t) {
				ok = append(ok, t)
			} else {
				rejected = append(rejected, t)
			}
		}
		overflow := h.hub.Subscribe(c, ok)
		ok = slices.DeleteFunc(ok, func(t string) bool { return slices.Contains(overflow, t) })
		return reply{Type: "subscribed", Topics: ok, Rejected: append(rejected, overflow...)}
	case "unsubscribe":
		h.hub.Unsubscribe(c, msg.Topics)
		return reply{Type: "unsubscribed", Topics: msg.Topics}
	case "list":
		return reply{Type: "topics", Topics: h.hub.Topics(c)}
	default:
		return reply{Type: "error", Error: "unknown action " + msg.Action}
	}
}

// Connect upgrades the request and runs the connection until either side
// hangs up.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	// Keep the actor and other request values after the handler returns.
	ctx := context.WithoutCancel(c.Request().Context())
	client := NewClient(uuid.NewString(), sendBuffer)
	client.ctx = ctx
	h.hub.Register(client)

	go h.write(client, ws)
	go h.read(ctx, client, ws)
	return nil
}

func (h *Handler) read(ctx context.Context, c *Client, ws *gorillaws.Conn) {
	defer func() {
		h.hub.Unregister(c)
		ws.Close()
	}()
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client", c.ID).Msg("connection closed")
			}
			return
		}
		var msg ClientMessage
		out := reply{Type: "error", Error: "malformed message"}
		if json.Unmarshal(raw, &msg) == nil {
			out = h.handle(ctx, c, msg)
		}
		data, err := json.Marshal(out)
		if err != nil {
			continue
		}
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Handler) write(c *Client, ws *gorillaws.Conn) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		ws.Close()
	}()
	for {
		var err error
		select {
		case msg, open := <-c.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = ws.WriteMessage(gorillaws.CloseMessage, nil)
				return
			}
			err = ws.WriteMessage(gorillaws.TextMessage, msg)
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			err = ws.WriteMessage(gorillaws.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}
