package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quickmatch-server/matchmaking/application"
	"quickmatch-server/matchmaking/domain"
	"quickmatch-server/matchmaking/infra"
)

const (
	DefaultIDHeader = "X-Participant-ID"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Roster busca a lista de usuários de uma sala.
type Roster interface {
	FetchUsers(ctx context.Context, roomID string) ([]infra.RosterUser, error)
}

type WSOptions struct {
	Authority *application.Authority
	Roster    Roster
	// IDHeader tem prioridade sobre a query `participant`.
	IDHeader   string
	SendBuffer int
	Logger     *slog.Logger
}

// clientMessage é o que o participante envia.
type clientMessage struct {
	Type   string `json:"type"`
	Accept *bool  `json:"accept,omitempty"`
}

// serverMessage é o que sai para o participante.
type serverMessage struct {
	Type        string               `json:"type"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
	Ticket      *domain.Ticket       `json:"ticket,omitempty"`
	JoinURL     string               `json:"join_url,omitempty"`
	Confirmed   int                  `json:"confirmed,omitempty"`
	Total       int                  `json:"total,omitempty"`
	Users       []infra.RosterUser   `json:"users,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func ParticipantFromRequest(header string) func(r *http.Request) domain.ParticipantID {
	if header == "" {
		header = DefaultIDHeader
	}
	return func(r *http.Request) domain.ParticipantID {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return domain.ParticipantID(v)
		}
		// vazio: a Authority gera um id
		return domain.ParticipantID(strings.TrimSpace(r.URL.Query().Get("participant")))
	}
}

type wsHandler struct {
	auth     *application.Authority
	roster   Roster
	idFn     func(r *http.Request) domain.ParticipantID
	buffer   int
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// WSHandler atende GET /ws.
func WSHandler(opts WSOptions) http.Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &wsHandler{
		auth:   opts.Authority,
		roster: opts.Roster,
		idFn:   ParticipantFromRequest(opts.IDHeader),
		buffer: opts.SendBuffer,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pid := h.idFn(r)
	if pid == "" {
		pid = domain.ParticipantID(uuid.NewString())
	}
	c := &client{participant: pid, send: make(chan []byte, h.buffer), logger: h.logger}
	// welcome vai na frente do resync que o Attach possa entregar
	c.push(serverMessage{Type: "welcome", Participant: pid})

	conn, err := h.auth.Connect(r.Context(), pid, c)
	if err != nil {
		status := http.StatusServiceUnavailable
		switch {
		case errors.Is(err, domain.ErrAdmissionRefused):
			w.Header().Set("Retry-After", formatInt(1))
		case errors.Is(err, domain.ErrNotOwner):
			status = http.StatusConflict
		}
		h.logger.Warn("connection rejected", "remote", r.RemoteAddr, "err", err)
		http.Error(w, err.Error(), status)
		return
	}
	defer conn.Close()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "participant", string(conn.Participant()), "err", err)
		c.close()
		return
	}
	h.logger.Info("participant connected", "participant", string(pid), "resumed", conn.Resumed())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop(ws)
	}()

	h.readLoop(r.Context(), ws, conn, c)

	conn.Close()
	c.close()
	<-done
	_ = ws.Close()
	h.logger.Info("participant disconnected", "participant", string(c.participant))
}

func (h *wsHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *application.Conn, c *client) {
	ws.SetReadLimit(4 << 10)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "participant", string(c.participant), "err", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.push(serverMessage{Type: "error", Error: "invalid message"})
			continue
		}
		if err := h.dispatch(ctx, conn, c, msg); err != nil {
			if errors.Is(err, domain.ErrAuthorityStopped) {
				return
			}
			c.push(serverMessage{Type: "error", Error: err.Error()})
		}
	}
}

func (h *wsHandler) dispatch(ctx context.Context, conn *application.Conn, c *client, msg clientMessage) error {
	switch msg.Type {
	case "request_match":
		return conn.RequestMatch(ctx)
	case "confirm_ready":
		accept := true
		if msg.Accept != nil {
			accept = *msg.Accept
		}
		return conn.ConfirmReady(ctx, accept)
	case "user_list":
		return h.userList(ctx, conn, c)
	default:
		return errors.New("unknown message type: " + msg.Type)
	}
}

func (h *wsHandler) userList(ctx context.Context, conn *application.Conn, c *client) error {
	if h.roster == nil {
		return errors.New("user list unavailable")
	}
	_, ticket, err := conn.State(ctx)
	if err != nil {
		return err
	}
	if !ticket.IsValid() {
		return domain.ErrNoTicket
	}
	users, err := h.roster.FetchUsers(ctx, ticket.Session)
	if err != nil {
		h.logger.Warn("roster fetch failed", "session", ticket.Session, "err", err)
		return errors.New("user list unavailable")
	}
	c.push(serverMessage{Type: "user_list", Ticket: &ticket, Users: users})
	return nil
}

// client é o Sink de uma conexão WebSocket. Deliver roda no loop de controle e
// nunca bloqueia: se o buffer encher, a conexão é derrubada.
type client struct {
	participant domain.ParticipantID
	logger      *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) Deliver(n domain.Notification) {
	msg := serverMessage{
		Type:        string(n.Kind),
		Participant: n.Participant,
		Ticket:      n.Ticket,
		Confirmed:   n.Confirmed,
		Total:       n.Total,
	}
	if n.Ticket != nil && n.Kind == domain.NotifyMatchStarting {
		msg.JoinURL = infra.JoinURL(*n.Ticket, c.participant)
	}
	c.push(msg)
}

func (c *client) push(msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.logger.Warn("participant send buffer full, dropping connection", "participant", string(c.participant))
		c.closed = true
		close(c.send)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) writeLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				// acorda o readLoop
				_ = ws.Close()
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
