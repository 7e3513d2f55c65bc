package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"quickmatch-server/matchmaking/domain"
)

// WSHost hospeda cada slot como um servidor WebSocket na porta do slot.
//
// Quem recebeu o Ticket entra com
// ws://<address>:<port>/session?participant=<id>&session=<nome>; as mensagens
// de texto de um participante são repassadas aos outros da mesma sessão.
type WSHost struct {
	bindHost   string
	publicHost string
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	writeTimeout time.Duration
	sendBuffer   int
}

type WSHostOption func(*WSHost)

func WithHostLogger(l *slog.Logger) WSHostOption {
	return func(h *WSHost) { h.logger = l }
}

// WithWriteTimeout limita cada escrita para um peer; valores <= 0 mantêm o padrão.
func WithWriteTimeout(d time.Duration) WSHostOption {
	return func(h *WSHost) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func NewWSHost(bindHost, publicHost string, opts ...WSHostOption) *WSHost {
	h := &WSHost{
		bindHost:     bindHost,
		publicHost:   publicHost,
		logger:       slog.Default(),
		writeTimeout: 5 * time.Second,
		sendBuffer:   32,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start implementa domain.Host.
func (h *WSHost) Start(ctx context.Context, spec domain.SlotSpec, cb domain.HostCallbacks) (domain.Instance, error) {
	addr := net.JoinHostPort(h.bindHost, strconv.Itoa(spec.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &wsSession{
		host:   h,
		spec:   spec,
		cb:     cb,
		logger: h.logger.With("session", spec.Session, "port", spec.Port),
		peers:  make(map[domain.ParticipantID]*wsPeer),
		served: make(chan struct{}),
		addr:   ln.Addr().String(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleJoin)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go s.serve(ln)

	if err := ctx.Err(); err != nil {
		// o pool desistiu enquanto subíamos
		_ = s.Shutdown(context.Background())
		return nil, err
	}
	s.logger.Info("session listening", "addr", s.addr)
	return s, nil
}

// JoinURL monta o endereço que o participante usa para entrar no slot.
func JoinURL(t domain.Ticket, p domain.ParticipantID) string {
	q := url.Values{}
	q.Set("participant", string(p))
	q.Set("session", t.Session)
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(t.Address, strconv.Itoa(t.Port)),
		Path:     "/session",
		RawQuery: q.Encode(),
	}
	return u.String()
}

type wsSession struct {
	host   *WSHost
	spec   domain.SlotSpec
	cb     domain.HostCallbacks
	logger *slog.Logger
	srv    *http.Server
	addr   string

	mu      sync.Mutex
	peers   map[domain.ParticipantID]*wsPeer
	closing atomic.Bool
	served  chan struct{}
}

type wsPeer struct {
	id   domain.ParticipantID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *wsPeer) close() {
	p.once.Do(func() { close(p.send) })
}

// hostMessage é o que o host escreve para quem está na sessão.
type hostMessage struct {
	Type        string               `json:"type"`
	Session     string               `json:"session,omitempty"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
	Players     int                  `json:"players,omitempty"`
	Data        json.RawMessage      `json:"data,omitempty"`
}

func (s *wsSession) Address() string { return s.host.publicHost }

func (s *wsSession) serve(ln net.Listener) {
	defer close(s.served)
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || s.closing.Load() {
		return
	}
	s.logger.Error("session server stopped", "err", err)
	s.cb.SlotTerminated(s.spec.ID, err.Error())
}

func (s *wsSession) handleJoin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	who := domain.ParticipantID(q.Get("participant"))
	if who == "" {
		http.Error(w, "missing participant", http.StatusBadRequest)
		return
	}
	if q.Get("session") != s.spec.Session {
		http.Error(w, "wrong session", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		http.Error(w, "session closing", http.StatusServiceUnavailable)
		return
	}
	if _, ok := s.peers[who]; ok {
		s.mu.Unlock()
		http.Error(w, "already joined", http.StatusConflict)
		return
	}
	if len(s.peers) >= s.spec.Capacity {
		s.mu.Unlock()
		http.Error(w, "session full", http.StatusConflict)
		return
	}
	// segura a cadeira antes do upgrade
	peer := &wsPeer{id: who, send: make(chan []byte, s.host.sendBuffer)}
	s.peers[who] = peer
	s.mu.Unlock()

	conn, err := s.host.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		delete(s.peers, who)
		s.mu.Unlock()
		s.logger.Warn("session upgrade failed", "participant", string(who), "err", err)
		return
	}
	s.mu.Lock()
	peer.conn = conn
	s.mu.Unlock()

	s.cb.ParticipantJoined(s.spec.ID, who)
	go s.writeLoop(peer)

	s.broadcast(hostMessage{Type: "joined", Session: s.spec.Session, Participant: who, Players: s.players()}, "")
	s.readLoop(peer)

	s.mu.Lock()
	delete(s.peers, who)
	s.mu.Unlock()
	peer.close()
	_ = conn.Close()

	s.cb.ParticipantLeft(s.spec.ID, who)
	if !s.closing.Load() {
		s.broadcast(hostMessage{Type: "left", Session: s.spec.Session, Participant: who, Players: s.players()}, who)
	}
}

func (s *wsSession) readLoop(peer *wsPeer) {
	peer.conn.SetReadLimit(64 << 10)
	for {
		mt, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage || !json.Valid(data) {
			continue
		}
		s.broadcast(hostMessage{Type: "relay", Participant: peer.id, Data: data}, peer.id)
	}
}

func (s *wsSession) writeLoop(peer *wsPeer) {
	for msg := range peer.send {
		_ = peer.conn.SetWriteDeadline(time.Now().Add(s.host.writeTimeout))
		if err := peer.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = peer.conn.Close()
			return
		}
	}
}

func (s *wsSession) players() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// broadcast entrega msg a todos, menos skip. Quem não acompanha perde a mensagem.
func (s *wsSession) broadcast(msg hostMessage, skip domain.ParticipantID) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.peers {
		if id == skip || p.conn == nil {
			continue
		}
		select {
		case p.send <- b:
		default:
			s.logger.Warn("dropping message for slow participant", "participant", string(id))
		}
	}
}

// Shutdown fecha o listener e derruba quem ainda estiver conectado.
func (s *wsSession) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	err := s.srv.Shutdown(ctx)

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.peers))
	for _, p := range s.peers {
		if p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closing"), deadline)
		_ = c.Close()
	}

	select {
	case <-s.served:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
