package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quickmatch-server/matchmaking/application"
	"quickmatch-server/matchmaking/domain"
	"quickmatch-server/matchmaking/infra"
)

type nopInstance struct{}

func (nopInstance) Address() string                    { return "127.0.0.1" }
func (nopInstance) Shutdown(ctx context.Context) error { return nil }

type nopHost struct{}

func (nopHost) Start(context.Context, domain.SlotSpec, domain.HostCallbacks) (domain.Instance, error) {
	return nopInstance{}, nil
}

type fakeRoster struct {
	mu    sync.Mutex
	rooms map[string][]infra.RosterUser
}

func (f *fakeRoster) FetchUsers(_ context.Context, room string) ([]infra.RosterUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users, ok := f.rooms[room]
	if !ok {
		return nil, errors.New("room not found")
	}
	return users, nil
}

func (f *fakeRoster) set(room string, users []infra.RosterUser) {
	f.mu.Lock()
	f.rooms[room] = users
	f.mu.Unlock()
}

type testServer struct {
	srv *httptest.Server
	a   *application.Authority
}

func newTestServer(t *testing.T, maxParticipants int, roster Roster) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := application.NewAuthority(application.Config{
		Pool: application.PoolConfig{TargetSpare: 1, Capacity: 3},
		Tick: time.Hour,
	}, application.Deps{
		Host:      nopHost{},
		Queue:     infra.NewFIFO(),
		Admission: infra.NewChanPool(maxParticipants),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := a.WaitReady(waitCtx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	srv := httptest.NewServer(NewMux(MuxOptions{WS: WSOptions{Authority: a, Roster: roster, Logger: logger}}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-a.Done()
	})
	return &testServer{srv: srv, a: a}
}

func (s *testServer) dial(id string) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	h := http.Header{}
	if id != "" {
		h.Set(DefaultIDHeader, id)
	}
	return websocket.DefaultDialer.Dial(u, h)
}

func (s *testServer) mustDial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	c, _, err := s.dial(id)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil lê até achar uma mensagem do tipo pedido.
func readUntil(t *testing.T, c *websocket.Conn, typ string) serverMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWS_WelcomeCarriesParticipant(t *testing.T) {
	s := newTestServer(t, 10, nil)
	c := s.mustDial(t, "p1")

	msg := readUntil(t, c, "welcome")
	if msg.Participant != "p1" {
		t.Fatalf("expected p1, got %q", msg.Participant)
	}

	anon := s.mustDial(t, "")
	if msg := readUntil(t, anon, "welcome"); msg.Participant == "" {
		t.Fatalf("expected a generated participant id")
	}
}

func TestWS_FullHandshake(t *testing.T) {
	s := newTestServer(t, 10, nil)
	ids := []string{"p1", "p2", "p3"}
	conns := make([]*websocket.Conn, len(ids))
	for i, id := range ids {
		conns[i] = s.mustDial(t, id)
		readUntil(t, conns[i], "welcome")
		send(t, conns[i], `{"type":"request_match"}`)
		readUntil(t, conns[i], "searching")
	}

	var ticket *domain.Ticket
	for i, c := range conns {
		msg := readUntil(t, c, "match_ready")
		if msg.Ticket == nil || !msg.Ticket.IsValid() {
			t.Fatalf("member %d got no ticket", i)
		}
		if ticket != nil && *ticket != *msg.Ticket {
			t.Fatalf("members got different tickets")
		}
		ticket = msg.Ticket
	}

	for _, c := range conns {
		send(t, c, `{"type":"confirm_ready","accept":true}`)
	}
	for i, c := range conns {
		msg := readUntil(t, c, "match_starting")
		if msg.Ticket == nil || *msg.Ticket != *ticket {
			t.Fatalf("member %d got wrong ticket", i)
		}
		if !strings.Contains(msg.JoinURL, "participant="+ids[i]) {
			t.Fatalf("member %d join url %q", i, msg.JoinURL)
		}
	}
}

func TestWS_DeclineSendsExitedQueue(t *testing.T) {
	s := newTestServer(t, 10, nil)
	var conns []*websocket.Conn
	for _, id := range []string{"p1", "p2", "p3"} {
		c := s.mustDial(t, id)
		send(t, c, `{"type":"request_match"}`)
		conns = append(conns, c)
	}
	for _, c := range conns {
		readUntil(t, c, "match_ready")
	}

	send(t, conns[0], `{"type":"confirm_ready","accept":false}`)
	readUntil(t, conns[0], "exited_queue")
	readUntil(t, conns[1], "queue_cancelled")
	readUntil(t, conns[2], "queue_cancelled")
}

func TestWS_AdmissionRefused(t *testing.T) {
	s := newTestServer(t, 1, nil)
	s.mustDial(t, "p1")

	_, resp, err := s.dial("p2")
	if err == nil {
		t.Fatalf("expected refusal")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestWS_DuplicateConnectionConflict(t *testing.T) {
	s := newTestServer(t, 10, nil)
	c := s.mustDial(t, "p1")
	readUntil(t, c, "welcome")

	_, resp, err := s.dial("p1")
	if err == nil {
		t.Fatalf("expected conflict")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %+v", resp)
	}
}

func TestWS_ProtocolErrors(t *testing.T) {
	s := newTestServer(t, 10, nil)
	c := s.mustDial(t, "p1")

	send(t, c, `not json`)
	if msg := readUntil(t, c, "error"); msg.Error != "invalid message" {
		t.Fatalf("unexpected error %q", msg.Error)
	}
	send(t, c, `{"type":"dance"}`)
	if msg := readUntil(t, c, "error"); !strings.Contains(msg.Error, "unknown message type") {
		t.Fatalf("unexpected error %q", msg.Error)
	}
	send(t, c, `{"type":"confirm_ready","accept":true}`)
	if msg := readUntil(t, c, "error"); !strings.Contains(msg.Error, domain.ErrNoPendingMatch.Error()) {
		t.Fatalf("unexpected error %q", msg.Error)
	}
}

func TestWS_UserList(t *testing.T) {
	roster := &fakeRoster{rooms: map[string][]infra.RosterUser{}}
	s := newTestServer(t, 10, roster)

	c := s.mustDial(t, "p1")
	send(t, c, `{"type":"user_list"}`)
	if msg := readUntil(t, c, "error"); msg.Error != domain.ErrNoTicket.Error() {
		t.Fatalf("expected no ticket error, got %q", msg.Error)
	}

	send(t, c, `{"type":"request_match"}`)
	readUntil(t, c, "searching")
	for _, id := range []string{"p2", "p3"} {
		send(t, s.mustDial(t, id), `{"type":"request_match"}`)
	}
	ticket := readUntil(t, c, "match_ready").Ticket
	roster.set(ticket.Session, []infra.RosterUser{{Tag: "p1", FullName: "Ana"}})

	send(t, c, `{"type":"user_list"}`)
	msg := readUntil(t, c, "user_list")
	if len(msg.Users) != 1 || msg.Users[0].Tag != "p1" {
		t.Fatalf("unexpected users %+v", msg.Users)
	}
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestServer(t, 10, nil)

	resp, err := http.Get(s.srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Statistics.TotalSlots != 1 || body.Statistics.SpareSlots != 1 || len(body.Slots) != 1 {
		t.Fatalf("unexpected stats %+v", body)
	}

	post, err := http.Post(s.srv.URL+"/stats", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /stats: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", post.StatusCode)
	}

	health, err := http.Get(s.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", health.StatusCode)
	}
}
