package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quickmatch-server/matchmaking/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeInstance struct {
	spec domain.SlotSpec

	mu        sync.Mutex
	shutdowns int
}

func (i *fakeInstance) Address() string { return "127.0.0.1" }

func (i *fakeInstance) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	i.shutdowns++
	i.mu.Unlock()
	return nil
}

func (i *fakeInstance) Shutdowns() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.shutdowns
}

type fakeHost struct {
	mu    sync.Mutex
	fail  bool
	block bool
	insts []*fakeInstance
}

func (h *fakeHost) Start(ctx context.Context, spec domain.SlotSpec, cb domain.HostCallbacks) (domain.Instance, error) {
	h.mu.Lock()
	fail, block := h.fail, h.block
	h.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("host refused to start session")
	}
	inst := &fakeInstance{spec: spec}
	h.mu.Lock()
	h.insts = append(h.insts, inst)
	h.mu.Unlock()
	return inst, nil
}

func (h *fakeHost) SetFail(v bool) {
	h.mu.Lock()
	h.fail = v
	h.mu.Unlock()
}

func (h *fakeHost) Started() []*fakeInstance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeInstance(nil), h.insts...)
}

// sliceQueue é uma WaitQueue mínima para os testes da aplicação.
type sliceQueue struct {
	items []domain.ParticipantID
}

func (q *sliceQueue) Push(p domain.ParticipantID) bool {
	if q.Contains(p) {
		return false
	}
	q.items = append(q.items, p)
	return true
}

func (q *sliceQueue) Remove(p domain.ParticipantID) bool {
	for i, it := range q.items {
		if it == p {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *sliceQueue) Contains(p domain.ParticipantID) bool {
	for _, it := range q.items {
		if it == p {
			return true
		}
	}
	return false
}

func (q *sliceQueue) Len() int { return len(q.items) }

func (q *sliceQueue) PopN(n int) []domain.ParticipantID {
	if len(q.items) < n {
		return nil
	}
	out := append([]domain.ParticipantID(nil), q.items[:n]...)
	q.items = q.items[n:]
	return out
}

func (q *sliceQueue) Snapshot() []domain.ParticipantID {
	return append([]domain.ParticipantID(nil), q.items...)
}

type recSink struct {
	mu   sync.Mutex
	msgs []domain.Notification
}

func (s *recSink) Deliver(n domain.Notification) {
	s.mu.Lock()
	s.msgs = append(s.msgs, n)
	s.mu.Unlock()
}

func (s *recSink) Count(kind domain.NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Last devolve a última notificação do tipo pedido.
func (s *recSink) Last(kind domain.NotificationKind) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Kind == kind {
			return s.msgs[i], true
		}
	}
	return domain.Notification{}, false
}

type fakeLimiter struct {
	allow bool
}

func (f fakeLimiter) Allow() bool { return f.allow }

type fakeLimiterStore struct {
	allow     bool
	forgotten []domain.Key
}

func (s *fakeLimiterStore) Get(domain.Key) domain.Limiter { return fakeLimiter{allow: s.allow} }

func (s *fakeLimiterStore) Forget(k domain.Key) { s.forgotten = append(s.forgotten, k) }

type countingPool struct {
	mu    sync.Mutex
	max   int
	inUse int
}

func (p *countingPool) Acquire(ctx context.Context) (func(), bool) {
	if release, ok := p.TryAcquire(); ok {
		return release, true
	}
	<-ctx.Done()
	return nil, false
}

func (p *countingPool) TryAcquire() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.max {
		return nil, false
	}
	p.inUse++
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.inUse--
			p.mu.Unlock()
		})
	}, true
}

func (p *countingPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t      *testing.T
	a      *Authority
	host   *fakeHost
	clock  *fakeClock
	deps   Deps
	cancel context.CancelFunc
}

func testConfig() Config {
	return Config{
		Pool: PoolConfig{
			TargetSpare:  1,
			Capacity:     3,
			SetupTimeout: time.Second,
			BasePort:     27015,
		},
		// o tick real nunca dispara nos testes; usamos h.tick
		Tick: time.Hour,
	}
}

// newHarness sobe uma Authority com host falso. mutate pode ajustar o host e
// as deps antes da construção.
func newHarness(t *testing.T, cfg Config, mutate func(*harness)) *harness {
	t.Helper()
	h := &harness{t: t, host: &fakeHost{}, clock: newFakeClock()}
	h.deps = Deps{
		Host:   h.host,
		Queue:  &sliceQueue{},
		Clock:  h.clock,
		Logger: discardLogger(),
	}
	if mutate != nil {
		mutate(h)
	}
	a, err := NewAuthority(cfg, h.deps)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	h.a = a

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = a.Run(ctx) }()
	t.Cleanup(h.stop)
	h.settle()
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.a.Done()
}

func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.a.WaitReady(ctx); err != nil {
		h.t.Fatalf("WaitReady: %v", err)
	}
}

// do roda fn no loop e espera.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.a.loop.Call(ctx, fn); err != nil {
		h.t.Fatalf("loop call: %v", err)
	}
}

// flush espera tudo que já foi postado no loop.
func (h *harness) flush() { h.do(func() {}) }

func (h *harness) tick(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.do(func() { h.a.tick(h.clock.Now()) })
}

func (h *harness) connect(p domain.ParticipantID) (*Conn, *recSink) {
	h.t.Helper()
	sink := &recSink{}
	c, err := h.a.Connect(context.Background(), p, sink)
	if err != nil {
		h.t.Fatalf("Connect(%s): %v", p, err)
	}
	return c, sink
}

func (h *harness) request(c *Conn) {
	h.t.Helper()
	if err := c.RequestMatch(context.Background()); err != nil {
		h.t.Fatalf("RequestMatch(%s): %v", c.Participant(), err)
	}
}

func (h *harness) state(c *Conn) domain.MatchState {
	h.t.Helper()
	st, _, err := c.State(context.Background())
	if err != nil {
		h.t.Fatalf("State(%s): %v", c.Participant(), err)
	}
	return st
}

func (h *harness) slots() []domain.Slot {
	h.t.Helper()
	out, err := h.a.Slots(context.Background())
	if err != nil {
		h.t.Fatalf("Slots: %v", err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
