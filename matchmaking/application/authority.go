package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quickmatch-server/matchmaking/domain"
)

type Config struct {
	Pool PoolConfig
	// Tick dirige a varredura de slots ociosos, janelas de reconexão e
	// timeouts de confirmação.
	Tick time.Duration
	// ReconnectGrace é quanto um link solto espera reconexão. 0 aplica a
	// desconexão na hora.
	ReconnectGrace time.Duration
	// ConfirmTimeout cancela grupos que não confirmam a tempo. 0 desliga.
	ConfirmTimeout time.Duration
	// AdmissionWait > 0 faz a conexão esperar por vaga em vez de recusar.
	AdmissionWait time.Duration
	RetryAfter    time.Duration
	StatsTimeout  time.Duration
}

type Deps struct {
	Host      domain.Host
	Queue     domain.WaitQueue
	Admission domain.AdmissionPool
	Limiters  domain.LimiterStore
	Stats     domain.StatsStore
	Clock     Clock
	Logger    *slog.Logger
}

// Authority é o dono do loop de controle e dos componentes que ele muta.
// Todos os métodos públicos são seguros para uso concorrente.
type Authority struct {
	cfg       Config
	loop      *Loop
	pool      *SessionPool
	queue     *MatchQueue
	links     *LinkRegistry
	admission AdmissionService
	stats     statsRecorder
	logger    *slog.Logger
	started   atomic.Bool
}

func NewAuthority(cfg Config, deps Deps) (*Authority, error) {
	if deps.Host == nil {
		return nil, errors.New("session host is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("wait queue is required")
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}

	stats := statsRecorder{store: deps.Stats, clock: deps.Clock, logger: deps.Logger, timeout: cfg.StatsTimeout}
	loop := NewLoop(cfg.Tick, deps.Clock)
	pool := NewSessionPool(cfg.Pool, deps.Host, loop, stats, deps.Logger.With("component", "pool"))
	gate := RequestGate{Store: deps.Limiters, RetryAfter: cfg.RetryAfter}
	links := NewLinkRegistry(cfg.ReconnectGrace, gate, deps.Clock, stats, deps.Logger.With("component", "links"))
	queue := NewMatchQueue(deps.Queue, pool, links, cfg.ConfirmTimeout, stats, deps.Logger.With("component", "queue"))

	a := &Authority{
		cfg:       cfg,
		loop:      loop,
		pool:      pool,
		queue:     queue,
		links:     links,
		admission: AdmissionService{Pool: deps.Admission, AcquireTimeout: cfg.AdmissionWait},
		stats:     stats,
		logger:    deps.Logger,
	}
	pool.OnParticipantLeft(links.LeftSlot)
	pool.OnSlotRemoved(links.SlotGone)
	loop.onTick = a.tick
	loop.onStop = pool.Close

	// primeiro enchimento do pool; roda assim que Run começar
	loop.Post(pool.EnsureMinimumSpareCapacity)
	return a, nil
}

// Run bloqueia até o ctx encerrar. No encerramento todos os slots são
// derrubados antes de retornar.
func (a *Authority) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("authority already running")
	}
	return a.loop.Run(ctx)
}

// Done fecha quando Run terminou por completo.
func (a *Authority) Done() <-chan struct{} { return a.loop.Done() }

// WaitReady espera o primeiro ciclo de criação de slots terminar.
func (a *Authority) WaitReady(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once
	if err := a.loop.Call(ctx, func() {
		a.pool.WhenSettled(func() { once.Do(func() { close(ready) }) })
	}); err != nil {
		return err
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.loop.Done():
		return domain.ErrAuthorityStopped
	}
}

// Hooks é o ponto onde a camada de hosting reporta entradas, saídas e
// términos de slots.
func (a *Authority) Hooks() domain.HostCallbacks { return a.pool.Hooks() }

func (a *Authority) tick(now time.Time) {
	a.pool.RetireIdleSessions(now)
	for _, p := range a.links.Expire(now) {
		a.logger.Info("reconnect window expired", "participant", string(p))
		a.queue.Remove(p)
	}
	a.queue.ExpireStale(now)
	a.queue.TryFormGroup()
	if a.pool.SpareCount() < a.pool.cfg.TargetSpare {
		a.pool.EnsureMinimumSpareCapacity()
	}
}

// Connect admite um participante e liga a conexão ao link dele.
// Participante vazio recebe um id gerado.
func (a *Authority) Connect(ctx context.Context, p domain.ParticipantID, sink domain.Sink) (*Conn, error) {
	if p == "" {
		p = domain.ParticipantID(uuid.NewString())
	}
	release, ok := a.admission.Admit(ctx)
	if !ok {
		a.stats.record(domain.StatsAdmissionRefused, "")
		a.logger.Warn("connection refused: server at participant capacity", "participant", string(p), "connected", a.admission.InUse())
		return nil, domain.ErrAdmissionRefused
	}

	token := uuid.NewString()
	var (
		resumed   bool
		attachErr error
	)
	err := a.loop.Call(ctx, func() {
		resumed, attachErr = a.links.Attach(p, token, sink)
	})
	if err == nil {
		err = attachErr
	}
	if err != nil {
		release()
		return nil, err
	}
	return &Conn{a: a, id: p, token: token, release: release, resumed: resumed}, nil
}

func (a *Authority) requestMatch(p domain.ParticipantID, token string) error {
	l, err := a.links.Authorize(p, token)
	if err != nil {
		a.logger.Warn("match request rejected", "participant", string(p), "err", err)
		return err
	}
	if err := a.links.BeginRequest(l); err != nil {
		a.logger.Warn("duplicate match request ignored", "participant", string(p), "state", l.State.String())
		return err
	}
	if err := a.queue.Enqueue(p); err != nil {
		a.links.Rollback(l)
		a.logger.Warn("enqueue rejected", "participant", string(p), "err", err)
		return err
	}
	return nil
}

func (a *Authority) confirmReady(p domain.ParticipantID, token string, accept bool) error {
	if _, err := a.links.Authorize(p, token); err != nil {
		a.logger.Warn("confirmation rejected", "participant", string(p), "err", err)
		return err
	}
	err := a.queue.ConfirmReady(p, accept)
	if errors.Is(err, domain.ErrNoPendingMatch) {
		// recusar enquanto ainda procura = sair da fila
		if !accept && a.queue.Queued(p) {
			a.queue.Remove(p)
			a.links.ExitedQueue(p)
			return nil
		}
		a.logger.Warn("confirmation without pending match ignored", "participant", string(p))
	}
	return err
}

// Statistics devolve o retrato atual do pool e da fila.
func (a *Authority) Statistics(ctx context.Context) (domain.Statistics, error) {
	var st domain.Statistics
	err := a.loop.Call(ctx, func() {
		st = a.pool.Statistics()
		st.Queued = a.queue.Len()
		st.PendingMatches = a.queue.PendingCount()
		st.ConnectedLinks = a.links.Connected()
	})
	return st, err
}

func (a *Authority) Slots(ctx context.Context) ([]domain.Slot, error) {
	var out []domain.Slot
	err := a.loop.Call(ctx, func() { out = a.pool.Slots() })
	return out, err
}

// Conn é uma conexão admitida. Só o dono do token fala pelo participante.
type Conn struct {
	a       *Authority
	id      domain.ParticipantID
	token   string
	release func()
	resumed bool
	once    sync.Once
}

func (c *Conn) Participant() domain.ParticipantID { return c.id }

// Resumed indica que a conexão retomou um link que estava solto.
func (c *Conn) Resumed() bool { return c.resumed }

func (c *Conn) RequestMatch(ctx context.Context) error {
	var res error
	if err := c.a.loop.Call(ctx, func() { res = c.a.requestMatch(c.id, c.token) }); err != nil {
		return err
	}
	return res
}

func (c *Conn) ConfirmReady(ctx context.Context, accept bool) error {
	var res error
	if err := c.a.loop.Call(ctx, func() { res = c.a.confirmReady(c.id, c.token, accept) }); err != nil {
		return err
	}
	return res
}

// State devolve o estado do quick match e o último Ticket.
func (c *Conn) State(ctx context.Context) (domain.MatchState, domain.Ticket, error) {
	var (
		state  domain.MatchState
		ticket domain.Ticket
		res    error
	)
	err := c.a.loop.Call(ctx, func() {
		l, ok := c.a.links.Link(c.id)
		if !ok || l.owner != c.token {
			res = fmt.Errorf("participant %s: %w", c.id, domain.ErrNotOwner)
			return
		}
		state, ticket = l.State, l.Ticket
	})
	if err != nil {
		return state, ticket, err
	}
	return state, ticket, res
}

// Close solta a conexão. Sem janela de reconexão, conta como desconexão.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.a.loop.Post(func() {
			if c.a.links.Detach(c.id, c.token) {
				c.a.queue.Remove(c.id)
			}
		})
		c.release()
	})
}
