package application

import (
	"fmt"
	"log/slog"
	"time"

	"quickmatch-server/matchmaking/domain"
)

// ParticipantLink é a porta de entrada de um participante: guarda o estado do
// quick match, o último Ticket e a conexão dona.
type ParticipantLink struct {
	ID    domain.ParticipantID
	State domain.MatchState
	// Ticket é o último emitido; sobrevive a uma queda curta de conexão.
	Ticket domain.Ticket

	owner      string
	sink       domain.Sink
	detachedAt time.Time
}

func (l *ParticipantLink) Attached() bool { return l.owner != "" }

func (l *ParticipantLink) deliver(n domain.Notification) {
	if l.sink != nil {
		l.sink.Deliver(n)
	}
}

// LinkRegistry mantém os links por participante e implementa relay.
// Roda somente no Loop.
type LinkRegistry struct {
	links  map[domain.ParticipantID]*ParticipantLink
	grace  time.Duration
	clock  Clock
	gate   RequestGate
	stats  statsRecorder
	logger *slog.Logger
}

func NewLinkRegistry(grace time.Duration, gate RequestGate, clock Clock, stats statsRecorder, logger *slog.Logger) *LinkRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkRegistry{
		links:  make(map[domain.ParticipantID]*ParticipantLink),
		grace:  grace,
		clock:  clock,
		gate:   gate,
		stats:  stats,
		logger: logger,
	}
}

// Attach liga uma conexão (token) ao participante. Um link desconectado dentro
// da janela de reconexão é retomado e recebe o estado atual de novo.
func (r *LinkRegistry) Attach(p domain.ParticipantID, token string, sink domain.Sink) (resumed bool, err error) {
	if l, ok := r.links[p]; ok {
		if l.Attached() {
			return false, fmt.Errorf("attach %s: %w", p, domain.ErrNotOwner)
		}
		l.owner = token
		l.sink = sink
		l.detachedAt = time.Time{}
		r.logger.Info("participant reconnected", "participant", string(p), "state", l.State.String())
		r.resync(l)
		return true, nil
	}
	r.links[p] = &ParticipantLink{ID: p, State: domain.StateIdle, owner: token, sink: sink}
	return false, nil
}

func (r *LinkRegistry) resync(l *ParticipantLink) {
	switch l.State {
	case domain.StateSearching:
		l.deliver(domain.Notification{Kind: domain.NotifySearching})
	case domain.StateMatchReady:
		t := l.Ticket
		l.deliver(domain.Notification{Kind: domain.NotifyMatchReady, Ticket: &t})
	case domain.StateEnteringMatch:
		t := l.Ticket
		l.deliver(domain.Notification{Kind: domain.NotifyMatchStarting, Ticket: &t})
	}
}

// Detach solta a conexão. Retorna true quando o participante deve ser tratado
// como desconectado já (sem janela de reconexão).
func (r *LinkRegistry) Detach(p domain.ParticipantID, token string) bool {
	l, ok := r.links[p]
	if !ok || l.owner != token {
		return false
	}
	l.owner = ""
	l.sink = nil
	if r.grace <= 0 || l.State == domain.StateIdle {
		delete(r.links, p)
		r.gate.Forget(domain.Key(p))
		return true
	}
	l.detachedAt = r.clock.Now()
	return false
}

// Expire remove links soltos há mais que a janela de reconexão.
func (r *LinkRegistry) Expire(now time.Time) []domain.ParticipantID {
	var gone []domain.ParticipantID
	for id, l := range r.links {
		if l.Attached() || l.detachedAt.IsZero() {
			continue
		}
		if now.Sub(l.detachedAt) >= r.grace {
			gone = append(gone, id)
			delete(r.links, id)
			r.gate.Forget(domain.Key(id))
		}
	}
	return gone
}

// Authorize valida dono e limite de taxa de uma chamada.
func (r *LinkRegistry) Authorize(p domain.ParticipantID, token string) (*ParticipantLink, error) {
	l, ok := r.links[p]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", p, domain.ErrUnknownParticipant)
	}
	if l.owner != token {
		return nil, fmt.Errorf("participant %s: %w", p, domain.ErrNotOwner)
	}
	if dec := r.gate.Decide(domain.Key(p)); !dec.Allowed {
		r.stats.record(domain.StatsRequestThrottled, "")
		return nil, fmt.Errorf("participant %s retry after %s: %w", p, dec.RetryAfter, domain.ErrThrottled)
	}
	return l, nil
}

// BeginRequest passa o link de Idle para Searching. Só um pedido por vez.
func (r *LinkRegistry) BeginRequest(l *ParticipantLink) error {
	if l.State != domain.StateIdle {
		return fmt.Errorf("request match %s in state %s: %w", l.ID, l.State, domain.ErrNotIdle)
	}
	r.Searching(l.ID)
	return nil
}

// Rollback desfaz BeginRequest quando a fila recusou.
func (r *LinkRegistry) Rollback(l *ParticipantLink) {
	r.ExitedQueue(l.ID)
}

func (r *LinkRegistry) Link(p domain.ParticipantID) (*ParticipantLink, bool) {
	l, ok := r.links[p]
	return l, ok
}

func (r *LinkRegistry) Connected() int {
	n := 0
	for _, l := range r.links {
		if l.Attached() {
			n++
		}
	}
	return n
}

// LeftSlot devolve para Idle quem estava entrando/jogando nesse slot.
func (r *LinkRegistry) LeftSlot(slot domain.SlotID, p domain.ParticipantID) {
	l, ok := r.links[p]
	if !ok || l.State != domain.StateEnteringMatch || l.Ticket.SlotID != slot {
		return
	}
	l.State = domain.StateIdle
	l.Ticket = domain.Ticket{}
}

// SlotGone devolve para Idle quem tinha Ticket de um slot que sumiu antes de
// entrar nele.
func (r *LinkRegistry) SlotGone(slot domain.SlotID) {
	for _, l := range r.links {
		if l.State != domain.StateEnteringMatch || l.Ticket.SlotID != slot {
			continue
		}
		r.logger.Warn("ticket slot removed before join", "participant", string(l.ID), "session", l.Ticket.Session)
		r.ExitedQueue(l.ID)
	}
}

func (r *LinkRegistry) Searching(p domain.ParticipantID) {
	if l, ok := r.links[p]; ok {
		l.State = domain.StateSearching
		l.deliver(domain.Notification{Kind: domain.NotifySearching})
	}
}

func (r *LinkRegistry) MatchReady(p domain.ParticipantID, t domain.Ticket) {
	if l, ok := r.links[p]; ok {
		l.State = domain.StateMatchReady
		l.Ticket = t
		l.deliver(domain.Notification{Kind: domain.NotifyMatchReady, Ticket: &t})
	}
}

func (r *LinkRegistry) ReadyStatus(p domain.ParticipantID, who domain.ParticipantID, confirmed, total int) {
	if l, ok := r.links[p]; ok {
		l.deliver(domain.Notification{
			Kind:        domain.NotifyPlayerReadyStatus,
			Participant: who,
			Confirmed:   confirmed,
			Total:       total,
		})
	}
}

func (r *LinkRegistry) MatchStarting(p domain.ParticipantID, t domain.Ticket) {
	if l, ok := r.links[p]; ok {
		l.State = domain.StateEnteringMatch
		l.Ticket = t
		l.deliver(domain.Notification{Kind: domain.NotifyMatchStarting, Ticket: &t})
	}
}

func (r *LinkRegistry) QueueCancelled(p domain.ParticipantID) {
	if l, ok := r.links[p]; ok {
		l.State = domain.StateSearching
		l.Ticket = domain.Ticket{}
		l.deliver(domain.Notification{Kind: domain.NotifyQueueCancelled})
	}
}

func (r *LinkRegistry) ExitedQueue(p domain.ParticipantID) {
	if l, ok := r.links[p]; ok {
		l.State = domain.StateIdle
		l.Ticket = domain.Ticket{}
		l.deliver(domain.Notification{Kind: domain.NotifyExitedQueue})
	}
}
