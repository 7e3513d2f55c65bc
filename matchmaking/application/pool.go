package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"quickmatch-server/matchmaking/domain"
)

// PoolConfig controla a capacidade ociosa e o ciclo de vida dos slots.
type PoolConfig struct {
	// TargetSpare é quantos slots não cheios e sem reserva o pool tenta manter.
	TargetSpare int
	// Capacity é o número de participantes por slot (k).
	Capacity int
	// IdleTimeout: slot vazio por pelo menos esse tempo é derrubado. 0 desliga.
	IdleTimeout     time.Duration
	SetupTimeout    time.Duration
	ShutdownTimeout time.Duration
	BasePort        int
	SessionPrefix   string
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Capacity <= 0 {
		c.Capacity = 3
	}
	if c.TargetSpare < 0 {
		c.TargetSpare = 0
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.BasePort <= 0 {
		c.BasePort = 27015
	}
	if strings.TrimSpace(c.SessionPrefix) == "" {
		c.SessionPrefix = "DedicatedRoom"
	}
	return c
}

type slotEntry struct {
	slot      domain.Slot
	instance  domain.Instance
	occupants map[domain.ParticipantID]struct{}
}

// SessionPool é dono do registro de slots. Não é thread-safe: todos os
// métodos rodam no Loop.
type SessionPool struct {
	cfg    PoolConfig
	host   domain.Host
	loop   *Loop
	clock  Clock
	logger *slog.Logger
	stats  statsRecorder
	hooks  domain.HostCallbacks

	slots map[domain.SlotID]*slotEntry
	order []domain.SlotID

	creating   bool
	closed     bool
	nextOffset int
	freePorts  []int
	online     int

	onAvailable []func()
	onLost      []func(domain.SlotID)
	onJoined    []func(domain.SlotID, domain.ParticipantID)
	onLeft      []func(domain.SlotID, domain.ParticipantID)
	onRemoved   []func(domain.SlotID)
	onSettled   []func()
}

func NewSessionPool(cfg PoolConfig, host domain.Host, loop *Loop, stats statsRecorder, logger *slog.Logger) *SessionPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &SessionPool{
		cfg:    cfg.withDefaults(),
		host:   host,
		loop:   loop,
		clock:  loop.clock,
		logger: logger,
		stats:  stats,
		slots:  make(map[domain.SlotID]*slotEntry),
	}
	p.hooks = poolHooks{pool: p}
	return p
}

// OnSlotAvailable registra quem quer saber que um slot pode ter ficado livre
// (slot novo ou slot que esvaziou).
func (p *SessionPool) OnSlotAvailable(fn func()) { p.onAvailable = append(p.onAvailable, fn) }

// OnSlotLost registra quem precisa reagir quando um slot some com reserva
// pendente (término inesperado ou encerramento do pool).
func (p *SessionPool) OnSlotLost(fn func(domain.SlotID)) { p.onLost = append(p.onLost, fn) }

func (p *SessionPool) OnParticipantJoined(fn func(domain.SlotID, domain.ParticipantID)) {
	p.onJoined = append(p.onJoined, fn)
}

func (p *SessionPool) OnParticipantLeft(fn func(domain.SlotID, domain.ParticipantID)) {
	p.onLeft = append(p.onLeft, fn)
}

// OnSlotRemoved registra quem precisa saber que um slot saiu do registro,
// seja por shutdown ou por término inesperado.
func (p *SessionPool) OnSlotRemoved(fn func(domain.SlotID)) { p.onRemoved = append(p.onRemoved, fn) }

// WhenSettled chama fn assim que não houver ciclo de criação em andamento.
func (p *SessionPool) WhenSettled(fn func()) {
	if !p.creating {
		fn()
		return
	}
	p.onSettled = append(p.onSettled, fn)
}

// Hooks é o HostCallbacks entregue ao host; cada chamada vira um Post no loop.
func (p *SessionPool) Hooks() domain.HostCallbacks { return p.hooks }

func (p *SessionPool) Capacity() int { return p.cfg.Capacity }

// EnsureMinimumSpareCapacity cria slots, um de cada vez, até SpareCount
// atingir o alvo. Chamadas durante um ciclo em andamento não fazem nada:
// o ciclo reavalia a condição a cada slot criado.
func (p *SessionPool) EnsureMinimumSpareCapacity() {
	if p.creating || p.closed {
		return
	}
	p.creating = true
	p.topUp()
}

func (p *SessionPool) topUp() {
	if p.closed || p.SpareCount() >= p.cfg.TargetSpare {
		p.settle()
		return
	}
	p.CreateSlot(func(ok bool) {
		if !ok {
			// sem retry: o próximo evento que chamar Ensure recomeça o ciclo
			p.settle()
			return
		}
		p.topUp()
	})
}

func (p *SessionPool) settle() {
	p.creating = false
	waiters := p.onSettled
	p.onSettled = nil
	for _, fn := range waiters {
		fn()
	}
}

type createResult struct {
	instance domain.Instance
	err      error
}

// CreateSlot sobe um slot novo no host. done(true) quando registrado.
func (p *SessionPool) CreateSlot(done func(ok bool)) {
	spec := domain.SlotSpec{
		ID:       domain.SlotID(uuid.NewString()),
		Session:  p.sessionName(),
		Port:     p.allocatePort(),
		Capacity: p.cfg.Capacity,
	}
	p.logger.Info("creating slot", "session", spec.Session, "port", spec.Port)

	setupTimeout := p.cfg.SetupTimeout
	shutdownTimeout := p.cfg.ShutdownTimeout
	host := p.host
	hooks := p.hooks

	spawn(p.loop, func() createResult {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()

		inst, err := host.Start(ctx, spec, hooks)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			if inst != nil {
				teardown(inst, shutdownTimeout)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("slot setup timed out after %s: %w", setupTimeout, err)
			}
			return createResult{err: err}
		}
		return createResult{instance: inst}
	}, func(r createResult) {
		if r.err != nil {
			p.logger.Error("slot creation failed", "session", spec.Session, "port", spec.Port, "err", r.err)
			p.stats.record(domain.StatsSlotCreateFailed, spec.ID)
			// a instância parcial já foi derrubada na goroutine
			p.freePorts = append(p.freePorts, spec.Port)
			done(false)
			return
		}
		if p.closed {
			p.releaseInstance(spec.Port, r.instance)
			done(false)
			return
		}

		now := p.clock.Now()
		p.slots[spec.ID] = &slotEntry{
			slot: domain.Slot{
				ID:        spec.ID,
				Session:   spec.Session,
				Address:   r.instance.Address(),
				Port:      spec.Port,
				Capacity:  spec.Capacity,
				IdleSince: now,
				State:     domain.SlotActive,
			},
			instance:  r.instance,
			occupants: make(map[domain.ParticipantID]struct{}),
		}
		p.order = append(p.order, spec.ID)

		p.logger.Info("slot started", "session", spec.Session, "port", spec.Port)
		p.stats.record(domain.StatsSlotCreated, spec.ID)
		p.logStatus("slot created")
		p.fireAvailable()
		done(true)
	})
}

func (p *SessionPool) releaseInstance(port int, inst domain.Instance) {
	timeout := p.cfg.ShutdownTimeout
	spawn(p.loop, func() struct{} {
		teardown(inst, timeout)
		return struct{}{}
	}, func(struct{}) {
		p.freePorts = append(p.freePorts, port)
	})
}

func teardown(inst domain.Instance, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return inst.Shutdown(ctx)
}

// RetireIdleSessions derruba slots vazios há pelo menos IdleTimeout.
// Slots presos a um PendingMatch ficam de fora.
func (p *SessionPool) RetireIdleSessions(now time.Time) int {
	if p.cfg.IdleTimeout <= 0 {
		return 0
	}
	var idle []domain.SlotID
	for _, id := range p.order {
		e := p.slots[id]
		if e.slot.State == domain.SlotShuttingDown || e.slot.Occupancy > 0 {
			continue
		}
		if e.slot.Reservation == domain.ReservationPending {
			continue
		}
		if now.Sub(e.slot.IdleSince) >= p.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		p.ShutdownSlot(id, "idle")
	}
	return len(idle)
}

// ShutdownSlot derruba um slot no máximo uma vez. Retorna false se o slot não
// existe ou já está sendo derrubado.
func (p *SessionPool) ShutdownSlot(id domain.SlotID, reason string) bool {
	e, ok := p.slots[id]
	if !ok || e.slot.State == domain.SlotShuttingDown {
		return false
	}
	wasPending := e.slot.Reservation == domain.ReservationPending
	e.slot.State = domain.SlotShuttingDown

	p.logger.Info("shutting down slot", "session", e.slot.Session, "port", e.slot.Port, "reason", reason)
	if wasPending {
		p.fireLost(id)
	}

	inst := e.instance
	timeout := p.cfg.ShutdownTimeout
	spawn(p.loop, func() error {
		return teardown(inst, timeout)
	}, func(err error) {
		if err != nil {
			p.logger.Warn("slot teardown reported error", "session", e.slot.Session, "err", err)
		}
		p.remove(id)
		p.stats.record(domain.StatsSlotRetired, id)
		p.logStatus(fmt.Sprintf("slot %s shut down", e.slot.Session))
		p.EnsureMinimumSpareCapacity()
	})
	return true
}

// OnSlotTerminatedUnexpectedly tem o mesmo efeito de um ShutdownSlot concluído.
// Se o slot já está sendo derrubado por nós, o evento é ignorado.
func (p *SessionPool) OnSlotTerminatedUnexpectedly(id domain.SlotID, reason string) {
	e, ok := p.slots[id]
	if !ok || e.slot.State == domain.SlotShuttingDown {
		return
	}
	wasPending := e.slot.Reservation == domain.ReservationPending

	p.logger.Error("slot terminated unexpectedly", "session", e.slot.Session, "port", e.slot.Port, "reason", reason)
	p.remove(id)
	p.stats.record(domain.StatsSlotTerminated, id)
	if wasPending {
		p.fireLost(id)
	}
	p.logStatus(fmt.Sprintf("slot %s terminated", e.slot.Session))
	p.EnsureMinimumSpareCapacity()
}

func (p *SessionPool) remove(id domain.SlotID) {
	e, ok := p.slots[id]
	if !ok {
		return
	}
	p.adjustOnline(-e.slot.Occupancy)
	delete(p.slots, id)
	for i, sid := range p.order {
		if sid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.freePorts = append(p.freePorts, e.slot.Port)
	for _, fn := range p.onRemoved {
		fn(id)
	}
}

// OnOccupancyChanged atualiza ocupação e idle-since. Slot cheio dispara
// top-up para manter o estoque de slots livres.
func (p *SessionPool) OnOccupancyChanged(id domain.SlotID, newCount int) {
	e, ok := p.slots[id]
	if !ok || e.slot.State == domain.SlotShuttingDown {
		return
	}
	if newCount < 0 {
		newCount = 0
	}
	prev := e.slot.Occupancy
	e.slot.Occupancy = newCount
	p.adjustOnline(newCount - prev)

	switch {
	case prev == 0 && newCount > 0:
		e.slot.IdleSince = time.Time{}
		e.slot.State = domain.SlotActive
		if e.slot.Reservation == domain.ReservationCommitted {
			e.slot.Reservation = domain.ReservationNone
		}
	case prev > 0 && newCount == 0:
		e.slot.IdleSince = p.clock.Now()
		e.slot.State = domain.SlotIdle
	}

	if newCount >= e.slot.Capacity {
		p.logger.Info("slot is full", "session", e.slot.Session)
		p.EnsureMinimumSpareCapacity()
	} else if p.SpareCount() < p.cfg.TargetSpare {
		p.EnsureMinimumSpareCapacity()
	}
	if newCount == 0 && prev > 0 {
		p.fireAvailable()
	}
}

func (p *SessionPool) participantJoined(id domain.SlotID, who domain.ParticipantID) {
	e, ok := p.slots[id]
	if !ok {
		p.logger.Warn("join for unknown slot", "slot", string(id), "participant", string(who))
		return
	}
	e.occupants[who] = struct{}{}
	p.logger.Info("participant joined slot", "session", e.slot.Session, "participant", string(who), "count", len(e.occupants))
	p.OnOccupancyChanged(id, len(e.occupants))
	for _, fn := range p.onJoined {
		fn(id, who)
	}
}

func (p *SessionPool) participantLeft(id domain.SlotID, who domain.ParticipantID) {
	e, ok := p.slots[id]
	if ok {
		delete(e.occupants, who)
		p.logger.Info("participant left slot", "session", e.slot.Session, "participant", string(who), "count", len(e.occupants))
		p.OnOccupancyChanged(id, len(e.occupants))
	}
	for _, fn := range p.onLeft {
		fn(id, who)
	}
}

// ReserveFree reserva o slot livre mais antigo para um PendingMatch.
func (p *SessionPool) ReserveFree() (domain.Slot, bool) {
	if p.closed {
		return domain.Slot{}, false
	}
	for _, id := range p.order {
		e := p.slots[id]
		if e.slot.Reservable() {
			e.slot.Reservation = domain.ReservationPending
			return e.slot, true
		}
	}
	return domain.Slot{}, false
}

// ReleaseReservation devolve um slot reservado (grupo cancelado).
func (p *SessionPool) ReleaseReservation(id domain.SlotID) {
	if e, ok := p.slots[id]; ok && e.slot.Reservation == domain.ReservationPending {
		e.slot.Reservation = domain.ReservationNone
	}
}

// Commit marca o slot como comprometido com o grupo que confirmou. O relógio
// de ociosidade recomeça agora.
func (p *SessionPool) Commit(id domain.SlotID) error {
	e, ok := p.slots[id]
	if !ok {
		return domain.ErrSlotNotFound
	}
	e.slot.Reservation = domain.ReservationCommitted
	if e.slot.Occupancy == 0 {
		e.slot.IdleSince = p.clock.Now()
	}
	return nil
}

// Close derruba todos os slots e impede novas criações.
func (p *SessionPool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, id := range append([]domain.SlotID(nil), p.order...) {
		p.ShutdownSlot(id, "pool closing")
	}
}

func (p *SessionPool) SpareCount() int {
	n := 0
	for _, e := range p.slots {
		if e.slot.Spare() {
			n++
		}
	}
	return n
}

func (p *SessionPool) Slot(id domain.SlotID) (domain.Slot, bool) {
	e, ok := p.slots[id]
	if !ok {
		return domain.Slot{}, false
	}
	return e.slot, true
}

func (p *SessionPool) Slots() []domain.Slot {
	out := make([]domain.Slot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.slots[id].slot)
	}
	return out
}

func (p *SessionPool) Online() int { return p.online }

func (p *SessionPool) Creating() bool { return p.creating }

// Closed indica que o pool está encerrando e não aceita novas reservas.
func (p *SessionPool) Closed() bool { return p.closed }

// Statistics preenche só a parte do pool; a Authority completa o resto.
func (p *SessionPool) Statistics() domain.Statistics {
	st := domain.Statistics{OnlineParticipants: p.online, TotalSlots: len(p.slots)}
	for _, e := range p.slots {
		if e.slot.Occupancy > 0 {
			st.OccupiedSlots++
		}
		if e.slot.Full() {
			st.FullSlots++
		}
		if e.slot.Spare() {
			st.SpareSlots++
		}
	}
	return st
}

func (p *SessionPool) adjustOnline(delta int) {
	if delta == 0 {
		return
	}
	p.online += delta
	if p.online < 0 {
		p.online = 0
	}
	p.logger.Debug("online participants", "total", p.online)
}

func (p *SessionPool) allocatePort() int {
	if len(p.freePorts) > 0 {
		sort.Ints(p.freePorts)
		port := p.freePorts[0]
		p.freePorts = p.freePorts[1:]
		return port
	}
	port := p.cfg.BasePort + p.nextOffset
	p.nextOffset++
	return port
}

func (p *SessionPool) sessionName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return p.cfg.SessionPrefix + "_" + id[:8]
}

func (p *SessionPool) fireAvailable() {
	for _, fn := range p.onAvailable {
		fn()
	}
}

func (p *SessionPool) fireLost(id domain.SlotID) {
	for _, fn := range p.onLost {
		fn(id)
	}
}

func (p *SessionPool) logStatus(what string) {
	if !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	parts := make([]string, 0, len(p.order))
	for _, id := range p.order {
		s := p.slots[id].slot
		parts = append(parts, fmt.Sprintf("%s[players=%d,port=%d,%s]", s.Session, s.Occupancy, s.Port, s.State))
	}
	status := "(none)"
	if len(parts) > 0 {
		status = strings.Join(parts, ", ")
	}
	p.logger.Debug("pool status", "context", what, "slots", status)
}

// poolHooks traduz callbacks do host (qualquer goroutine) em Posts no loop.
type poolHooks struct {
	pool *SessionPool
}

func (h poolHooks) ParticipantJoined(slot domain.SlotID, who domain.ParticipantID) {
	h.pool.loop.Post(func() { h.pool.participantJoined(slot, who) })
}

func (h poolHooks) ParticipantLeft(slot domain.SlotID, who domain.ParticipantID) {
	h.pool.loop.Post(func() { h.pool.participantLeft(slot, who) })
}

func (h poolHooks) SlotTerminated(slot domain.SlotID, reason string) {
	h.pool.loop.Post(func() { h.pool.OnSlotTerminatedUnexpectedly(slot, reason) })
}
