package application

import (
	"fmt"
	"log/slog"
	"time"

	"quickmatch-server/matchmaking/domain"
)

// MatchQueue forma grupos de k participantes em ordem de chegada e conduz o
// handshake tudo-ou-nada de cada grupo. Roda somente no Loop.
type MatchQueue struct {
	k       int
	waiting domain.WaitQueue
	pool    *SessionPool
	relay   relay
	clock   Clock
	logger  *slog.Logger
	stats   statsRecorder

	// ConfirmTimeout cancela grupos que não fecham a tempo. 0 desliga.
	confirmTimeout time.Duration

	byParticipant map[domain.ParticipantID]*PendingMatch
	matches       map[string]*PendingMatch
}

func NewMatchQueue(waiting domain.WaitQueue, pool *SessionPool, r relay, confirmTimeout time.Duration, stats statsRecorder, logger *slog.Logger) *MatchQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &MatchQueue{
		k:              pool.Capacity(),
		waiting:        waiting,
		pool:           pool,
		relay:          r,
		clock:          pool.clock,
		logger:         logger,
		stats:          stats,
		confirmTimeout: confirmTimeout,
		byParticipant:  make(map[domain.ParticipantID]*PendingMatch),
		matches:        make(map[string]*PendingMatch),
	}
	pool.OnSlotAvailable(func() { q.TryFormGroup() })
	pool.OnSlotLost(q.slotLost)
	return q
}

// Enqueue coloca p no fim da fila e tenta formar grupo na hora.
func (q *MatchQueue) Enqueue(p domain.ParticipantID) error {
	if _, ok := q.byParticipant[p]; ok {
		return fmt.Errorf("enqueue %s: %w", p, domain.ErrAlreadyQueued)
	}
	if !q.waiting.Push(p) {
		return fmt.Errorf("enqueue %s: %w", p, domain.ErrAlreadyQueued)
	}
	q.logger.Info("participant queued", "participant", string(p), "queued", q.waiting.Len())
	q.TryFormGroup()
	return nil
}

// TryFormGroup forma quantos grupos a fila e os slots livres permitirem.
// Sem slot livre, pede top-up ao pool e deixa todo mundo na fila.
func (q *MatchQueue) TryFormGroup() int {
	formed := 0
	if q.pool.Closed() {
		return 0
	}
	for q.waiting.Len() >= q.k {
		slot, ok := q.pool.ReserveFree()
		if !ok {
			q.pool.EnsureMinimumSpareCapacity()
			break
		}
		members := q.waiting.PopN(q.k)
		if len(members) != q.k {
			// não deveria acontecer com Len() >= k
			q.pool.ReleaseReservation(slot.ID)
			break
		}

		pm := newPendingMatch(slot, members, q.clock.Now())
		q.matches[pm.ID] = pm
		for _, m := range members {
			q.byParticipant[m] = pm
		}
		q.logger.Info("group formed", "group", pm.ID, "session", slot.Session, "members", len(members))
		q.stats.record(domain.StatsGroupFormed, slot.ID)

		for _, m := range members {
			q.relay.MatchReady(m, pm.Ticket)
		}
		formed++

		// o slot reservado deixou de ser sobra
		q.pool.EnsureMinimumSpareCapacity()
	}
	return formed
}

// ConfirmReady registra o aceite ou a recusa de p no grupo dele.
func (q *MatchQueue) ConfirmReady(p domain.ParticipantID, accept bool) error {
	pm, ok := q.byParticipant[p]
	if !ok {
		return fmt.Errorf("confirm %s: %w", p, domain.ErrNoPendingMatch)
	}
	if !accept {
		q.logger.Info("participant declined", "participant", string(p), "group", pm.ID)
		q.cancel(pm, map[domain.ParticipantID]struct{}{p: {}}, true)
		return nil
	}
	if !pm.confirm(p) {
		return nil
	}

	q.logger.Info("participant confirmed", "participant", string(p), "group", pm.ID,
		"confirmed", pm.ConfirmedCount(), "total", len(pm.Members))
	for _, m := range pm.Members {
		q.relay.ReadyStatus(m, p, pm.ConfirmedCount(), len(pm.Members))
	}

	if pm.Complete() {
		q.finalize(pm)
	}
	return nil
}

func (q *MatchQueue) finalize(pm *PendingMatch) {
	q.dissolve(pm)
	if err := q.pool.Commit(pm.Slot); err != nil {
		// o slot sumiu entre a última confirmação e agora; slotLost já teria
		// cancelado o grupo, então isto é só defensivo no log
		q.logger.Error("commit failed", "group", pm.ID, "err", err)
	}
	q.logger.Info("group committed", "group", pm.ID, "session", pm.Ticket.Session)
	q.stats.record(domain.StatsGroupCommitted, pm.Slot)
	for _, m := range pm.Members {
		q.relay.MatchStarting(m, pm.Ticket)
	}
}

// cancel desfaz o grupo. Quem está em out sai da fila (Idle); o resto volta
// para o fim da fila (Searching) e já tenta um grupo novo.
func (q *MatchQueue) cancel(pm *PendingMatch, out map[domain.ParticipantID]struct{}, releaseSlot bool) {
	q.dissolve(pm)
	if releaseSlot {
		q.pool.ReleaseReservation(pm.Slot)
	}

	var survivors []domain.ParticipantID
	for _, m := range pm.Members {
		if _, gone := out[m]; gone {
			continue
		}
		survivors = append(survivors, m)
		q.waiting.Push(m)
	}
	q.stats.record(domain.StatsGroupCancelled, pm.Slot)
	q.logger.Info("group cancelled", "group", pm.ID, "requeued", len(survivors), "exited", len(out))

	for _, m := range pm.Members {
		if _, gone := out[m]; gone {
			q.relay.ExitedQueue(m)
		} else {
			q.relay.QueueCancelled(m)
		}
	}

	if len(survivors) > 0 {
		q.TryFormGroup()
	}
}

func (q *MatchQueue) dissolve(pm *PendingMatch) {
	delete(q.matches, pm.ID)
	for _, m := range pm.Members {
		if q.byParticipant[m] == pm {
			delete(q.byParticipant, m)
		}
	}
}

// Remove trata a desconexão: sai da fila, ou recusa o grupo pendente.
func (q *MatchQueue) Remove(p domain.ParticipantID) {
	if q.waiting.Remove(p) {
		q.logger.Info("participant left queue", "participant", string(p))
		return
	}
	if pm, ok := q.byParticipant[p]; ok {
		q.logger.Info("participant disconnected during handshake", "participant", string(p), "group", pm.ID)
		q.cancel(pm, map[domain.ParticipantID]struct{}{p: {}}, true)
	}
}

func (q *MatchQueue) slotLost(id domain.SlotID) {
	for _, pm := range q.matches {
		if pm.Slot == id {
			q.logger.Warn("reserved slot lost, cancelling group", "group", pm.ID, "slot", string(id))
			q.cancel(pm, nil, false)
			return
		}
	}
}

// ExpireStale cancela grupos que passaram de confirmTimeout; quem não
// confirmou é tratado como recusa.
func (q *MatchQueue) ExpireStale(now time.Time) int {
	if q.confirmTimeout <= 0 {
		return 0
	}
	var stale []*PendingMatch
	for _, pm := range q.matches {
		if now.Sub(pm.CreatedAt) >= q.confirmTimeout {
			stale = append(stale, pm)
		}
	}
	for _, pm := range stale {
		out := make(map[domain.ParticipantID]struct{})
		for _, m := range pm.Members {
			if !pm.Confirmed(m) {
				out[m] = struct{}{}
			}
		}
		q.logger.Warn("group confirmation timed out", "group", pm.ID, "unconfirmed", len(out))
		q.cancel(pm, out, true)
	}
	return len(stale)
}

func (q *MatchQueue) Queued(p domain.ParticipantID) bool { return q.waiting.Contains(p) }

func (q *MatchQueue) PendingFor(p domain.ParticipantID) (*PendingMatch, bool) {
	pm, ok := q.byParticipant[p]
	return pm, ok
}

func (q *MatchQueue) Len() int { return q.waiting.Len() }

func (q *MatchQueue) PendingCount() int { return len(q.matches) }

func (q *MatchQueue) Waiting() []domain.ParticipantID { return q.waiting.Snapshot() }
