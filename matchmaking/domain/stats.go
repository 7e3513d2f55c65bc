package domain

import (
	"context"
	"time"
)

type StatsKind string

const (
	StatsSlotCreated      StatsKind = "slot_created"
	StatsSlotCreateFailed StatsKind = "slot_create_failed"
	StatsSlotRetired      StatsKind = "slot_retired"
	StatsSlotTerminated   StatsKind = "slot_terminated"
	StatsGroupFormed      StatsKind = "group_formed"
	StatsGroupCommitted   StatsKind = "group_committed"
	StatsGroupCancelled   StatsKind = "group_cancelled"
	StatsAdmissionRefused StatsKind = "admission_refused"
	StatsRequestThrottled StatsKind = "request_throttled"
)

// StatsEvent representa um evento do pool ou do matchmaking.
//
// Observação: cuidado com cardinalidade. Slot é opcional e só entra em chaves
// quando o store estiver configurado para isso.
type StatsEvent struct {
	Kind StatsKind
	Slot SlotID
	At   time.Time
}

// StatsStore é a estratégia de persistência para contadores do matchmaking.
//
// Implementações podem armazenar em Redis, memória, etc.
// O chamador trata erro como best-effort (nunca derruba o loop de controle).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
