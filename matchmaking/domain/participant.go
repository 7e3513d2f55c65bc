package domain

type ParticipantID string

// MatchState é o estado visível pelo participante no quick match.
type MatchState int

const (
	StateIdle MatchState = iota
	StateSearching
	StateMatchReady
	StateEnteringMatch
)

func (s MatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateMatchReady:
		return "match_ready"
	case StateEnteringMatch:
		return "entering_match"
	default:
		return "unknown"
	}
}

type NotificationKind string

const (
	NotifySearching         NotificationKind = "searching"
	NotifyMatchReady        NotificationKind = "match_ready"
	NotifyQueueCancelled    NotificationKind = "queue_cancelled"
	NotifyExitedQueue       NotificationKind = "exited_queue"
	NotifyPlayerReadyStatus NotificationKind = "player_ready_status"
	NotifyMatchStarting     NotificationKind = "match_starting"
)

// Notification é um evento autoridade -> participante.
//
// Ticket vale para MatchReady/MatchStarting; Participant/Confirmed/Total só
// para PlayerReadyStatus.
type Notification struct {
	Kind        NotificationKind `json:"type"`
	Ticket      *Ticket          `json:"ticket,omitempty"`
	Participant ParticipantID    `json:"participant,omitempty"`
	Confirmed   int              `json:"confirmed,omitempty"`
	Total       int              `json:"total,omitempty"`
}

// Sink entrega notificações para a conexão dona do participante.
//
// É chamado a partir do loop de controle, então a implementação não pode
// bloquear (ex.: enfileira num channel com buffer).
type Sink interface {
	Deliver(n Notification)
}

type SinkFunc func(Notification)

func (f SinkFunc) Deliver(n Notification) { f(n) }
