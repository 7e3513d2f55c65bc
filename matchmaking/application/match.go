package application

import (
	"time"

	"github.com/google/uuid"

	"quickmatch-server/matchmaking/domain"
)

// PendingMatch acompanha as confirmações de um grupo formado. Só existe entre
// a formação e o desfecho (todos confirmaram ou alguém recusou).
type PendingMatch struct {
	ID        string
	Slot      domain.SlotID
	Ticket    domain.Ticket
	Members   []domain.ParticipantID
	CreatedAt time.Time

	confirmed map[domain.ParticipantID]struct{}
}

func newPendingMatch(slot domain.Slot, members []domain.ParticipantID, now time.Time) *PendingMatch {
	return &PendingMatch{
		ID:   uuid.NewString(),
		Slot: slot.ID,
		Ticket: domain.Ticket{
			SlotID:  slot.ID,
			Session: slot.Session,
			Address: slot.Address,
			Port:    slot.Port,
		},
		Members:   append([]domain.ParticipantID(nil), members...),
		CreatedAt: now,
		confirmed: make(map[domain.ParticipantID]struct{}, len(members)),
	}
}

// confirm retorna false se p já tinha confirmado.
func (m *PendingMatch) confirm(p domain.ParticipantID) bool {
	if _, ok := m.confirmed[p]; ok {
		return false
	}
	m.confirmed[p] = struct{}{}
	return true
}

func (m *PendingMatch) Confirmed(p domain.ParticipantID) bool {
	_, ok := m.confirmed[p]
	return ok
}

func (m *PendingMatch) ConfirmedCount() int { return len(m.confirmed) }

func (m *PendingMatch) Complete() bool { return len(m.confirmed) == len(m.Members) }

// relay é o caminho de volta para os participantes (ParticipantLink).
type relay interface {
	Searching(p domain.ParticipantID)
	MatchReady(p domain.ParticipantID, t domain.Ticket)
	ReadyStatus(p domain.ParticipantID, who domain.ParticipantID, confirmed, total int)
	MatchStarting(p domain.ParticipantID, t domain.Ticket)
	QueueCancelled(p domain.ParticipantID)
	ExitedQueue(p domain.ParticipantID)
}
