package domain

import "time"

type SlotID string

// SlotState é o ciclo de vida de um slot dentro do pool.
type SlotState int

const (
	SlotStarting SlotState = iota
	SlotActive
	SlotIdle
	SlotShuttingDown
	SlotTerminated
)

func (s SlotState) String() string {
	switch s {
	case SlotStarting:
		return "starting"
	case SlotActive:
		return "active"
	case SlotIdle:
		return "idle"
	case SlotShuttingDown:
		return "shutting_down"
	case SlotTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reservation indica quem está segurando um slot vazio.
//
//   - ReservationNone: livre para um novo grupo
//   - ReservationPending: preso a um PendingMatch em andamento
//   - ReservationCommitted: grupo confirmou, aguardando o primeiro jogador entrar
type Reservation int

const (
	ReservationNone Reservation = iota
	ReservationPending
	ReservationCommitted
)

func (r Reservation) String() string {
	switch r {
	case ReservationPending:
		return "pending"
	case ReservationCommitted:
		return "committed"
	default:
		return "none"
	}
}

// Slot é uma cópia (snapshot) do estado de um slot. O pool nunca expõe o
// registro interno para mutação externa.
type Slot struct {
	ID          SlotID      `json:"id"`
	Session     string      `json:"session"`
	Address     string      `json:"address"`
	Port        int         `json:"port"`
	Capacity    int         `json:"capacity"`
	Occupancy   int         `json:"occupancy"`
	IdleSince   time.Time   `json:"idle_since"`
	Reservation Reservation `json:"reservation"`
	State       SlotState   `json:"state"`
}

func (s Slot) Full() bool { return s.Occupancy >= s.Capacity }

// Reservable segue a regra: só pode ser reservado vazio e sem reserva.
func (s Slot) Reservable() bool {
	return s.Occupancy == 0 && s.Reservation == ReservationNone &&
		(s.State == SlotActive || s.State == SlotIdle)
}

// Spare conta para a capacidade ociosa alvo do pool.
func (s Slot) Spare() bool {
	return (s.State == SlotActive || s.State == SlotIdle) &&
		s.Reservation == ReservationNone && s.Occupancy < s.Capacity
}

// Ticket é o token opaco entregue ao participante para entrar no slot reservado.
type Ticket struct {
	SlotID  SlotID `json:"slot_id"`
	Session string `json:"session"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (t Ticket) IsValid() bool { return t.SlotID != "" && t.Session != "" }

func (t Ticket) String() string { return t.Session }

// Statistics é o retrato do pool usado no dashboard e em GET /stats.
type Statistics struct {
	OnlineParticipants int `json:"online_participants"`
	ConnectedLinks     int `json:"connected_links"`
	TotalSlots         int `json:"total_slots"`
	OccupiedSlots      int `json:"occupied_slots"`
	FullSlots          int `json:"full_slots"`
	SpareSlots         int `json:"spare_slots"`
	Queued             int `json:"queued"`
	PendingMatches     int `json:"pending_matches"`
}
