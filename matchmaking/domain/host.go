package domain

import "context"

// SlotSpec descreve o slot que o host deve subir.
type SlotSpec struct {
	ID       SlotID
	Session  string
	Port     int
	Capacity int
}

// HostCallbacks é o ponto de registro dos eventos vindos da camada de hosting.
// O host nunca conhece o pool: apenas chama estes callbacks com o SlotID.
type HostCallbacks interface {
	ParticipantJoined(slot SlotID, p ParticipantID)
	ParticipantLeft(slot SlotID, p ParticipantID)
	SlotTerminated(slot SlotID, reason string)
}

// Host é a camada externa que hospeda sessões (uma instância por slot).
//
// Start deve respeitar o ctx (o pool aplica o timeout de setup). Se Start
// retornar erro, o host é responsável por liberar o que alocou parcialmente.
type Host interface {
	Start(ctx context.Context, spec SlotSpec, cb HostCallbacks) (Instance, error)
}

// Instance é uma sessão hospedada em execução.
type Instance interface {
	// Address é o endereço público anunciado no Ticket.
	Address() string
	Shutdown(ctx context.Context) error
}
