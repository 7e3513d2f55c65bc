package domain

// WaitQueue é a fila FIFO de participantes aguardando grupo.
//
// Contrato: um participante aparece no máximo uma vez; Push de quem já está
// na fila retorna false.
type WaitQueue interface {
	Push(p ParticipantID) bool
	Remove(p ParticipantID) bool
	Contains(p ParticipantID) bool
	Len() int
	// PopN remove e retorna os n mais antigos, na ordem de chegada.
	// Retorna nil se houver menos de n.
	PopN(n int) []ParticipantID
	Snapshot() []ParticipantID
}
