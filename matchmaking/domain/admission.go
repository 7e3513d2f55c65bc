package domain

import "context"

// AdmissionPool representa o teto de participantes conectados ao mesmo tempo.
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar;
// TryAcquire nunca bloqueia. Ao adquirir, retorna uma função de release que
// deve ser chamada exatamente uma vez.
type AdmissionPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	TryAcquire() (release func(), ok bool)
	InUse() int
}
