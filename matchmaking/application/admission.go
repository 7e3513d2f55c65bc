package application

import (
	"context"
	"time"

	"quickmatch-server/matchmaking/domain"
)

// AdmissionService aplica o teto de participantes conectados, sem saber nada
// sobre WebSocket ou HTTP.
type AdmissionService struct {
	Pool           domain.AdmissionPool
	AcquireTimeout time.Duration
}

// Admit tenta ocupar uma vaga.
// - Se `AcquireTimeout <= 0`, recusa na hora quando lotado.
// - Se `AcquireTimeout > 0`, espera até o timeout por uma vaga.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s AdmissionService) Admit(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.TryAcquire()
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

func (s AdmissionService) InUse() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
