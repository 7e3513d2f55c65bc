package infra

import (
	"context"
	"sync"

	"quickmatch-server/matchmaking/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool simples baseado em channel com capacidade `max`.
func NewChanPool(max int) domain.AdmissionPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) TryAcquire() (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	default:
		return nil, false
	}
}

func (p *chanPool) InUse() int { return len(p.sem) }

// releaser devolve a vaga uma única vez, mesmo com chamadas repetidas.
func (p *chanPool) releaser() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}
