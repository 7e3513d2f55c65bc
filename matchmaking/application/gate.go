package application

import (
	"time"

	"quickmatch-server/matchmaking/domain"
)

// RequestGate concentra a regra de limite de taxa por chave (participante ou
// cliente).
//
// Ele não sabe nada sobre a conexão, apenas retorna uma decisão.
type RequestGate struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

func (g RequestGate) Decide(key domain.Key) domain.Decision {
	if g.Store == nil {
		return domain.Decision{Allowed: true}
	}
	if g.RetryAfter <= 0 {
		g.RetryAfter = 1 * time.Second
	}

	lim := g.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true}
	}
	if lim.Allow() {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{Allowed: false, RetryAfter: g.RetryAfter}
}

// Forget descarta o limiter de quem saiu de vez.
func (g RequestGate) Forget(key domain.Key) {
	if g.Store != nil {
		g.Store.Forget(key)
	}
}
