package domain

import "time"

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// A camada de infra usa golang.org/x/time/rate (token bucket).
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (aqui: o participante).
type LimiterStore interface {
	Get(Key) Limiter
	Forget(Key)
}

type Decision struct {
	Allowed bool
	// RetryAfter é a recomendação de espera quando bloquear. Se 0, não há.
	RetryAfter time.Duration
}
