package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"quickmatch-server/matchmaking/domain"
)

// Loop é o único escritor do registro de slots, da fila e dos PendingMatch.
//
// Tudo que muta esse estado roda dentro de Run, uma função por vez. Tarefas
// longas (criar/derrubar slot) rodam em goroutines via spawn e voltam para o
// loop como continuação com Post.
type Loop struct {
	inbox chan func()
	done  chan struct{}
	tasks sync.WaitGroup

	tick        time.Duration
	stopTimeout time.Duration
	clock       Clock

	onTick func(now time.Time)
	onStop func()
}

func NewLoop(tick time.Duration, clock Clock) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	return &Loop{
		inbox:       make(chan func(), 256),
		done:        make(chan struct{}),
		tick:        tick,
		stopTimeout: 15 * time.Second,
		clock:       clock,
	}
}

// Post agenda fn no loop. Retorna false se o loop já terminou.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call executa fn no loop e espera terminar.
// Se o ctx encerrar antes de fn começar, fn não roda e Call devolve
// ctx.Err(); depois que fn começou, Call espera o fim e devolve nil.
// Nunca chame Call de dentro do próprio loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	const (
		callQueued int32 = iota
		callRunning
		callCancelled
	)
	var state atomic.Int32
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		if !state.CompareAndSwap(callQueued, callRunning) {
			return
		}
		fn()
	}) {
		return domain.ErrAuthorityStopped
	}
	select {
	case <-finished:
		if state.Load() == callCancelled {
			return ctx.Err()
		}
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(callQueued, callCancelled) {
			return ctx.Err()
		}
		<-finished
		return nil
	case <-l.done:
		// pode ter terminado junto com o loop
		select {
		case <-finished:
			return nil
		default:
			return domain.ErrAuthorityStopped
		}
	}
}

// Done fecha quando Run retorna.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run processa o inbox e o tick até o ctx encerrar. No encerramento chama
// onStop e continua drenando continuações até as tarefas em voo terminarem
// (limitado por stopTimeout).
func (l *Loop) Run(ctx context.Context) error {
	var tickC <-chan time.Time
	if l.tick > 0 {
		t := time.NewTicker(l.tick)
		defer t.Stop()
		tickC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			if l.onStop != nil {
				l.onStop()
			}
			l.drain()
			close(l.done)
			return nil
		case fn := <-l.inbox:
			fn()
		case <-tickC:
			if l.onTick != nil {
				l.onTick(l.clock.Now())
			}
		}
	}
}

func (l *Loop) drain() {
	idle := make(chan struct{})
	go func() {
		l.tasks.Wait()
		close(idle)
	}()

	timer := time.NewTimer(l.stopTimeout)
	defer timer.Stop()

	for {
		select {
		case fn := <-l.inbox:
			fn()
		case <-idle:
			for {
				select {
				case fn := <-l.inbox:
					fn()
				default:
					return
				}
			}
		case <-timer.C:
			return
		}
	}
}

// spawn roda task fora do loop e entrega o resultado para cont dentro do loop.
func spawn[T any](l *Loop, task func() T, cont func(T)) {
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		v := task()
		l.Post(func() { cont(v) })
	}()
}
