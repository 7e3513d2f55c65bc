package application

import (
	"context"
	"log/slog"
	"time"

	"quickmatch-server/matchmaking/domain"
)

// statsRecorder grava eventos fora do loop: um Redis lento não pode travar
// o matchmaking.
type statsRecorder struct {
	store   domain.StatsStore
	clock   Clock
	logger  *slog.Logger
	timeout time.Duration
}

func (r statsRecorder) record(kind domain.StatsKind, slot domain.SlotID) {
	if r.store == nil {
		return
	}
	ev := domain.StatsEvent{Kind: kind, Slot: slot, At: r.clock.Now()}
	timeout := r.timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.store.Record(ctx, ev); err != nil {
			r.logger.Warn("stats record failed", "kind", string(kind), "err", err)
		}
	}()
}
