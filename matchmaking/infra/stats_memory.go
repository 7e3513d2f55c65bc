package infra

import (
	"context"
	"sync"

	"quickmatch-server/matchmaking/domain"
)

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento, e como fonte do dashboard quando o
// Redis está desligado.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu     sync.Mutex
	total  map[domain.StatsKind]int64
	bySlot map[domain.SlotID]map[domain.StatsKind]int64

	trackSlots bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackSlots(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackSlots = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total:  make(map[domain.StatsKind]int64),
		bySlot: make(map[domain.SlotID]map[domain.StatsKind]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Kind]++
	if s.trackSlots && ev.Slot != "" {
		c := s.bySlot[ev.Slot]
		if c == nil {
			c = make(map[domain.StatsKind]int64)
			s.bySlot[ev.Slot] = c
		}
		c[ev.Kind]++
	}
	return nil
}

func (s *MemoryStatsStore) Count(kind domain.StatsKind) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total[kind]
}

func (s *MemoryStatsStore) Total() map[domain.StatsKind]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.StatsKind]int64, len(s.total))
	for k, v := range s.total {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) BySlot(id domain.SlotID) map[domain.StatsKind]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.StatsKind]int64, len(s.bySlot[id]))
	for k, v := range s.bySlot[id] {
		out[k] = v
	}
	return out
}

// MultiStatsStore grava em vários stores; o primeiro erro é devolvido depois
// de todos tentarem.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
