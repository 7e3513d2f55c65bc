package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"quickmatch-server/matchmaking/domain"
)

func TestMemoryStatsStore_CountsByKind(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackSlots(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Kind: domain.StatsSlotCreated, Slot: "a"})
	_ = s.Record(ctx, domain.StatsEvent{Kind: domain.StatsSlotCreated, Slot: "b"})
	_ = s.Record(ctx, domain.StatsEvent{Kind: domain.StatsGroupFormed, Slot: "a"})

	if s.Count(domain.StatsSlotCreated) != 2 {
		t.Fatalf("expected 2 slot_created, got %d", s.Count(domain.StatsSlotCreated))
	}
	bySlot := s.BySlot("a")
	if bySlot[domain.StatsSlotCreated] != 1 || bySlot[domain.StatsGroupFormed] != 1 {
		t.Fatalf("unexpected per-slot counters %v", bySlot)
	}
}

func TestMemoryStatsStore_SlotsNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Kind: domain.StatsSlotRetired, Slot: "a"})
	if len(s.BySlot("a")) != 0 {
		t.Fatalf("expected no per-slot counters")
	}
	if s.Total()[domain.StatsSlotRetired] != 1 {
		t.Fatalf("expected total counter")
	}
}

type failingStats struct{}

func (failingStats) Record(context.Context, domain.StatsEvent) error { return errors.New("down") }

func TestMultiStatsStore_RecordsEverywhere(t *testing.T) {
	mem := NewMemoryStatsStore()
	m := MultiStatsStore{failingStats{}, nil, mem}

	err := m.Record(context.Background(), domain.StatsEvent{Kind: domain.StatsGroupCommitted})
	if err == nil {
		t.Fatalf("expected first error to surface")
	}
	if mem.Count(domain.StatsGroupCommitted) != 1 {
		t.Fatalf("later stores must still record")
	}
}

func TestRedisStatsStore_Keys(t *testing.T) {
	s := NewRedisStatsStore(nil, WithStatsPrefix("qm:stats:"), WithStatsTrackSlots(true))
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	keys := s.Keys(domain.StatsEvent{Kind: domain.StatsSlotCreated, Slot: "abc", At: at})
	want := []string{"qm:stats:total", "qm:stats:minute:202603040506", "qm:stats:slot:abc"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestRedisStatsStore_NoBucket(t *testing.T) {
	s := NewRedisStatsStore(nil, WithStatsBucket(" NONE "))
	keys := s.Keys(domain.StatsEvent{Kind: domain.StatsSlotCreated, Slot: "abc"})
	if len(keys) != 1 || keys[0] != "quickmatch:stats:total" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestRedisStatsStore_NilClientIsNoop(t *testing.T) {
	s := NewRedisStatsStore(nil)
	if err := s.Record(context.Background(), domain.StatsEvent{Kind: domain.StatsSlotCreated}); err != nil {
		t.Fatalf("expected nil error without client, got %v", err)
	}
}
