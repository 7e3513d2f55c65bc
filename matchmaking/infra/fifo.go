package infra

import (
	"github.com/eapache/queue"

	"quickmatch-server/matchmaking/domain"
)

type fifoEntry struct {
	p   domain.ParticipantID
	seq uint64
}

// FIFO implementa domain.WaitQueue sobre um ring buffer.
//
// Remove no meio da fila é preguiçoso: a entrada fica no buffer e é
// descartada quando chega na frente. Não é thread-safe (roda no loop).
type FIFO struct {
	buf     *queue.Queue
	members map[domain.ParticipantID]uint64
	seq     uint64
}

func NewFIFO() *FIFO {
	return &FIFO{
		buf:     queue.New(),
		members: make(map[domain.ParticipantID]uint64),
	}
}

func (f *FIFO) Push(p domain.ParticipantID) bool {
	if _, ok := f.members[p]; ok {
		return false
	}
	f.seq++
	f.members[p] = f.seq
	f.buf.Add(fifoEntry{p: p, seq: f.seq})
	return true
}

func (f *FIFO) Remove(p domain.ParticipantID) bool {
	if _, ok := f.members[p]; !ok {
		return false
	}
	delete(f.members, p)
	f.compact()
	return true
}

func (f *FIFO) Contains(p domain.ParticipantID) bool {
	_, ok := f.members[p]
	return ok
}

func (f *FIFO) Len() int { return len(f.members) }

func (f *FIFO) PopN(n int) []domain.ParticipantID {
	if n <= 0 || len(f.members) < n {
		return nil
	}
	out := make([]domain.ParticipantID, 0, n)
	for len(out) < n {
		e := f.buf.Remove().(fifoEntry)
		if !f.live(e) {
			continue
		}
		delete(f.members, e.p)
		out = append(out, e.p)
	}
	return out
}

func (f *FIFO) Snapshot() []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(f.members))
	for i := 0; i < f.buf.Length(); i++ {
		e := f.buf.Get(i).(fifoEntry)
		if f.live(e) {
			out = append(out, e.p)
		}
	}
	return out
}

func (f *FIFO) live(e fifoEntry) bool {
	seq, ok := f.members[e.p]
	return ok && seq == e.seq
}

// compact reconstrói o buffer quando as entradas mortas passam das vivas.
func (f *FIFO) compact() {
	if f.buf.Length() < 64 || f.buf.Length() < 2*len(f.members) {
		return
	}
	fresh := queue.New()
	for f.buf.Length() > 0 {
		e := f.buf.Remove().(fifoEntry)
		if f.live(e) {
			fresh.Add(e)
		}
	}
	f.buf = fresh
}
