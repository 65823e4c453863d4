package decoderqueue

import (
	"testing"

	"github.com/drgolem/gapless/pkg/decoders/memtest"
	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/pcmfmt"
)

func newState(seq uint64) *decoderstate.State {
	format := pcmfmt.Format{SampleRate: 48000, Channels: 1}
	dec := memtest.New(format, pcmfmt.Buffers{{1, 2, 3}}, false)
	return decoderstate.New(dec, seq, nil)
}

func TestEnqueuePopNextFIFO(t *testing.T) {
	q := New()
	a, b, c := newState(1), newState(2), newState(3)

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	if q.PendingLen() != 3 {
		t.Fatalf("PendingLen: got %d, want 3", q.PendingLen())
	}

	for _, want := range []*decoderstate.State{a, b, c} {
		got := q.PopNext()
		if got != want {
			t.Errorf("PopNext: got seq %d, want seq %d", got.Sequence, want.Sequence)
		}
	}

	if got := q.PopNext(); got != nil {
		t.Errorf("PopNext on empty queue: got %v, want nil", got)
	}
}

func TestClearEmptiesPendingOnly(t *testing.T) {
	q := New()
	cur := newState(1)
	q.SetCurrent(cur)
	q.Enqueue(newState(2))
	q.Enqueue(newState(3))

	q.Clear()

	if q.PendingLen() != 0 {
		t.Errorf("PendingLen after Clear: got %d, want 0", q.PendingLen())
	}
	if q.Current() != cur {
		t.Error("Clear must not touch Current")
	}
}

func TestSetCurrentAndCurrent(t *testing.T) {
	q := New()
	if q.Current() != nil {
		t.Fatal("new queue should have nil Current")
	}
	s := newState(1)
	q.SetCurrent(s)
	if q.Current() != s {
		t.Error("Current should return what SetCurrent stored")
	}
}
