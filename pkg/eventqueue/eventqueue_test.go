package eventqueue

import "testing"

func TestPushPopFIFOOrder(t *testing.T) {
	q := New(4)

	events := []Event{
		{Kind: KindDecodingStarted, DecoderSeq: 1},
		{Kind: KindRenderingStarted, DecoderSeq: 1},
		{Kind: KindDecodingComplete, DecoderSeq: 1},
	}

	for _, ev := range events {
		if err := q.Push(ev); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for i, want := range events {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: queue unexpectedly empty", i)
		}
		if got.Kind != want.Kind || got.DecoderSeq != want.DecoderSeq {
			t.Errorf("Pop %d: got %+v, want %+v", i, got, want)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue should return ok=false")
	}
}

func TestPushReturnsErrQueueFullAtCapacity(t *testing.T) {
	q := New(2) // rounds up to 2

	if err := q.Push(Event{Kind: KindEndOfAudio}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Event{Kind: KindEndOfAudio}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Event{Kind: KindEndOfAudio}); err != ErrQueueFull {
		t.Errorf("Push on full queue: got %v, want ErrQueueFull", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	original := Event{
		Kind:              KindDecodingCanceled,
		DecoderSeq:        42,
		HostTime:          123456789,
		PartiallyRendered: true,
		ErrCode:           7,
	}

	data := original.Marshal()

	var decoded Event
	if err := decoded.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip: got %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	var e Event
	if err := e.Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short buffer")
	}
}
