package sendqueue

import "testing"

func TestQueuePutGetOrder(t *testing.T) {
	q := New()
	q.Put("vm1/private.img.000", "vm1/private.img.000.hmac")
	q.Put("vm1/private.img.001", "vm1/private.img.001.hmac")
	q.Finish()

	first := q.Get()
	if first.Done || first.Chunk != "vm1/private.img.000" {
		t.Errorf("unexpected first item: %+v", first)
	}
	second := q.Get()
	if second.Done || second.Chunk != "vm1/private.img.001" {
		t.Errorf("unexpected second item: %+v", second)
	}
	third := q.Get()
	if !third.Done {
		t.Errorf("expected Done sentinel, got %+v", third)
	}
}

func TestQueueCapacity(t *testing.T) {
	q := New()
	for i := 0; i < Capacity; i++ {
		q.Put("chunk", "chunk.hmac")
	}
	select {
	case q.items <- DataItem("overflow", "overflow.hmac"):
		t.Error("expected Put beyond capacity to block, but channel accepted it non-blockingly")
	default:
	}
}
