// Package sendqueue implements SendQueue (§4.G): a bounded FIFO of
// filenames between the chunker and the outbound transport writer.
//
// The original signals completion with the in-band sentinel string
// "FINISHED" pushed through the same channel as real filenames (§9). That
// maps naturally onto a typed sum value on a Go channel: Item is one of
// Data(path, hmacPath) or Done, so the consumer never has to compare a
// filename against a magic string.
package sendqueue

// Item is one entry drawn from the queue: either a (chunk, hmac) pair to
// transmit, or the Done sentinel marking the end of the stream.
type Item struct {
	Chunk string
	HMAC  string
	Done  bool
}

// DataItem constructs a pending-transmission item.
func DataItem(chunk, hmac string) Item {
	return Item{Chunk: chunk, HMAC: hmac}
}

// DoneItem is the end-of-stream sentinel.
func DoneItem() Item {
	return Item{Done: true}
}

// Capacity is the bounded queue depth fixed by §4.G.
const Capacity = 10

// Queue is a bounded FIFO with one producer (ChunkWriter/Orchestrator) and
// one consumer (the send worker).
type Queue struct {
	items chan Item
}

// New returns a Queue with the spec-mandated capacity.
func New() *Queue {
	return &Queue{items: make(chan Item, Capacity)}
}

// Put enqueues a (chunk, hmac) pair, blocking if the queue is full.
func (q *Queue) Put(chunk, hmac string) {
	q.items <- DataItem(chunk, hmac)
}

// Finish enqueues the Done sentinel.
func (q *Queue) Finish() {
	q.items <- DoneItem()
}

// Get blocks until an item is available.
func (q *Queue) Get() Item {
	return <-q.items
}
