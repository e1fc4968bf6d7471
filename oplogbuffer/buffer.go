// Package oplogbuffer is the bounded, byte-capped FIFO that sits between the
// oplog fetcher and the applier: the sole cross-thread shared structure in
// the core besides its own mutex-guarded state.
package oplogbuffer

import (
	"container/list"
	"sync"
	"time"

	"github.com/syncset/replcore/base"
)

// Buffer is a producer/consumer FIFO of base.Document bounded by total
// bytes, not document count. Push blocks (with a timeout) against the
// admission-control ByteSemaphore rather than ever dropping a document,
// matching the "no document ever dropped" invariant.
type Buffer struct {
	mu    sync.Mutex
	docs  *list.List
	bytes int64
	sem   *base.ByteSemaphore
}

func NewBuffer(capBytes int64) *Buffer {
	if capBytes <= 0 {
		capBytes = base.DefaultOplogBufferCap
	}
	return &Buffer{
		docs: list.New(),
		sem:  base.NewByteSemaphore(capBytes),
	}
}

// Push admits doc once enough budget is available, blocking up to timeout
// (timeout <= 0 blocks indefinitely). Returns false on timeout, leaving doc
// unbuffered. It is for producers that may wait off the run thread; the
// oplog fetcher's batch callback uses TryPush instead.
func (b *Buffer) Push(doc base.Document, timeout time.Duration) bool {
	size := doc.Size()
	if !b.sem.Acquire(size, timeout) {
		return false
	}

	b.mu.Lock()
	b.docs.PushBack(doc)
	b.bytes += size
	b.mu.Unlock()
	return true
}

// TryPush admits doc only if it fits within the byte budget right now,
// returning false instead of blocking. The caller (the oplog fetcher's
// batch callback, which runs on the executor's single run thread) is
// expected to defer the rest of its batch rather than retry synchronously,
// since nothing else can run on that thread to free space while it waits.
func (b *Buffer) TryPush(doc base.Document) bool {
	size := doc.Size()
	if !b.sem.TryAcquire(size) {
		return false
	}

	b.mu.Lock()
	b.docs.PushBack(doc)
	b.bytes += size
	b.mu.Unlock()
	return true
}

// PushFront re-inserts a previously popped batch at the front of the queue,
// in its original order, ahead of anything fetched since. It bypasses the
// byte-semaphore admission check: this is a requeue of a batch that failed
// to apply and is going to be retried, not new admission, so it must never
// block or be refused the way Push/TryPush can be.
func (b *Buffer) PushFront(docs []base.Document) {
	if len(docs) == 0 {
		return
	}

	var total int64
	b.mu.Lock()
	for i := len(docs) - 1; i >= 0; i-- {
		doc := docs[i]
		b.docs.PushFront(doc)
		total += doc.Size()
	}
	b.bytes += total
	b.mu.Unlock()

	b.sem.Force(total)
}

// TryPop removes and returns the oldest document, if any.
func (b *Buffer) TryPop() (base.Document, bool) {
	b.mu.Lock()
	front := b.docs.Front()
	if front == nil {
		b.mu.Unlock()
		return nil, false
	}
	doc := front.Value.(base.Document)
	b.docs.Remove(front)
	b.bytes -= doc.Size()
	b.mu.Unlock()

	b.sem.Release(doc.Size())
	return doc, true
}

// PopBatch drains up to maxDocs documents or maxBytes total, whichever comes
// first, preserving FIFO order. This resolves the open question around
// unbounded batch draining: a single call can never hand the applier more
// than the caller's configured batch limits.
func (b *Buffer) PopBatch(maxDocs int, maxBytes int64) []base.Document {
	if maxDocs <= 0 {
		maxDocs = 1
	}

	b.mu.Lock()
	var batch []base.Document
	var total int64
	for len(batch) < maxDocs {
		front := b.docs.Front()
		if front == nil {
			break
		}
		doc := front.Value.(base.Document)
		size := doc.Size()
		if len(batch) > 0 && maxBytes > 0 && total+size > maxBytes {
			break
		}
		b.docs.Remove(front)
		b.bytes -= size
		total += size
		batch = append(batch, doc)
	}
	b.mu.Unlock()

	for _, doc := range batch {
		b.sem.Release(doc.Size())
	}
	return batch
}

// Size returns the current number of buffered documents and their total byte
// footprint.
func (b *Buffer) Size() (docs int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.docs.Len(), b.bytes
}

// Clear discards all buffered documents and releases their budget. The
// replicator calls it from Resync and when it abandons a failed initial-sync
// attempt.
func (b *Buffer) Clear() {
	b.mu.Lock()
	released := b.bytes
	b.docs.Init()
	b.bytes = 0
	b.mu.Unlock()

	if released > 0 {
		b.sem.Release(released)
	}
}

// Cap reports the configured byte cap.
func (b *Buffer) Cap() int64 {
	return b.sem.Limit()
}
