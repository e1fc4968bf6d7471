// Package executor is the default service_def.Executor implementation: a
// single serialized command loop that every replicator subsystem posts its
// callbacks into: one goroutine, one channel, no concurrency between
// dispatched callbacks.
package executor

import (
	"container/heap"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/log"
	"github.com/syncset/replcore/service_def"
)

type handle struct {
	mu       sync.Mutex
	active   bool
	done     chan struct{}
	finished bool
}

func newHandle() *handle {
	return &handle{active: true, done: make(chan struct{})}
}

func (h *handle) finish() {
	h.mu.Lock()
	if !h.finished {
		h.finished = true
		h.active = false
		close(h.done)
	}
	h.mu.Unlock()
}

func (h *handle) Cancel() {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
	h.finish()
}

func (h *handle) Wait() {
	<-h.done
}

func (h *handle) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

type event struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		e.signaled = true
		close(e.ch)
	}
}

func (e *event) Wait() {
	<-e.ch
}

func (e *event) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// workItem is an entry on the immediate-work channel.
type workItem struct {
	fn func()
	h  *handle
}

// timerItem is an entry in the delayed-work priority queue.
type timerItem struct {
	when time.Time
	fn   func()
	h    *handle
}

type timerQueue []*timerItem

func (q timerQueue) Len() int            { return len(q) }
func (q timerQueue) Less(i, j int) bool  { return q[i].when.Before(q[j].when) }
func (q timerQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x interface{}) { *q = append(*q, x.(*timerItem)) }
func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// RemoteCommandFunc performs the actual network round trip for a
// ScheduleRemoteCommand request. The executor itself only owns scheduling
// and serialization; it has no transport of its own, keeping the cursor
// protocol separate from whatever carries bytes to the sync source.
type RemoteCommandFunc func(req interface{}) (interface{}, error)

// Executor is the default, concrete service_def.Executor: one goroutine
// draining workCh/timerCh, so every dispatched fn runs strictly one at a
// time on the same goroutine.
type Executor struct {
	logger *log.CommonLogger

	workCh    chan *workItem
	timerCh   chan *timerItem
	stopCh    chan struct{}
	stoppedCh chan struct{}

	runGoroutineID atomic.Uint64

	transport RemoteCommandFunc
}

func NewExecutor(logger *log.CommonLogger) *Executor {
	if logger == nil {
		logger = log.NewLogger("Executor", nil)
	}
	e := &Executor{
		logger:    logger,
		workCh:    make(chan *workItem, 256),
		timerCh:   make(chan *timerItem, 256),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go e.run()
	return e
}

// SetTransport wires the function that actually carries ScheduleRemoteCommand
// requests to the sync source. Until it is set, ScheduleRemoteCommand fails
// every request with base.ErrorNotRunThread's sibling, ErrorInvalidInput,
// rather than silently echoing the request back as its own response.
func (e *Executor) SetTransport(fn RemoteCommandFunc) {
	e.transport = fn
}

func (e *Executor) run() {
	e.runGoroutineID.Store(goroutineID())
	defer close(e.stoppedCh)

	pending := &timerQueue{}
	heap.Init(pending)

	var timer *time.Timer
	var timerC <-chan time.Time

	rearm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if pending.Len() == 0 {
			return
		}
		d := time.Until((*pending)[0].when)
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}

	runOne := func(fn func(), h *handle) {
		if h != nil && !h.IsActive() {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Errorf("executor callback panicked: %v", r)
				}
			}()
			fn()
		}()
		if h != nil {
			h.finish()
		}
	}

	for {
		rearm()
		select {
		case <-e.stopCh:
			return
		case item := <-e.workCh:
			runOne(item.fn, item.h)
		case item := <-e.timerCh:
			heap.Push(pending, item)
		case <-timerC:
			item := heap.Pop(pending).(*timerItem)
			runOne(item.fn, item.h)
		}
	}
}

func (e *Executor) ScheduleWork(fn func()) service_def.Handle {
	h := newHandle()
	select {
	case e.workCh <- &workItem{fn: fn, h: h}:
	case <-e.stopCh:
		h.finish()
	}
	return h
}

func (e *Executor) ScheduleDBWork(fn func(), ns base.Namespace, lockMode string) service_def.Handle {
	// DB work carries no special lock-acquisition machinery in this core;
	// it is dispatched on the same run thread as everything else, which is
	// enough to serialize it against concurrent callbacks.
	return e.ScheduleWork(fn)
}

func (e *Executor) ScheduleRemoteCommand(req interface{}, fn func(resp interface{}, err error)) service_def.Handle {
	transport := e.transport
	return e.ScheduleWork(func() {
		if transport == nil {
			fn(nil, base.ErrorInvalidInput)
			return
		}
		resp, err := transport(req)
		fn(resp, err)
	})
}

func (e *Executor) ScheduleWorkAt(when time.Time, fn func()) service_def.Handle {
	h := newHandle()
	item := &timerItem{when: when, fn: fn, h: h}
	select {
	case e.timerCh <- item:
	case <-e.stopCh:
		h.finish()
	}
	return h
}

func (e *Executor) MakeEvent() service_def.Event {
	return newEvent()
}

func (e *Executor) Now() time.Time {
	return time.Now()
}

// IsRunThread reports whether the caller is executing on the executor's
// single dispatch goroutine. There is no goroutine-local storage in the
// standard library, so this reads back the id runtime.Stack prints for the
// currently running goroutine and compares it against the id captured once
// when the run loop started.
func (e *Executor) IsRunThread() bool {
	return goroutineID() == e.runGoroutineID.Load()
}

func (e *Executor) Shutdown() {
	close(e.stopCh)
	<-e.stoppedCh
}

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}
