package realtime

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// eventLoop runs posted closures one at a time, in post order. A drain goroutine exists only
// while there is work, so an idle dispatcher holds no goroutines.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	owner   atomic.Uint64
	onPanic func(any)
}

func newEventLoop(onPanic func(any)) *eventLoop {
	return &eventLoop{onPanic: onPanic}
}

// post schedules fn. It never blocks, so closures already running on the loop may post more work.
func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.drain()
}

// onLoop reports whether the caller is a closure currently running on the loop. Such callers
// must not wait for work they post.
func (l *eventLoop) onLoop() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goroutineID()
}

func (l *eventLoop) drain() {
	l.owner.Store(goroutineID())

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.owner.Store(0)
			l.running = false
			l.queue = nil
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *eventLoop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	fn()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the header of the current goroutine's stack trace.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
