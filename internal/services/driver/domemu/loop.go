package domemu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/ternarybob/arbor"
)

// ErrClosed is returned when work is submitted to a page that has been closed
var ErrClosed = errors.New("page closed")

const minTimerDelay = time.Millisecond

// flushProgram is an empty program; running it drains the promise job queue
var flushProgram = goja.MustCompile("flush", "", false)

type jsTimer struct {
	id       int64
	fn       goja.Callable
	args     []goja.Value
	interval time.Duration
	repeat   bool
	timer    *time.Timer
}

// eventLoop owns the JS runtime. Every access to the runtime, the document
// model and the timer table happens on the loop goroutine.
type eventLoop struct {
	vm     *goja.Runtime
	logger arbor.ILogger

	jobs chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once

	timers  map[int64]*jsTimer
	nextID  int64
	stopped bool
}

func newEventLoop(vm *goja.Runtime, logger arbor.ILogger) *eventLoop {
	return &eventLoop{
		vm:     vm,
		logger: logger,
		jobs:   make(chan func(), 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		timers: make(map[int64]*jsTimer),
	}
}

func (l *eventLoop) start() {
	go l.run()
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		select {
		case job := <-l.jobs:
			job()
		case <-l.quit:
			return
		}
	}
}

// post queues a job on the loop. It returns false once the loop is closed.
func (l *eventLoop) post(job func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.jobs <- job:
		return true
	case <-l.quit:
		return false
	}
}

// do runs fn on the loop and waits for it. Cancelling ctx interrupts any
// script that is still running.
func (l *eventLoop) do(ctx context.Context, fn func() error) error {
	_, err := call(ctx, l, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// call runs fn on the loop and returns its result. The result only travels
// over the channel, so a job abandoned on cancellation never writes into the
// caller's variables. A job still queued when ctx ends is skipped.
func call[T any](ctx context.Context, l *eventLoop, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}

	var zero T
	result := make(chan outcome, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: fmt.Errorf("page job panicked: %v", r)}
			}
		}()
		if err := ctx.Err(); err != nil {
			result <- outcome{err: err}
			return
		}
		l.vm.ClearInterrupt()
		v, err := fn()
		result <- outcome{value: v, err: err}
	}

	if !l.post(job) {
		return zero, ErrClosed
	}

	select {
	case out := <-result:
		return out.value, out.err
	case <-l.done:
		select {
		case out := <-result:
			return out.value, out.err
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		l.vm.Interrupt(ctx.Err())
		return zero, ctx.Err()
	}
}

// settle posts a completion that originates outside any script, such as a
// finished fetch, and drains the promise jobs it queues.
func (l *eventLoop) settle(fn func()) bool {
	return l.post(func() {
		l.vm.ClearInterrupt()
		fn()
		l.flushJobs()
	})
}

// flushJobs runs pending promise reactions. Needed after resolving a promise
// from Go outside of any script call.
func (l *eventLoop) flushJobs() {
	if _, err := l.vm.RunProgram(flushProgram); err != nil {
		l.logger.Warn().Err(err).Msg("Uncaught exception in promise job")
	}
}

// setTimer schedules fn. Loop goroutine only.
func (l *eventLoop) setTimer(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if delay < minTimerDelay {
		delay = minTimerDelay
	}
	l.nextID++
	t := &jsTimer{
		id:       l.nextID,
		fn:       fn,
		args:     args,
		interval: delay,
		repeat:   repeat,
	}
	if l.stopped {
		return t.id
	}
	id := t.id
	t.timer = time.AfterFunc(delay, func() {
		l.post(func() { l.fire(id) })
	})
	l.timers[id] = t
	return id
}

func (l *eventLoop) clearTimer(id int64) {
	if t, ok := l.timers[id]; ok {
		t.timer.Stop()
		delete(l.timers, id)
	}
}

func (l *eventLoop) fire(id int64) {
	t, ok := l.timers[id]
	if !ok {
		return
	}
	if t.repeat {
		t.timer.Reset(t.interval)
	} else {
		delete(l.timers, id)
	}

	l.vm.ClearInterrupt()
	if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
		l.logger.Warn().Err(err).Int64("timer_id", id).Msg("Uncaught exception in timer callback")
	}
}

// close stops every timer and the loop goroutine. Safe to call repeatedly.
func (l *eventLoop) close() {
	l.once.Do(func() {
		stopped := make(chan struct{})
		if l.post(func() {
			l.stopped = true
			for id, t := range l.timers {
				t.timer.Stop()
				delete(l.timers, id)
			}
			close(stopped)
		}) {
			select {
			case <-stopped:
			case <-time.After(time.Second):
				// A runaway script holds the loop
				l.vm.Interrupt("page closed")
				<-stopped
			}
		}
		close(l.quit)
		<-l.done
	})
}
