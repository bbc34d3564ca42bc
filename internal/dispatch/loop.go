package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueSize is the callback buffer used when NewLoop is given a size < 1.
const DefaultQueueSize = 256

// Loop is a single-goroutine execution context. Callbacks posted to it run
// one at a time, in the order each posting goroutine submitted them.
type Loop struct {
	name   string
	queue  chan func()
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closeOnce sync.Once
	runOnce   sync.Once
}

// NewLoop creates a Loop. Call Run in a goroutine to start executing callbacks.
func NewLoop(name string, queueSize int, logger *zap.Logger) *Loop {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		name:   name,
		queue:  make(chan func(), queueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Run executes posted callbacks until ctx is cancelled or Close is called.
// Callbacks still queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	started := false
	l.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(l.done)

	l.logger.Debug("loop started", zap.String("loop", l.name))

	for {
		select {
		case <-ctx.Done():
			l.Close()
			l.logger.Debug("loop stopping", zap.String("loop", l.name), zap.Error(ctx.Err()))
			return
		case <-l.quit:
			l.logger.Debug("loop stopping", zap.String("loop", l.name))
			return
		case fn := <-l.queue:
			// Close may race with a ready callback; quit wins.
			select {
			case <-l.quit:
				return
			default:
			}
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("callback panicked",
				zap.String("loop", l.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}

// Close tears the loop down. Pending and future callbacks are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
}

// Closed reports whether the loop has been torn down.
func (l *Loop) Closed() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Do schedules fn on the loop. It returns false if the loop has been torn
// down, in which case fn will never run.
func (l *Loop) Do(fn func()) bool {
	if l.Closed() {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// DoDelayed schedules fn to run on the loop no sooner than delay from now.
// There is no ordering guarantee relative to callbacks posted with Do.
func (l *Loop) DoDelayed(fn func(), delay time.Duration) bool {
	if l.Closed() {
		return false
	}
	time.AfterFunc(delay, func() {
		l.Do(fn)
	})
	return true
}

// Post schedules fn(v) on the loop.
func Post[T any](l *Loop, fn func(T), v T) bool {
	return l.Do(func() { fn(v) })
}

// PostDelayed schedules fn(v) on the loop after at least delay.
func PostDelayed[T any](l *Loop, fn func(T), v T, delay time.Duration) bool {
	return l.DoDelayed(func() { fn(v) }, delay)
}
