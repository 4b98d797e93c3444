package normcache

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/goliatone/go-normcache/layering"
	"github.com/goliatone/go-normcache/pkg/activity"
)

// WatchCallback receives the new result of a watched query. Results are
// shared with the cache and must be treated as read-only.
type WatchCallback func(DiffResult)

// watch is a registered observer with its compiled plan and the last
// result it was told about.
type watch struct {
	id         string
	plan       *plan
	rootID     string
	optimistic bool
	partial    bool
	callback   WatchCallback
	last       DiffResult
	deps       map[string]struct{}
	active     atomic.Bool
}

func (w *watch) dependsOn(touched []string) bool {
	for _, id := range touched {
		if _, ok := w.deps[id]; ok {
			return true
		}
	}
	return false
}

// delivery is one queued callback or activity event.
type delivery struct {
	watch  *watch
	result DiffResult
	event  *activity.Event
}

// broadcastLocked re-diffs the affected watches and queues callbacks for
// those whose result changed. With all set every watch is re-diffed.
func (c *InMemoryCache) broadcastLocked(ctx context.Context, touched []string, all bool) {
	if len(c.watches) == 0 {
		return
	}
	scheduled := 0
	for _, w := range c.watches {
		if !all && !w.dependsOn(touched) {
			continue
		}
		var previous map[string]any
		if c.cfg.resultCaching {
			previous = w.last.Result
		}
		resolve := func(id string) (layering.Record, bool) {
			return c.stack.Resolve(id, w.optimistic)
		}
		result, deps := c.diffPlan(ctx, resolve, w.plan, w.rootID, previous, w.partial)
		w.deps = deps
		if !c.changed(w.last, result) {
			continue
		}
		w.last = result
		c.queue = append(c.queue, delivery{watch: w, result: result})
		scheduled++
	}
	c.metrics.recordBroadcast(ctx)
	if scheduled > 0 {
		c.enqueueEvent(activity.BuildBroadcastEvent(activity.CacheEventInput{
			Touched: touched,
			Watches: scheduled,
		}))
	}
}

func (c *InMemoryCache) changed(last, next DiffResult) bool {
	if last.Complete != next.Complete {
		return true
	}
	if c.cfg.resultCaching {
		return !identical(last.Result, next.Result)
	}
	return !reflect.DeepEqual(last.Result, next.Result)
}

// drain delivers queued callbacks and events outside the lock, in order.
// Only one goroutine drains at a time; deliveries queued by a callback
// are picked up by the same loop.
func (c *InMemoryCache) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = delivery{}
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.deliver(next)
		c.mu.Lock()
	}
	c.queue = nil
	c.draining = false
	c.mu.Unlock()
}

func (c *InMemoryCache) deliver(d delivery) {
	if d.event != nil {
		if err := c.emitter.Emit(context.Background(), *d.event); err != nil {
			c.cfg.logger.LogEvent(LogEvent{
				Level:   LevelWarn,
				Op:      "activity",
				Message: "activity hook failed",
				Err:     err,
			})
		}
		return
	}
	if d.watch == nil || !d.watch.active.Load() {
		return
	}
	c.invoke(d.watch, d.result)
}

// invoke runs one callback, recovering panics so the pass continues.
func (c *InMemoryCache) invoke(w *watch, result DiffResult) {
	c.metrics.recordNotification(context.Background())
	defer func() {
		if r := recover(); r != nil {
			c.metrics.recordCallbackFailure(context.Background())
			c.cfg.logger.LogEvent(LogEvent{
				Level:   LevelError,
				Op:      "watch",
				Message: "watch callback panicked",
				WatchID: w.id,
				Err:     fmt.Errorf("normcache: watch callback panic: %v", r),
			})
		}
	}()
	w.callback(result)
}

func (c *InMemoryCache) enqueueEvent(event activity.Event) {
	if !c.emitter.Enabled() {
		return
	}
	c.queue = append(c.queue, delivery{event: &event})
}

func (c *InMemoryCache) removeWatch(w *watch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !w.active.Load() {
		return
	}
	w.active.Store(false)
	for i, candidate := range c.watches {
		if candidate == w {
			c.watches = append(c.watches[:i:i], c.watches[i+1:]...)
			break
		}
	}
}
