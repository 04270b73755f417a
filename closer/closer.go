package closer

import "sync"

// Closeable is anything with an asynchronous, observable close operation.
// immediate requests a hard/abrupt close (skip graceful drain) versus a
// graceful close that waits for in-flight work to quiesce.
type Closeable interface {
	Close(immediate bool) *Future
}

// Func adapts a plain function to Closeable.
type Func func(immediate bool) *Future

// Close implements Closeable.
func (f Func) Close(immediate bool) *Future { return f(immediate) }

// Sequential composes closeables so each one's close completes before the
// next is started, in the order given. Nil entries are skipped. The
// returned Closeable's future completes once the last item finishes.
func Sequential(items ...Closeable) Closeable {
	return Func(func(immediate bool) *Future {
		out := NewFuture()
		go func() {
			for _, it := range items {
				if it == nil {
					continue
				}
				it.Close(immediate).Verify(0)
			}
			out.Complete(nil, nil)
		}()
		return out
	})
}

// Parallel composes closeables so all of their closes are started at
// once; the returned future completes once every one of them has
// completed.
func Parallel(items ...Closeable) Closeable {
	return Func(func(immediate bool) *Future {
		out := NewFuture()
		var wg sync.WaitGroup
		for _, it := range items {
			if it == nil {
				continue
			}
			wg.Add(1)
			go func(c Closeable) {
				defer wg.Done()
				c.Close(immediate).Verify(0)
			}(it)
		}
		go func() {
			wg.Wait()
			out.Complete(nil, nil)
		}()
		return out
	})
}

// RunAction wraps a plain synchronous action (e.g. removing a table
// entry, closing a file descriptor) as a Closeable stage.
func RunAction(fn func()) Closeable {
	return Func(func(immediate bool) *Future {
		fn()
		return Completed(nil, nil)
	})
}

// WhenFuture waits for dep to complete before the stage is considered
// closed; used to sequence a close behind some other in-flight
// completion (e.g. "don't close the transport channel until the open
// handshake has resolved one way or the other").
func WhenFuture(dep *Future) Closeable {
	return Func(func(immediate bool) *Future {
		out := NewFuture()
		go func() {
			dep.Verify(0)
			out.Complete(nil, nil)
		}()
		return out
	})
}

// Builder assembles a tree of close stages that run in the order they
// were appended; each stage may itself be a Sequential or Parallel
// group. This mirrors the
// "builder.sequential(...).parallel(...).close(...).build()" close
// composition described for the channel multiplexer.
type Builder struct {
	stages []Closeable
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Sequential appends a stage that closes items one after another.
func (b *Builder) Sequential(items ...Closeable) *Builder {
	b.stages = append(b.stages, Sequential(items...))
	return b
}

// Parallel appends a stage that closes items concurrently.
func (b *Builder) Parallel(items ...Closeable) *Builder {
	b.stages = append(b.stages, Parallel(items...))
	return b
}

// Close appends a single Closeable as its own stage.
func (b *Builder) Close(c Closeable) *Builder {
	if c != nil {
		b.stages = append(b.stages, c)
	}
	return b
}

// Run appends a synchronous action as its own stage.
func (b *Builder) Run(fn func()) *Builder {
	b.stages = append(b.stages, RunAction(fn))
	return b
}

// Build returns the composed Closeable: a Sequential walk of every stage
// appended so far.
func (b *Builder) Build() Closeable {
	return Sequential(b.stages...)
}

// Once wraps a Closeable so that Close is only ever actually performed
// once; subsequent calls return the first call's (already resolved, or
// still-resolving) future without doing any further I/O. This is how
// channel close idempotence (§8 property 3) is implemented: a channel
// holds a *Once wrapping its close builder and always calls its Close
// method, regardless of how many times close is requested or what state
// the channel is already in.
type Once struct {
	mu     sync.Mutex
	inner  Closeable
	future *Future
}

// NewOnce wraps inner so its close logic runs at most once.
func NewOnce(inner Closeable) *Once {
	return &Once{inner: inner}
}

// Close triggers the wrapped Closeable's close on the first call and
// returns its future on every call thereafter.
func (o *Once) Close(immediate bool) *Future {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.future == nil {
		o.future = o.inner.Close(immediate)
	}
	return o.future
}

// Started reports whether Close has already been invoked at least once.
func (o *Once) Started() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.future != nil
}
