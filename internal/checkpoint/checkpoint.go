// Package checkpoint implements the checkpoint controller for the
// defragmentation regions: a re-entrant checkpoint read-lock plus a
// non-blocking ForceCheckpoint whose completion is observed through a
// channel-backed Future.
package checkpoint

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// YieldCadence is the maximum span a worker may hold the checkpoint
// read-lock before releasing and re-acquiring it.
const YieldCadence = 150 * time.Millisecond

// FlushFunc performs the actual page-flush work for one forced checkpoint.
// Supplied by the caller (the coordinator wires it to pagemem.Memory.Flush
// for the regions under management); kept as a function type rather than an
// interface because exactly one flush strategy is ever installed per
// Controller instance.
type FlushFunc func(reason string) error

// Future represents one forced checkpoint's completion: a value observed
// once, after which Wait reports the terminal error, if any.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the checkpoint this future represents has finished, and
// returns its terminal error (nil on success).
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done reports whether the future has already resolved, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// CompoundFuture waits for the set of closing-checkpoint Futures collected
// during one cache-group run.
type CompoundFuture struct {
	futures []*Future
}

func NewCompoundFuture(futures ...*Future) *CompoundFuture {
	return &CompoundFuture{futures: futures}
}

func (c *CompoundFuture) Add(f *Future) {
	c.futures = append(c.futures, f)
}

// Wait blocks on every collected future in order and returns the first
// error encountered, if any.
func (c *CompoundFuture) Wait() error {
	for _, f := range c.futures {
		if err := f.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Controller pairs a re-entrant checkpoint read-lock, keyed per logical
// worker token, with a background flush loop driving ForceCheckpoint
// requests off a work queue.
type Controller struct {
	flush FlushFunc

	mu      sync.Mutex // guards stopped, running, and the re-entrant-count map
	stopped bool
	running bool

	rw     sync.RWMutex // the actual checkpoint read-lock
	counts map[string]int

	reqCh  chan checkpointRequest
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type checkpointRequest struct {
	reason string
	future *Future
}

// New constructs a Controller. flush is invoked synchronously on the
// controller's single background goroutine for every forced checkpoint.
func New(flush FlushFunc) *Controller {
	return &Controller{
		flush:  flush,
		counts: make(map[string]int),
		reqCh:  make(chan checkpointRequest, 16),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background checkpoint-processing goroutine. Once
// started, acquiring the read-lock is infallible.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
}

// Stop halts the background loop. ForceCheckpoint calls made after Stop
// fail.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) loop() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.reqCh:
			// A checkpoint must wait for any in-flight read-lock holders to
			// yield; acquiring the write side of rw does exactly that.
			c.rw.Lock()
			err := c.flush(req.reason)
			c.rw.Unlock()
			if err != nil {
				log.Printf("checkpoint %q failed: %v", req.reason, err)
			}
			req.future.complete(err)
		case <-c.stopCh:
			// Drain and fail any queued requests so callers don't block
			// forever on Stop.
			for {
				select {
				case req := <-c.reqCh:
					req.future.complete(fmt.Errorf("checkpoint controller stopped"))
				default:
					return
				}
			}
		}
	}
}

// ForceCheckpoint enqueues a flush without blocking on it; completion is
// observed through the returned Future.
func (c *Controller) ForceCheckpoint(reason string) *Future {
	f := newFuture()
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		f.complete(fmt.Errorf("checkpoint controller stopped"))
		return f
	}
	select {
	case c.reqCh <- checkpointRequest{reason: reason, future: f}:
	default:
		// Queue full: block the caller briefly rather than drop the
		// request — forceCheckpoint must eventually be observed.
		c.reqCh <- checkpointRequest{reason: reason, future: f}
	}
	return f
}

// ReadLock acquires the re-entrant checkpoint read-lock for worker. Any
// page allocation, meta-page mutation, or free-list insertion must happen
// while held.
func (c *Controller) ReadLock(worker string) {
	c.mu.Lock()
	n := c.counts[worker]
	c.counts[worker] = n + 1
	c.mu.Unlock()
	if n == 0 {
		c.rw.RLock()
	}
}

// ReadUnlock releases one level of the re-entrant read-lock for worker.
func (c *Controller) ReadUnlock(worker string) {
	c.mu.Lock()
	n := c.counts[worker] - 1
	if n < 0 {
		c.mu.Unlock()
		panic(fmt.Sprintf("checkpoint read-lock underflow for worker %q", worker))
	}
	c.counts[worker] = n
	c.mu.Unlock()
	if n == 0 {
		c.rw.RUnlock()
	}
}

// Yielder tracks wall-clock time since a worker last (re-)acquired the
// read-lock and yields it once the cadence elapses. It is not a timer
// thread; it is a check the caller performs at its own yield points.
type Yielder struct {
	ctrl     *Controller
	worker   string
	cadence  time.Duration
	lastLock time.Time
	held     bool
}

// NewYielder returns a Yielder for worker, using the controller's default
// YieldCadence.
func NewYielder(ctrl *Controller, worker string) *Yielder {
	return &Yielder{ctrl: ctrl, worker: worker, cadence: YieldCadence}
}

// Acquire takes the read-lock and starts the cadence timer.
func (y *Yielder) Acquire() {
	y.ctrl.ReadLock(y.worker)
	y.lastLock = time.Now()
	y.held = true
}

// MaybeYield releases and immediately re-acquires the read-lock if the
// cadence has elapsed since the last (re-)acquisition, giving the
// checkpointer a chance to start a flush. Safe to call every loop
// iteration; it is a no-op well under the cadence.
func (y *Yielder) MaybeYield() {
	if !y.held {
		return
	}
	if time.Since(y.lastLock) < y.cadence {
		return
	}
	y.ctrl.ReadUnlock(y.worker)
	y.ctrl.ReadLock(y.worker)
	y.lastLock = time.Now()
}

// Release drops the read-lock entirely.
func (y *Yielder) Release() {
	if !y.held {
		return
	}
	y.ctrl.ReadUnlock(y.worker)
	y.held = false
}
