package pool

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
)

type pending struct {
	again bool
}

// Dispatcher runs fire-and-forget jobs, one goroutine each. Jobs are never
// awaited by callers; each gets a fresh background context bounded by the job
// timeout, never the caller's context.
//
// While a job for a key is in flight, further requests for that key are folded
// into a single rerun once it finishes, so a removal observed mid-job is never
// lost. The in-flight marker expires with the job timeout. A job that outlives
// its context loses its marker, and the next request for the key starts a new
// job alongside it; the stale job then leaves the new marker alone.
type Dispatcher struct {
	timeout time.Duration

	mu       sync.Mutex
	inflight *ttlcache.Cache[string, *pending]

	wg sync.WaitGroup
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		timeout: timeout,
		inflight: ttlcache.New[string, *pending](
			ttlcache.WithTTL[string, *pending](timeout),
			ttlcache.WithDisableTouchOnHit[string, *pending](),
		),
	}
}

// Go starts job for key in the background and returns immediately.
// It returns false when a job for key is already in flight; that job reruns once.
func (d *Dispatcher) Go(key string, job func(ctx context.Context)) bool {
	d.mu.Lock()
	if item := d.inflight.Get(key); item != nil {
		item.Value().again = true
		d.mu.Unlock()
		return false
	}
	p := &pending{}
	d.inflight.Set(key, p, ttlcache.DefaultTTL)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			d.run(key, job)
			if !d.finish(key, p) {
				return
			}
		}
	}()
	return true
}

// finish clears the job's in-flight marker, or reports that a rerun was requested.
// A marker that expired or was replaced by a newer job is left untouched.
func (d *Dispatcher) finish(key string, p *pending) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	item := d.inflight.Get(key)
	if item == nil || item.Value() != p {
		return false
	}
	if p.again {
		p.again = false
		d.inflight.Set(key, p, ttlcache.DefaultTTL)
		return true
	}
	d.inflight.Delete(key)
	return false
}

func (d *Dispatcher) run(key string, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"key":   key,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("background job panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	job(ctx)
}

// InFlight reports whether a job for key is running.
func (d *Dispatcher) InFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight.Get(key) != nil
}

// Wait blocks until every job started so far has returned. The service never
// calls it on shutdown; it exists for tests and tools.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
