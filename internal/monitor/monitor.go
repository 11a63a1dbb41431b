package monitor

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"qcache/internal/ports"
	"qcache/internal/slots"
)

type State int

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	default:
		return "STOPPED"
	}
}

// Replenisher starts background replenishment of one pool key without waiting for it.
type Replenisher interface {
	Dispatch(key slots.Key) bool
}

// Monitor turns removals reported by the store's change feed into replenishment jobs.
//
// STOPPED -> STARTING -> RUNNING -> STOPPED. Start is a no-op unless STOPPED and
// Stop always leaves the monitor STOPPED, so both may be called any number of times.
type Monitor struct {
	store    ports.FastStore
	registry *slots.Registry
	repl     Replenisher

	mu    sync.Mutex
	state State
	epoch uint64 // bumped by Stop
	sub   ports.Subscription
	done  chan struct{}
}

func New(store ports.FastStore, registry *slots.Registry, repl Replenisher) *Monitor {
	return &Monitor{store: store, registry: registry, repl: repl}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start enables change notifications, subscribes and starts the event loop.
// On failure the monitor stays STOPPED and the error is returned; the caller
// decides whether to run degraded. The store calls run without the lock held,
// so State stays answerable while STARTING. A Stop that lands meanwhile wins.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Stopped {
		log.WithField("state", m.state).Debug("monitor already started")
		m.mu.Unlock()
		return nil
	}
	m.state = Starting
	epoch := m.epoch
	m.mu.Unlock()

	sub, err := m.connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		if sub != nil {
			_ = sub.Close()
		}
		log.Info("monitor stopped while starting")
		return nil
	}
	if err != nil {
		m.state = Stopped
		return err
	}
	m.sub = sub
	m.done = make(chan struct{})
	m.state = Running
	go m.loop(sub, m.done)
	log.Info("replenishment monitor running")
	return nil
}

func (m *Monitor) connect(ctx context.Context) (ports.Subscription, error) {
	if err := m.store.EnableChangeNotifications(ctx); err != nil {
		log.WithError(err).Error("cannot enable change notifications, monitor not started")
		return nil, err
	}
	sub, err := m.store.Subscribe(ctx)
	if err != nil {
		log.WithError(err).Error("cannot subscribe to change feed, monitor not started")
		return nil, err
	}
	return sub, nil
}

// Stop closes the subscription and waits for the event loop to drain out.
// Replenishment jobs already dispatched keep running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	sub, done := m.sub, m.done
	m.sub, m.done = nil, nil
	m.state = Stopped
	m.epoch++
	m.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		log.WithError(err).Warn("failed to close change feed")
	}
	<-done
	log.Info("replenishment monitor stopped")
}

func (m *Monitor) loop(sub ports.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		m.handle(ev)
	}

	// The feed ended without Stop, e.g. the connection dropped for good.
	m.mu.Lock()
	if m.sub == sub {
		m.sub, m.done = nil, nil
		m.state = Stopped
		log.Warn("change feed closed, monitor stopped")
	}
	m.mu.Unlock()
}

func (m *Monitor) handle(ev ports.ChangeEvent) {
	if !ev.Removal() {
		return
	}
	key, err := slots.ParseKey(ev.Key, m.registry)
	if err != nil {
		return
	}
	started := m.repl.Dispatch(key)
	log.WithFields(log.Fields{"key": ev.Key, "event": ev.Kind, "started": started}).Debug("replenishment requested")
}
