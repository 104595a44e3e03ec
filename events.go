package goSession

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies what happened to the session.
type EventKind uint8

const (
	// EventSessionChanged fires whenever the session record changes.
	EventSessionChanged EventKind = iota + 1
	// EventAccessTokenRotated fires after a refreshed access token is persisted.
	EventAccessTokenRotated
	// EventSessionExpired fires before the teardown that follows a fatal refresh failure.
	EventSessionExpired
	// EventNavigateSignIn asks the UI to show the sign-in entry point.
	EventNavigateSignIn
)

func (k EventKind) String() string {
	switch k {
	case EventSessionChanged:
		return "session_changed"
	case EventAccessTokenRotated:
		return "access_token_rotated"
	case EventSessionExpired:
		return "session_expired"
	case EventNavigateSignIn:
		return "navigate_sign_in"
	default:
		return "unknown"
	}
}

// guaranteed reports whether emit waits for buffer space even when
// DropIfFull is set. These are the notices a user has to see.
func (k EventKind) guaranteed() bool {
	return k == EventSessionExpired || k == EventNavigateSignIn
}

// LogoutReason records why a logout happened.
type LogoutReason string

const (
	LogoutUser    LogoutReason = "user"
	LogoutExpired LogoutReason = "expired"
)

// Event is delivered to subscribers in emission order.
type Event struct {
	ID     string
	Kind   EventKind
	State  LifecycleState
	Epoch  uint64
	Reason LogoutReason
	// Message is the user-visible notice carried by EventSessionExpired.
	Message string
	At      time.Time
}

type subscriber struct {
	fn func(Event)
}

type eventDispatcher struct {
	cfg EventsConfig
	ch  chan Event

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64

	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newEventDispatcher(cfg EventsConfig) *eventDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &eventDispatcher{
		cfg:  cfg,
		ch:   make(chan Event, cfg.BufferSize),
		subs: make(map[uint64]*subscriber),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *eventDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *eventDispatcher) deliver(event Event) {
	d.mu.RLock()
	subs := make([]*subscriber, 0, len(d.subs))
	ids := make([]uint64, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, d.subs[id])
	}
	d.mu.RUnlock()

	for _, s := range subs {
		s.fn(event)
	}
}

// emit queues an event. Callers must not hold engine locks: a full buffer
// without DropIfFull, or any guaranteed kind, blocks until the dispatcher
// catches up or ctx ends.
func (d *eventDispatcher) emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if d.cfg.DropIfFull && !event.Kind.guaranteed() {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

func (d *eventDispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = &subscriber{fn: fn}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

// channel subscribes a buffered channel. Events that do not fit are dropped
// and counted; cancel unsubscribes and closes the channel.
func (d *eventDispatcher) channel(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	var mu sync.Mutex
	closed := false
	unsubscribe := d.subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			d.dropped.Add(1)
		}
	})

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
