package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/metrics"
	"github.com/techbridge/techbridge/pkg/tech"
	"github.com/techbridge/techbridge/pkg/types"
)

const (
	// DefaultInterval is how often a subscribed module is refreshed.
	DefaultInterval = time.Minute
	// DefaultTimeout bounds a single refresh.
	DefaultTimeout = time.Minute
)

// ErrReauthRequired is returned when the API rejected the session. The owner
// must log in again; the coordinator keeps polling on its interval.
var ErrReauthRequired = errors.New("re-authentication required")

// UpdateFailedError wraps any other refresh failure. The cached data stays at
// its last good value and the next tick retries.
type UpdateFailedError struct {
	UDID string
	Err  error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update of module %s failed: %v", e.UDID, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// API is the part of the tech client a coordinator needs.
type API interface {
	Update(ctx context.Context, udid string) (types.ModuleData, error)
}

// State is the refresh lifecycle state of a coordinator.
type State int

const (
	// StateIdle means nobody is subscribed and no timer is armed.
	StateIdle State = iota
	// StateScheduled means the timer is armed and no fetch is in flight.
	StateScheduled
	// StateFetching means a refresh is in flight.
	StateFetching
	// StateFailed means the last refresh failed. The timer stays armed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateFetching:
		return "fetching"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Update is delivered to listeners after every refresh attempt. Data is the
// last good data, which is unchanged when Err is set.
type Update struct {
	UDID string
	Data types.ModuleData
	Err  error
}

// Listener receives updates. Listeners are called sequentially from the
// goroutine that performed the refresh and must not block for long.
type Listener func(ctx context.Context, u Update)

// Ticker fires on the refresh interval. stop releases it.
type Ticker func(d time.Duration) (c <-chan time.Time, stop func())

func timeTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

// WithTimeout sets the timeout applied to each refresh.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithReauth sets the hook called when the API rejected the session. cause
// is the rejection returned by the API.
func WithReauth(fn func(ctx context.Context, cause error) error) Option {
	return func(c *Coordinator) {
		c.onReauth = fn
	}
}

// WithTicker overrides the interval timer.
func WithTicker(t Ticker) Option {
	return func(c *Coordinator) {
		c.ticker = t
	}
}

// Coordinator polls one module on a fixed interval while at least one
// listener is subscribed and fans the result out to every listener.
type Coordinator struct {
	api      API
	udid     string
	interval time.Duration
	timeout  time.Duration
	onReauth func(ctx context.Context, cause error) error
	ticker   Ticker

	// wake is signalled when the subscriber set changes
	wake chan struct{}
	// fetchMu serializes refreshes issued by the loop and by Refresh
	fetchMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	state     State
	data      types.ModuleData
	err       error
}

// New returns a coordinator for the module udid. Call Run to start it.
func New(api API, udid string, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:       api,
		udid:      udid,
		interval:  DefaultInterval,
		timeout:   DefaultTimeout,
		ticker:    timeTicker,
		wake:      make(chan struct{}, 1),
		listeners: map[uint64]Listener{},
		data: types.ModuleData{
			UDID:  udid,
			Zones: map[int]types.Zone{},
			Tiles: map[int]types.Tile{},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UDID returns the module this coordinator polls.
func (c *Coordinator) UDID() string {
	return c.udid
}

// Subscribe registers a listener and returns the function that removes it.
// The first subscriber arms the timer and triggers an immediate refresh. When
// the last one leaves the timer is cancelled.
func (c *Coordinator) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	n := len(c.listeners)
	c.mu.Unlock()
	metrics.Subscribers.WithLabelValues(c.udid).Set(float64(n))
	c.signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			n := len(c.listeners)
			c.mu.Unlock()
			metrics.Subscribers.WithLabelValues(c.udid).Set(float64(n))
			c.signal()
		})
	}
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Run drives the refresh timer until ctx is done. It returns ctx.Err().
func (c *Coordinator) Run(ctx context.Context) error {
	ctx = log.WithModule(ctx, c.udid)
	for {
		// Idle: wait for the first subscriber
		for c.subscribers() == 0 {
			c.setState(StateIdle)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wake:
			}
		}

		log.Ctx(ctx).DebugContext(ctx, "coordinator scheduled", slog.Duration("interval", c.interval))
		c.setState(StateScheduled)
		tick, stop := c.ticker(c.interval)
		_ = c.Refresh(ctx)

	scheduled:
		for {
			select {
			case <-ctx.Done():
				stop()
				return ctx.Err()
			case <-c.wake:
				if c.subscribers() == 0 {
					break scheduled
				}
			case <-tick:
				_ = c.Refresh(ctx)
			}
		}
		stop()
		log.Ctx(ctx).DebugContext(ctx, "coordinator idle")
	}
}

// Refresh fetches the module now, updates the stored data and notifies
// listeners. A rejected session is returned as ErrReauthRequired after the
// re-auth hook ran, any other failure as *UpdateFailedError.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.setState(StateFetching)
	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	data, err := c.api.Update(fetchCtx, c.udid)
	cancel()
	metrics.CoordinatorDuration.WithLabelValues(c.udid).Observe(time.Since(start).Seconds())

	if err != nil {
		err = c.classify(ctx, err)
	} else {
		metrics.CoordinatorUpdates.WithLabelValues(c.udid, "ok").Inc()
	}

	c.mu.Lock()
	switch {
	case err != nil:
		c.state = StateFailed
	case len(c.listeners) == 0:
		c.data = data
		c.state = StateIdle
	default:
		c.data = data
		c.state = StateScheduled
	}
	c.err = err
	// c.data is replaced, never mutated, so it can be read after unlocking
	last := c.data
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(ctx, Update{UDID: c.udid, Data: last.Clone(), Err: err})
	}
	return err
}

func (c *Coordinator) classify(ctx context.Context, err error) error {
	if tech.IsUnauthorized(err) {
		metrics.CoordinatorUpdates.WithLabelValues(c.udid, "reauth").Inc()
		log.Ctx(ctx).WarnContext(ctx, "session rejected, re-authentication required", slog.Any("error", err))
		if c.onReauth != nil {
			if rerr := c.onReauth(ctx, err); rerr != nil {
				log.Ctx(ctx).ErrorContext(ctx, "re-authentication failed", slog.Any("error", rerr))
			}
		}
		return fmt.Errorf("%w: %w", ErrReauthRequired, err)
	}
	metrics.CoordinatorUpdates.WithLabelValues(c.udid, "failed").Inc()
	log.Ctx(ctx).ErrorContext(ctx, "module update failed", slog.Any("error", err))
	return &UpdateFailedError{UDID: c.udid, Err: err}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Data returns a copy of the data from the last successful refresh.
func (c *Coordinator) Data() types.ModuleData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Clone()
}

// Err returns the error of the last refresh, or nil if it succeeded.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
