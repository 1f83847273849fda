package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without running the call while a circuit is
// open, or while its single half-open probe is still in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a circuit
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Policy configures when a circuit opens and how it recovers.
type Policy struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects calls before it lets a
	// single probe through.
	Cooldown time.Duration
	// Failure classifies a call result. The default counts every error
	// except context cancellation.
	Failure func(err error) bool
	// OnTransition is called after the state changes, outside the lock.
	OnTransition func(key string, from, to State)
}

func (p Policy) withDefaults() Policy {
	if p.Threshold <= 0 {
		p.Threshold = 5
	}
	if p.Cooldown <= 0 {
		p.Cooldown = 30 * time.Second
	}
	if p.Failure == nil {
		p.Failure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return p
}

// Breaker is a single circuit.
type Breaker struct {
	key    string
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed circuit.
func New(key string, policy Policy) *Breaker {
	return &Breaker{
		key:    key,
		policy: policy.withDefaults(),
		now:    time.Now,
	}
}

// Key returns the name the circuit reports transitions under.
func (b *Breaker) Key() string { return b.key }

// State returns the current state. An open circuit whose cooldown elapsed
// reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs fn unless the circuit rejects it. A panicking fn counts as a
// failure and the panic is propagated.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.admit(); err != nil {
		return err
	}

	failed := true
	defer func() { b.record(failed) }()

	err := fn(ctx)
	failed = b.policy.Failure(err)
	return err
}

func (b *Breaker) cooledDown() bool {
	return !b.now().Before(b.openedAt.Add(b.policy.Cooldown))
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	var from State
	changed := false

	switch b.state {
	case StateOpen:
		if !b.cooledDown() {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	to := b.state
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
	return nil
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.policy.Threshold {
			b.open()
		}
	case StateHalfOpen:
		b.probing = false
		if failed {
			b.failures++
			b.open()
		} else {
			b.failures = 0
			b.state = StateClosed
		}
	case StateOpen:
		// admitted before the circuit opened; the outcome is stale
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
}

func (b *Breaker) notify(from, to State) {
	if b.policy.OnTransition != nil {
		b.policy.OnTransition(b.key, from, to)
	}
}

// Group holds one circuit per key, created on first use, so a failing
// dependency only short-circuits its own calls.
type Group struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a group whose circuits share policy.
func NewGroup(policy Policy) *Group {
	return &Group{
		policy:   policy.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the circuit for key.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.policy)
		b.now = g.now
		g.breakers[key] = b
	}
	return b
}

// Do runs fn through the circuit for key.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return g.Get(key).Do(ctx, fn)
}

// Open returns the keys whose circuits are currently open, sorted.
func (g *Group) Open() []string {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	var keys []string
	for _, b := range breakers {
		if b.State() == StateOpen {
			keys = append(keys, b.key)
		}
	}
	sort.Strings(keys)
	return keys
}
