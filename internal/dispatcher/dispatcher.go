// Package dispatcher is the per-user command serialization boundary (C4). It
// runs one actor goroutine per active user_id, folding that user's event
// stream into cached state and retrying on optimistic-concurrency conflicts
// up to a configured limit. Idle actors are evicted after a TTL so the
// process doesn't accumulate one goroutine per user who has ever synced.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/codec"
	"github.com/podsync/syncd/internal/eventlog"
)

// Config tunes retry and lifecycle behavior.
type Config struct {
	MaxRetries      int
	DefaultDeadline time.Duration
	ActorIdleTTL    time.Duration
}

// DefaultConfig mirrors the values documented in the deployment YAML.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, DefaultDeadline: 5 * time.Second, ActorIdleTTL: 5 * time.Minute}
}

// Publisher is notified of each newly appended event right after the append
// commits. cmd/syncd implements it with a publisher that wakes the
// projection pipeline and process manager loops; WebSocket broadcast does
// not go through it (that is driven by internal/events' NOTIFY Listener).
type Publisher interface {
	Publish(streamID string, rec eventlog.Record)
}

// InfrastructureErrorKind classifies a dispatch failure that is not a
// rejection by domain logic — spec.md §7's InfrastructureError taxonomy.
type InfrastructureErrorKind string

const (
	// InfraConflict is returned once MaxRetries optimistic-concurrency
	// retries are exhausted.
	InfraConflict InfrastructureErrorKind = "Conflict"
	// InfraTimeout is returned when a command's deadline elapses before the
	// append completes. The dispatcher does not retry on Timeout.
	InfraTimeout InfrastructureErrorKind = "Timeout"
	// InfraBusy is the backpressure signal returned when an actor's bounded
	// inbox is full.
	InfraBusy InfrastructureErrorKind = "Busy"
	// InfraUnavailable covers storage-layer failures other than a version
	// conflict (e.g. the event log is unreachable).
	InfraUnavailable InfrastructureErrorKind = "Unavailable"
)

// InfrastructureError wraps a dispatch failure that originates below domain
// logic, so callers can branch on Kind instead of string-matching errors.
type InfrastructureError struct {
	Kind InfrastructureErrorKind
	Err  error
}

func (e *InfrastructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatcher: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("dispatcher: %s", e.Kind)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Dispatcher owns the actor registry.
type Dispatcher struct {
	store     *eventlog.Store
	publisher Publisher
	cfg       Config
	clock     func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
}

// New returns a Dispatcher backed by store. publisher may be nil (events are
// still durably appended; only delivery is skipped).
func New(store *eventlog.Store, publisher Publisher, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		clock:     time.Now,
		actors:    make(map[string]*actor),
	}
}

// request is one command handed to an actor's run loop.
type request struct {
	cmd    aggregate.Command
	info   aggregate.EventInfos
	ctx    context.Context
	result chan<- response
}

type response struct {
	events []eventlog.Record
	err    error
}

// Dispatch serializes cmd against userID's stream: decide against the
// actor's cached state, append the resulting events with optimistic
// concurrency, retrying on conflict up to cfg.MaxRetries times.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, cmd aggregate.Command, info aggregate.EventInfos) ([]eventlog.Record, error) {
	a := d.getOrCreateActor(userID)

	deadline := d.cfg.DefaultDeadline
	if deadline <= 0 {
		deadline = DefaultConfig().DefaultDeadline
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result := make(chan response, 1)
	select {
	case a.reqCh <- request{cmd: cmd, info: info, ctx: reqCtx, result: result}:
	default:
		return nil, &InfrastructureError{Kind: InfraBusy, Err: fmt.Errorf("actor inbox full for user %s", userID)}
	}

	select {
	case resp := <-result:
		return resp.events, resp.err
	case <-reqCtx.Done():
		return nil, &InfrastructureError{Kind: InfraTimeout, Err: reqCtx.Err()}
	}
}

func (d *Dispatcher) getOrCreateActor(userID string) *actor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.actors[userID]; ok {
		return a
	}
	a := newActor(userID, d)
	d.actors[userID] = a
	go a.run()
	return a
}

func (d *Dispatcher) evict(userID string, a *actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Only remove if no newer actor has replaced this one (it could have
	// been recreated between the idle timer firing and the lock here).
	if current, ok := d.actors[userID]; ok && current == a {
		delete(d.actors, userID)
	}
}

// actor owns one user's cached aggregate state and processes requests
// strictly in arrival order, one at a time — the serialization boundary
// that makes Decide/Apply safe to treat as single-threaded per user.
type actor struct {
	userID string
	d      *Dispatcher
	reqCh  chan request

	loaded  bool
	state   aggregate.State
	version int
}

func newActor(userID string, d *Dispatcher) *actor {
	return &actor{userID: userID, d: d, reqCh: make(chan request, 8)}
}

func (a *actor) run() {
	idleTTL := a.d.cfg.ActorIdleTTL
	if idleTTL <= 0 {
		idleTTL = DefaultConfig().ActorIdleTTL
	}
	timer := time.NewTimer(idleTTL)
	defer timer.Stop()

	for {
		select {
		case req := <-a.reqCh:
			if !timer.Stop() {
				<-timer.C
			}
			a.handle(req)
			timer.Reset(idleTTL)
		case <-timer.C:
			a.d.evict(a.userID, a)
			// Drain any request that raced the eviction decision rather
			// than silently dropping it: the caller gets a fresh actor.
			select {
			case req := <-a.reqCh:
				replacement := a.d.getOrCreateActor(a.userID)
				replacement.reqCh <- req
			default:
			}
			return
		}
	}
}

func (a *actor) handle(req request) {
	if err := req.ctx.Err(); err != nil {
		req.result <- response{err: &InfrastructureError{Kind: InfraTimeout, Err: err}}
		return
	}
	if !a.loaded {
		if err := a.load(req.ctx); err != nil {
			req.result <- response{err: &InfrastructureError{Kind: InfraUnavailable, Err: err}}
			return
		}
	}

	// Zero means no retries: the first conflict is returned as InfraConflict.
	maxRetries := a.d.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultConfig().MaxRetries
	}

	for attempt := 0; ; attempt++ {
		now := a.d.clock()
		events, err := aggregate.Decide(a.state, req.cmd, now)
		if err != nil {
			req.result <- response{err: err}
			return
		}
		if len(events) == 0 {
			req.result <- response{}
			return
		}

		newEvents := make([]eventlog.NewEvent, len(events))
		for i, e := range events {
			payload, marshalErr := json.Marshal(e.Payload)
			if marshalErr != nil {
				req.result <- response{err: fmt.Errorf("dispatcher: marshal event payload: %w", marshalErr)}
				return
			}
			newEvents[i] = eventlog.NewEvent{
				Type:       string(e.Type),
				Payload:    payload,
				DeviceID:   req.info.DeviceID,
				DeviceName: req.info.DeviceName,
			}
		}

		records, appendErr := a.d.store.Append(req.ctx, a.userID, a.version, newEvents, a.notify)
		if appendErr == nil {
			for _, e := range events {
				a.state = aggregate.Apply(a.state, e)
			}
			a.version += len(events)
			req.result <- response{events: records}
			return
		}

		var conflict *eventlog.ConflictError
		if !errors.As(appendErr, &conflict) {
			req.result <- response{err: &InfrastructureError{Kind: InfraUnavailable, Err: appendErr}}
			return
		}
		if attempt >= maxRetries {
			req.result <- response{err: &InfrastructureError{Kind: InfraConflict, Err: appendErr}}
			return
		}

		slog.Warn("dispatcher: retrying after version conflict", "user_id", a.userID, "attempt", attempt+1)
		if err := a.load(req.ctx); err != nil {
			req.result <- response{err: &InfrastructureError{Kind: InfraUnavailable, Err: err}}
			return
		}
	}
}

func (a *actor) load(ctx context.Context) error {
	records, err := a.d.store.ReadStream(ctx, a.userID)
	if err != nil {
		return fmt.Errorf("dispatcher: load stream %s: %w", a.userID, err)
	}
	state := aggregate.New(a.userID)
	version := 0
	for _, rec := range records {
		evt, decodeErr := codec.DecodeRecord(rec)
		if decodeErr != nil {
			return decodeErr
		}
		state = aggregate.Apply(state, evt)
		version = rec.Version
	}
	a.state = state
	a.version = version
	a.loaded = true
	return nil
}

func (a *actor) notify(streamID string, rec eventlog.Record) {
	if a.d.publisher != nil {
		a.d.publisher.Publish(streamID, rec)
	}
}
