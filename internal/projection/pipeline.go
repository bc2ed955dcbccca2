package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/podsync/syncd/internal/codec"
	"github.com/podsync/syncd/internal/eventlog"
)

// Config tunes batching and poison-event retry behavior.
type Config struct {
	BatchSize  int
	MaxRetries int
	PollEvery  time.Duration
}

// Pipeline runs every registered Projector as its own single-consumer
// worker. Projectors never block each other or the write path; a poison
// event only halts the projector that choked on it.
type Pipeline struct {
	db    *sql.DB
	store *eventlog.Store
	cfg   Config

	projectors []Projector

	mu     sync.RWMutex
	status map[string]projectorStatus

	wg sync.WaitGroup
}

type projectorStatus struct {
	checkpoint int64
	halted     *ProjectorError
}

// New builds a pipeline over the given projectors.
func New(db *sql.DB, store *eventlog.Store, cfg Config, projectors ...Projector) *Pipeline {
	p := &Pipeline{
		db:         db,
		store:      store,
		cfg:        cfg,
		projectors: projectors,
		status:     make(map[string]projectorStatus, len(projectors)),
	}
	for _, proj := range projectors {
		p.status[proj.Name()] = projectorStatus{}
	}
	return p
}

// Run starts one goroutine per projector and blocks until ctx is canceled
// and all of them have exited. Wake, if non-nil, is closed or sent to
// whenever the caller wants projectors to check for new events immediately
// rather than waiting out PollEvery (wired to internal/events.Listener's
// NOTIFY callback in cmd/syncd).
func (p *Pipeline) Run(ctx context.Context, wake <-chan struct{}) {
	for _, proj := range p.projectors {
		p.wg.Add(1)
		go func(proj Projector) {
			defer p.wg.Done()
			p.runProjector(ctx, proj, wake)
		}(proj)
	}
	p.wg.Wait()
}

// ProcessOnce drains the named projector's backlog synchronously (one
// batch at a time until it reports no more rows), bypassing the ticker
// loop. Used by tests.
func (p *Pipeline) ProcessOnce(ctx context.Context, name string) (int, error) {
	for _, proj := range p.projectors {
		if proj.Name() != name {
			continue
		}
		total := 0
		for {
			n, err := p.processOnce(ctx, proj)
			if err != nil {
				return total, err
			}
			total += n
			if n == 0 {
				return total, nil
			}
		}
	}
	return 0, fmt.Errorf("projection: unknown projector %q", name)
}

func (p *Pipeline) runProjector(ctx context.Context, proj Projector, wake <-chan struct{}) {
	name := proj.Name()
	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	backoff := time.Second
	failures := 0
	for {
		n, err := p.processOnce(ctx, proj)
		if err != nil {
			var perr *ProjectorError
			if errors.As(err, &perr) {
				p.setHalted(name, perr)
				failures++
				if p.cfg.MaxRetries > 0 && failures > p.cfg.MaxRetries {
					// Stays halted until the process is restarted.
					slog.Error("projection: projector stopped after repeated failures", "projector", name, "position", perr.GlobalPosition, "attempts", failures, "error", perr.Err)
					return
				}
				slog.Error("projection: projector halted on poison event", "projector", name, "position", perr.GlobalPosition, "error", perr.Err, "backoff", backoff)
			} else {
				slog.Error("projection: projector batch failed", "projector", name, "error", err, "backoff", backoff)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		failures = 0
		if n > 0 {
			p.clearHalted(name)
			// Drain any further backlog before going back to idle-wait.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// processOnce reads one batch starting after the projector's checkpoint,
// decodes it, and hands it to the projector inside a single transaction
// that also advances the checkpoint. Returns the number of events handled.
func (p *Pipeline) processOnce(ctx context.Context, proj Projector) (int, error) {
	name := proj.Name()
	checkpoint, err := loadCheckpoint(ctx, p.db, name)
	if err != nil {
		return 0, err
	}

	records, err := p.store.ReadAll(ctx, checkpoint, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	batch := make([]DecodedEvent, 0, len(records))
	for _, rec := range records {
		evt, decodeErr := codec.DecodeRecord(rec)
		if decodeErr != nil {
			return 0, &ProjectorError{Projector: name, GlobalPosition: rec.GlobalPosition, Err: decodeErr}
		}
		batch = append(batch, DecodedEvent{GlobalPosition: rec.GlobalPosition, StreamID: rec.StreamID, RecordedAt: rec.RecordedAt, Event: evt})
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := proj.HandleBatch(ctx, tx, batch); err != nil {
		var perr *ProjectorError
		if errors.As(err, &perr) {
			return 0, err
		}
		return 0, &ProjectorError{Projector: name, GlobalPosition: batch[len(batch)-1].GlobalPosition, Err: err}
	}

	newCheckpoint := batch[len(batch)-1].GlobalPosition
	if err := advanceCheckpoint(ctx, tx, name, newCheckpoint); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.status[name] = projectorStatus{checkpoint: newCheckpoint}
	p.mu.Unlock()

	return len(batch), nil
}

func (p *Pipeline) setHalted(name string, err *ProjectorError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status[name]
	st.halted = err
	p.status[name] = st
}

func (p *Pipeline) clearHalted(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status[name]
	st.halted = nil
	p.status[name] = st
}

// Health reports each projector's checkpoint and, if halted, the poison
// event it's stuck on.
type Health struct {
	Checkpoint int64
	Halted     *ProjectorError
}

// Health returns a per-projector snapshot for the health endpoint.
func (p *Pipeline) Health() map[string]Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Health, len(p.status))
	for name, st := range p.status {
		out[name] = Health{Checkpoint: st.checkpoint, Halted: st.halted}
	}
	return out
}
