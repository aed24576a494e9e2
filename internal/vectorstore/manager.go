package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("corpusd/vectorstore")

// State is the Manager lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateCorrupted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Manager owns the vector store lifecycle. All access goes through
// reference-counted handles; destructive operations are refused while
// any handle is live. That ordering discipline is what keeps a crashed
// or interrupted rebuild from corrupting the store.
type Manager struct {
	backend Backend
	logger  *zap.Logger
	metrics *Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	refs     int
	draining bool
}

// NewManager wraps a backend. The backend starts Closed; the first
// Acquire opens it.
func NewManager(backend Backend, logger *zap.Logger, metrics *Metrics) *Manager {
	m := &Manager{
		backend: backend,
		logger:  logger.Named("vectorstore"),
		metrics: metrics,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Kind reports the backend kind.
func (m *Manager) Kind() string { return m.backend.Kind() }

// Acquire returns a handle to the open store, opening the backend on
// first use. Concurrent acquires while the store transitions wait for
// the transition to settle. Every handle must be Released.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	for {
		if m.draining {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: store is draining for reset", ErrStoreBusy)
		}
		switch m.state {
		case StateOpen:
			m.refs++
			m.observeState()
			m.mu.Unlock()
			return &Handle{m: m}, nil

		case StateCorrupted:
			m.mu.Unlock()
			return nil, ErrStoreCorrupted

		case StateOpening, StateClosing:
			if err := m.waitLocked(ctx); err != nil {
				m.mu.Unlock()
				return nil, err
			}

		case StateClosed:
			m.state = StateOpening
			m.observeState()
			m.mu.Unlock()

			err := m.openBackend(ctx)

			m.mu.Lock()
			if err != nil {
				if errors.Is(err, ErrStoreCorrupted) {
					m.state = StateCorrupted
				} else {
					m.state = StateClosed
				}
				m.observeState()
				m.cond.Broadcast()
				m.mu.Unlock()
				return nil, err
			}
			m.state = StateOpen
			m.refs = 1
			m.observeState()
			m.cond.Broadcast()
			m.mu.Unlock()
			return &Handle{m: m}, nil
		}
	}
}

func (m *Manager) openBackend(ctx context.Context) error {
	start := time.Now()
	if err := m.backend.Open(ctx); err != nil {
		m.logger.Error("backend open failed", zap.Error(err))
		return fmt.Errorf("opening %s backend: %w", m.backend.Kind(), err)
	}
	if err := m.backend.EnsureCollection(ctx); err != nil {
		_ = m.backend.Close(ctx)
		m.logger.Error("ensure collection failed", zap.Error(err))
		return fmt.Errorf("ensuring collection: %w", err)
	}
	m.logger.Info("vector store opened",
		zap.String("backend", m.backend.Kind()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// release is called by Handle.Release. The last release closes the
// backend. That includes a store that went Corrupted while handles were
// live: the backend must still be closed so a later Reset can destroy
// the storage.
func (m *Manager) release() {
	m.mu.Lock()
	m.refs--
	if m.refs > 0 || (m.state != StateOpen && m.state != StateCorrupted) {
		m.observeState()
		m.mu.Unlock()
		return
	}
	corrupted := m.state == StateCorrupted
	if !corrupted {
		m.state = StateClosing
	}
	m.observeState()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := m.backend.Close(ctx)
	cancel()

	m.mu.Lock()
	if !corrupted {
		m.state = StateClosed
	}
	m.observeState()
	m.cond.Broadcast()
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("backend close failed", zap.Error(err))
	} else {
		m.logger.Info("vector store closed")
	}
}

// drainedLocked reports whether the store holds no resources: Closed,
// or Corrupted with every handle released. Caller holds the mutex.
func (m *Manager) drainedLocked() bool {
	return m.state == StateClosed || (m.state == StateCorrupted && m.refs == 0)
}

// AwaitClosed blocks until the store holds no resources or the context
// expires. Used at shutdown after callers stop issuing new acquires.
func (m *Manager) AwaitClosed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.drainedLocked() {
		if err := m.waitLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Drain quiesces the store for a destructive operation: new Acquire
// calls fail with ErrStoreBusy until Resume, and Drain returns once
// every live handle has been released and the backend is closed. A
// concurrent Drain is rejected.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.draining {
		return fmt.Errorf("%w: store is already draining", ErrStoreBusy)
	}
	m.draining = true

	for !m.drainedLocked() {
		if err := m.waitLocked(ctx); err != nil {
			m.draining = false
			m.cond.Broadcast()
			return err
		}
	}
	return nil
}

// Resume lifts the Drain gate so Acquire works again.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.draining = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Reset destroys the backing storage so the next Acquire starts from an
// empty store. Refused with ErrStoreBusy unless the store is Closed or
// Corrupted: a live handle means someone may be mid-write, and
// destroying under them is exactly the corruption this layer exists to
// prevent.
func (m *Manager) Reset(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Reset")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateClosed && m.state != StateCorrupted {
		span.SetStatus(otelcodes.Error, ErrStoreBusy.Error())
		return fmt.Errorf("%w: state %s", ErrStoreBusy, m.state)
	}

	if err := m.backend.Destroy(ctx); err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("destroying %s backend: %w", m.backend.Kind(), err)
	}

	m.state = StateClosed
	m.observeState()
	m.logger.Warn("vector store reset", zap.String("backend", m.backend.Kind()))
	span.SetStatus(otelcodes.Ok, "reset")
	return nil
}

// markCorrupted flips the store to Corrupted when a backend error
// indicates unreadable storage.
func (m *Manager) markCorrupted(err error) {
	if !errors.Is(err, ErrStoreCorrupted) {
		return
	}
	m.mu.Lock()
	m.state = StateCorrupted
	m.observeState()
	m.cond.Broadcast()
	m.mu.Unlock()
	m.logger.Error("vector store marked corrupted", zap.Error(err))
}

// waitLocked waits on the state condition with context cancellation.
// The mutex is held on entry and on return.
func (m *Manager) waitLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()
	m.cond.Wait()
	close(done)
	return ctx.Err()
}

func (m *Manager) observeState() {
	if m.metrics != nil {
		m.metrics.SetState(m.state)
		m.metrics.SetHandles(m.refs)
	}
}

// Handle is a reference-counted lease on the open store. All data
// operations run through a handle so the Manager always knows whether
// the store is in use.
type Handle struct {
	m    *Manager
	once sync.Once
}

// Release returns the lease. Safe to call more than once; only the
// first call counts.
func (h *Handle) Release() {
	h.once.Do(h.m.release)
}

// Upsert validates tenant scope on every record, then writes the batch.
// A record without tenant metadata fails the whole call: silently
// storing unscoped data would leak it to every tenant.
func (h *Handle) Upsert(ctx context.Context, records []Record) (UpsertResult, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Upsert")
	defer span.End()

	for _, rec := range records {
		if err := ValidateRecordTenant(rec); err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			return UpsertResult{}, fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}

	start := time.Now()
	res, err := h.m.backend.Upsert(ctx, records)
	h.observe("upsert", start, err)
	if err != nil {
		h.m.markCorrupted(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return res, err
	}
	span.SetStatus(otelcodes.Ok, "")
	return res, nil
}

// Delete removes records by ID. Missing IDs are a no-op.
func (h *Handle) Delete(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Delete")
	defer span.End()

	start := time.Now()
	err := h.m.backend.Delete(ctx, ids)
	h.observe("delete", start, err)
	if err != nil {
		h.m.markCorrupted(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}
	span.SetStatus(otelcodes.Ok, "")
	return nil
}

// Query searches the store. The filter must carry tenant scope;
// queries without one fail closed.
func (h *Handle) Query(ctx context.Context, vector []float32, filter map[string]string, limit int, floor float32) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Query")
	defer span.End()

	if err := ValidateFilterHasTenant(filter); err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	matches, err := h.m.backend.Query(ctx, vector, filter, limit, floor)
	h.observe("query", start, err)
	if err != nil {
		h.m.markCorrupted(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(otelcodes.Ok, "")
	return matches, nil
}

// Stats reports store statistics.
func (h *Handle) Stats(ctx context.Context) (StoreStats, error) {
	start := time.Now()
	stats, err := h.m.backend.Stats(ctx)
	h.observe("stats", start, err)
	return stats, err
}

func (h *Handle) observe(op string, start time.Time, err error) {
	if h.m.metrics != nil {
		h.m.metrics.ObserveOp(op, time.Since(start), err)
	}
}
