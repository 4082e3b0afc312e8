package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/events"
	"github.com/hostbridge/hostbridge/internal/metrics"
)

// Process-wide one-time setup state, shared by all managers. The flag
// is only latched on success so a failed attempt is retried by the next
// Initialize call.
var (
	subsystemMu    sync.Mutex
	subsystemReady atomic.Bool
)

// Manager owns the fixed slot table of workers for one application and
// dispatches callers to a ready worker by round robin.
//
// Slot contents and the rapid-fail window are guarded by a single
// reader/writer lock; the round-robin cursor and the lifecycle flags
// are lock-free atomics read on the fast path.
type Manager struct {
	app  string
	opts Options

	mu        sync.RWMutex
	slots     []Worker
	slotCount int

	cursor     atomic.Uint64
	slotsReady atomic.Bool
	stopping   atomic.Bool
	rapid      rapidFailTracker

	refs      atomic.Int64
	destroyed atomic.Bool

	discard *os.File
	logger  *slog.Logger
	clock   func() time.Time
}

// NewManager creates a manager for the named application. The caller
// holds the initial reference; Release it when done.
func NewManager(app string, opts *Options) *Manager {
	if opts == nil {
		opts = &Options{}
	}
	m := &Manager{
		app:    app,
		opts:   *opts,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.opts.Factory == nil {
		m.opts.Factory = NewServerProcess
	}
	m.rapid.ResetWindow(m.clock())
	m.refs.Store(1)
	return m
}

// Initialize performs the one-time setup required before any worker can
// be created: raises the process-wide open-file limit (each worker
// consumes pipes and sockets), opens the reusable discard sink for
// worker output, and resets the rapid-fail window. Errors here are
// fatal to the manager; the owner must not bring the application
// online.
func (m *Manager) Initialize() error {
	if !subsystemReady.Load() {
		subsystemMu.Lock()
		if !subsystemReady.Load() {
			if err := raiseFileLimit(); err != nil {
				subsystemMu.Unlock()
				return fmt.Errorf("raising file limit: %w", err)
			}
			subsystemReady.Store(true)
		}
		subsystemMu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rapid.ResetWindow(m.clock())

	if m.discard == nil {
		f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("opening discard sink: %w", err)
		}
		m.discard = f
	}
	return nil
}

// DiscardSink returns the always-writable sink opened by Initialize,
// used to redirect worker output when no log file is configured.
func (m *Manager) DiscardSink() *os.File {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.discard
}

// GetProcess returns a ready worker for the next request, starting or
// replacing one if the slot selected by round robin has none.
func (m *Manager) GetProcess(ctx context.Context, cfg *config.AppConfig) (Worker, error) {
	if m.stopping.Load() {
		metrics.IncDispatch(m.app, "exiting")
		return nil, ErrApplicationExiting
	}

	if err := m.ensureSlots(cfg); err != nil {
		return nil, err
	}

	// Fast path: round robin to the next slot and return its worker if
	// it is already serving.
	m.mu.RLock()
	slot := int(m.cursor.Add(1)-1) % m.slotCount
	if w := m.slots[slot]; w != nil && w.IsReady() {
		m.mu.RUnlock()
		metrics.IncDispatch(m.app, "ready")
		return w, nil
	}
	m.mu.RUnlock()

	// Slow path: create or replace the worker for this slot. The same
	// slot index is used for the whole critical section.
	// TODO: a per-slot lock would let distinct slots start workers
	// concurrently; today creation serializes on the manager lock.
	m.mu.Lock()
	defer m.mu.Unlock()

	if w := m.slots[slot]; w != nil {
		if w.IsReady() {
			// A concurrent caller already replaced it.
			metrics.IncDispatch(m.app, "ready")
			return w, nil
		}
		// Retire the dead worker before creating its replacement.
		m.clearSlotLocked(slot, "replace")
	}

	if m.rapid.Exceeded(cfg.RapidFailsPerMinute, m.clock()) {
		m.logger.Warn("Rapid-fail limit exceeded, refusing to start worker",
			"app", m.app, "limit", cfg.RapidFailsPerMinute)
		m.publish(events.RapidFailExceededEvent{
			App:       m.app,
			Limit:     cfg.RapidFailsPerMinute,
			Timestamp: m.clock().Format(time.RFC3339),
		})
		metrics.IncRapidFailRejections(m.app)
		metrics.IncDispatch(m.app, "disabled")
		return nil, fmt.Errorf("%w: limit %d per minute", ErrServerDisabled, cfg.RapidFailsPerMinute)
	}

	w, err := m.opts.Factory(cfg, Deps{
		OnFailure: m.IncrementRapidFailCount,
		Discard:   m.discard,
		Logger:    m.logger,
	})
	if err != nil {
		metrics.IncStartFailures(m.app)
		metrics.IncDispatch(m.app, "failed")
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if err := w.Start(ctx); err != nil {
		w.Release()
		metrics.IncStartFailures(m.app)
		metrics.IncDispatch(m.app, "failed")
		m.publish(events.WorkerStartFailedEvent{
			App:       m.app,
			Error:     err.Error(),
			Timestamp: m.clock().Format(time.RFC3339),
		})
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	if !w.IsReady() {
		w.Stop()
		w.Release()
		metrics.IncStartFailures(m.app)
		metrics.IncDispatch(m.app, "failed")
		return nil, fmt.Errorf("%w: worker started but is not ready", ErrCreateFailed)
	}

	m.slots[slot] = w
	m.updateGaugeLocked()
	metrics.IncWorkersStarted(m.app)
	metrics.IncDispatch(m.app, "created")
	m.publish(events.WorkerStartedEvent{
		App:       m.app,
		Port:      w.Port(),
		Slot:      slot,
		Timestamp: m.clock().Format(time.RFC3339),
	})
	return w, nil
}

// IncrementRapidFailCount records one worker-start failure toward the
// rapid-fail window. Invoked by workers via their failure callback.
func (m *Manager) IncrementRapidFailCount() {
	m.rapid.RecordFailure()
}

// Shutdown transitions the manager to stopping and stops every worker.
// Exactly one caller performs the walk; later calls are no-ops.
func (m *Manager) Shutdown() {
	if m.stopping.CompareAndSwap(false, true) {
		m.logger.Info("Shutting down worker pool", "app", m.app)
		m.ShutdownAllProcesses()
	}
}

// ShutdownAllProcesses stops and releases every occupied slot.
func (m *Manager) ShutdownAllProcesses() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		m.clearSlotLocked(i, "shutdown")
	}
	m.updateGaugeLocked()
}

// ShutdownProcess stops and releases the slot holding the worker with
// the given worker's identity. Other slots are untouched.
func (m *Manager) ShutdownProcess(w Worker) {
	if w == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, held := range m.slots {
		if held != nil && held.Port() == w.Port() {
			m.clearSlotLocked(i, "shutdown")
		}
	}
	m.updateGaugeLocked()
}

// SendShutdownSignal asks every worker to drain and exit on its own,
// releasing manager ownership without a hard stop. Used for graceful
// drain scenarios distinct from forced shutdown.
func (m *Manager) SendShutdownSignal() {
	m.publish(events.PoolDrainingEvent{
		App:       m.app,
		Timestamp: m.clock().Format(time.RFC3339),
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, held := range m.slots {
		if held == nil {
			continue
		}
		held.SendSignal()
		held.Release()
		m.slots[i] = nil
		m.publish(events.WorkerStoppedEvent{
			App:       m.app,
			Port:      held.Port(),
			Reason:    "drain",
			Timestamp: m.clock().Format(time.RFC3339),
		})
	}
	m.updateGaugeLocked()
}

// Acquire adds a reference to the manager. Callers must hold one for
// as long as they use the manager.
func (m *Manager) Acquire() {
	m.refs.Add(1)
}

// Release drops a reference; the last release destroys the manager.
func (m *Manager) Release() {
	if m.refs.Add(-1) == 0 {
		m.destroy()
	}
}

// Stopping reports whether Shutdown has begun.
func (m *Manager) Stopping() bool {
	return m.stopping.Load()
}

// SlotCount returns the configured slot count, or 0 before the first
// GetProcess call.
func (m *Manager) SlotCount() int {
	if !m.slotsReady.Load() {
		return 0
	}
	return m.slotCount
}

// SlotInfo describes one pool slot for diagnostics.
type SlotInfo struct {
	Slot  int  `json:"slot"`
	Empty bool `json:"empty"`
	Port  int  `json:"port,omitempty"`
	Ready bool `json:"ready,omitempty"`
}

// Snapshot returns the current state of every slot.
func (m *Manager) Snapshot() []SlotInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SlotInfo, len(m.slots))
	for i, w := range m.slots {
		out[i] = SlotInfo{Slot: i, Empty: w == nil}
		if w != nil {
			out[i].Port = w.Port()
			out[i].Ready = w.IsReady()
		}
	}
	return out
}

// ensureSlots lazily allocates the slot table, exactly once, sized from
// the first configuration seen. Double-checked so the common path skips
// the lock once initialized.
func (m *Manager) ensureSlots(cfg *config.AppConfig) error {
	if m.slotsReady.Load() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slotsReady.Load() {
		return nil
	}

	count := cfg.ProcessesPerApp
	if count <= 0 {
		return fmt.Errorf("invalid processes_per_app %d", count)
	}
	m.slots = make([]Worker, count)
	m.slotCount = count
	m.slotsReady.Store(true)
	m.logger.Info("Worker slot table allocated", "app", m.app, "slots", count)
	return nil
}

// clearSlotLocked stops, releases and empties one slot. No-op for an
// already-empty slot. Caller holds the exclusive lock.
func (m *Manager) clearSlotLocked(slot int, reason string) {
	w := m.slots[slot]
	if w == nil {
		return
	}
	w.Stop()
	w.Release()
	m.slots[slot] = nil
	m.publish(events.WorkerStoppedEvent{
		App:       m.app,
		Port:      w.Port(),
		Reason:    reason,
		Timestamp: m.clock().Format(time.RFC3339),
	})
}

// updateGaugeLocked refreshes the ready-worker gauge. Caller holds at
// least the shared lock.
func (m *Manager) updateGaugeLocked() {
	ready := 0
	for _, w := range m.slots {
		if w != nil && w.IsReady() {
			ready++
		}
	}
	metrics.SetReadyWorkers(m.app, ready)
}

// publish sends an event if a bus is configured.
func (m *Manager) publish(ev events.Event) {
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(ev)
	}
}

// destroy tears the manager down after the last reference is released.
func (m *Manager) destroy() {
	if !m.destroyed.CompareAndSwap(false, true) {
		return
	}
	m.Shutdown()

	m.mu.Lock()
	if m.discard != nil {
		m.discard.Close()
		m.discard = nil
	}
	m.mu.Unlock()

	metrics.DeletePoolMetrics(m.app)
	m.logger.Info("Worker pool manager destroyed", "app", m.app)
}

// raiseFileLimit lifts the soft open-file limit to the hard limit.
func raiseFileLimit() error {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return err
	}
	if rl.Cur >= rl.Max {
		return nil
	}
	rl.Cur = rl.Max
	return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rl)
}
