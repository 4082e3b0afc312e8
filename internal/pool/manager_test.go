package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hostbridge/hostbridge/internal/config"
)

func managerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWorker is a controllable Worker for manager tests.
type fakeWorker struct {
	port      int
	ready     atomic.Bool
	started   atomic.Bool
	stops     atomic.Int32
	signals   atomic.Int32
	releases  atomic.Int32
	startErr  error
	deadAfter bool // started but never ready
}

func (f *fakeWorker) Start(context.Context) error {
	f.started.Store(true)
	if f.startErr != nil {
		return f.startErr
	}
	if !f.deadAfter {
		f.ready.Store(true)
	}
	return nil
}

func (f *fakeWorker) IsReady() bool { return f.ready.Load() }
func (f *fakeWorker) Port() int     { return f.port }
func (f *fakeWorker) Stop()         { f.ready.Store(false); f.stops.Add(1) }
func (f *fakeWorker) SendSignal()   { f.ready.Store(false); f.signals.Add(1) }
func (f *fakeWorker) Release()      { f.releases.Add(1) }

// fakeFactory builds fakeWorkers with sequential ports and remembers
// every worker it created.
type fakeFactory struct {
	mu       sync.Mutex
	nextPort int
	created  []*fakeWorker
	startErr error
	dead     bool
}

func (ff *fakeFactory) New(*config.AppConfig, Deps) (Worker, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.nextPort++
	w := &fakeWorker{port: 9000 + ff.nextPort, startErr: ff.startErr, deadAfter: ff.dead}
	ff.created = append(ff.created, w)
	return w, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.created)
}

func testConfig(slots int) *config.AppConfig {
	return &config.AppConfig{
		Name:                "test",
		ProcessPath:         "/bin/true",
		ProcessesPerApp:     slots,
		RapidFailsPerMinute: 10,
	}
}

func newTestManager(ff *fakeFactory, clock func() time.Time) *Manager {
	return NewManager("test", &Options{
		Factory: ff.New,
		Logger:  managerTestLogger(),
		Clock:   clock,
	})
}

func TestSlotTableAllocatedOnce(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(4)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mgr.GetProcess(context.Background(), cfg)
		}()
	}
	wg.Wait()

	if got := mgr.SlotCount(); got != 4 {
		t.Errorf("expected 4 slots, got %d", got)
	}

	// A second configuration never resizes the table.
	if _, err := mgr.GetProcess(context.Background(), testConfig(8)); err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}
	if got := mgr.SlotCount(); got != 4 {
		t.Errorf("slot table resized to %d", got)
	}
}

func TestRoundRobinVisitsSlotsInOrder(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(3)

	var ports []int
	for i := 0; i < 7; i++ {
		w, err := mgr.GetProcess(context.Background(), cfg)
		if err != nil {
			t.Fatalf("GetProcess %d failed: %v", i, err)
		}
		ports = append(ports, w.Port())
	}

	// First three calls populate slots 0,1,2; the rest revisit them in
	// cursor order.
	want := []int{ports[0], ports[1], ports[2], ports[0], ports[1], ports[2], ports[0]}
	for i := range ports {
		if ports[i] != want[i] {
			t.Fatalf("call %d hit port %d, want %d (sequence %v)", i, ports[i], want[i], ports)
		}
	}
	if ff.count() != 3 {
		t.Errorf("expected 3 workers created, got %d", ff.count())
	}
}

func TestReadyWorkerIsNotRestarted(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(1)

	first, err := mgr.GetProcess(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}
	second, err := mgr.GetProcess(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}

	if first != second {
		t.Error("expected the same ready worker on both calls")
	}
	if ff.count() != 1 {
		t.Errorf("expected 1 worker created, got %d", ff.count())
	}
}

func TestDeadWorkerIsReplacedInSameSlot(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(1)

	first, err := mgr.GetProcess(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}

	// Worker dies: readiness drops.
	old := first.(*fakeWorker)
	old.ready.Store(false)

	second, err := mgr.GetProcess(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}

	if second == first {
		t.Fatal("expected a replacement worker")
	}
	if old.stops.Load() == 0 {
		t.Error("expected the dead worker to be stopped before replacement")
	}
	if old.releases.Load() == 0 {
		t.Error("expected the dead worker to be released")
	}
	if !second.IsReady() {
		t.Error("expected the replacement to be ready")
	}
	if ff.count() != 2 {
		t.Errorf("expected 2 workers created, got %d", ff.count())
	}
}

func TestRapidFailCircuitBreaker(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	ff := &fakeFactory{}
	mgr := newTestManager(ff, clock)
	defer mgr.Release()

	cfg := testConfig(1)
	cfg.RapidFailsPerMinute = 2

	// Exceed the limit within the window.
	for i := 0; i < 3; i++ {
		mgr.IncrementRapidFailCount()
	}

	_, err := mgr.GetProcess(context.Background(), cfg)
	if !errors.Is(err, ErrServerDisabled) {
		t.Fatalf("expected ErrServerDisabled, got %v", err)
	}
	if ff.count() != 0 {
		t.Errorf("expected no worker created while circuit open, got %d", ff.count())
	}

	// After the window elapses the counter resets and creation works.
	now = now.Add(61 * time.Second)
	w, err := mgr.GetProcess(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected creation after window reset, got %v", err)
	}
	if !w.IsReady() {
		t.Error("expected a ready worker")
	}
}

func TestStartFailureReturnsCreateFailed(t *testing.T) {
	ff := &fakeFactory{startErr: errors.New("spawn failed")}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(1)

	_, err := mgr.GetProcess(context.Background(), cfg)
	if !errors.Is(err, ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}

	// The slot is left empty and the call did not retry internally.
	if ff.count() != 1 {
		t.Errorf("expected exactly 1 start attempt, got %d", ff.count())
	}
	for _, info := range mgr.Snapshot() {
		if !info.Empty {
			t.Errorf("expected slot %d empty after failed start", info.Slot)
		}
	}
}

func TestStartedButNeverReadyIsCreateFailed(t *testing.T) {
	ff := &fakeFactory{dead: true}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()

	_, err := mgr.GetProcess(context.Background(), testConfig(1))
	if !errors.Is(err, ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}

	w := ff.created[0]
	if w.stops.Load() == 0 {
		t.Error("expected the unhealthy worker to be stopped")
	}
	if w.releases.Load() == 0 {
		t.Error("expected the unhealthy worker to be released")
	}
}

func TestShutdownIsIdempotentUnderConcurrency(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(3)

	for i := 0; i < 3; i++ {
		if _, err := mgr.GetProcess(context.Background(), cfg); err != nil {
			t.Fatalf("GetProcess failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Shutdown()
		}()
	}
	wg.Wait()

	for _, w := range ff.created {
		if got := w.stops.Load(); got != 1 {
			t.Errorf("worker %d stopped %d times, want 1", w.port, got)
		}
	}
	for _, info := range mgr.Snapshot() {
		if !info.Empty {
			t.Errorf("expected slot %d empty after shutdown", info.Slot)
		}
	}
}

func TestGetProcessAfterShutdownFailsFast(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()

	mgr.Shutdown()

	_, err := mgr.GetProcess(context.Background(), testConfig(2))
	if !errors.Is(err, ErrApplicationExiting) {
		t.Fatalf("expected ErrApplicationExiting, got %v", err)
	}
	if ff.count() != 0 {
		t.Errorf("expected no worker created after shutdown, got %d", ff.count())
	}
}

func TestShutdownProcessOnlyClearsMatchingSlot(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(3)

	var workers []Worker
	for i := 0; i < 3; i++ {
		w, err := mgr.GetProcess(context.Background(), cfg)
		if err != nil {
			t.Fatalf("GetProcess failed: %v", err)
		}
		workers = append(workers, w)
	}

	mgr.ShutdownProcess(workers[1])

	snapshot := mgr.Snapshot()
	for _, info := range snapshot {
		switch {
		case info.Empty && info.Slot != 1:
			t.Errorf("slot %d unexpectedly cleared", info.Slot)
		case !info.Empty && info.Slot == 1:
			t.Error("slot 1 should have been cleared")
		}
	}
	if workers[1].(*fakeWorker).stops.Load() != 1 {
		t.Error("expected the matching worker to be stopped")
	}
	if workers[0].(*fakeWorker).stops.Load() != 0 || workers[2].(*fakeWorker).stops.Load() != 0 {
		t.Error("expected other workers untouched")
	}
}

func TestSendShutdownSignalDrainsAllSlots(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(2)

	for i := 0; i < 2; i++ {
		if _, err := mgr.GetProcess(context.Background(), cfg); err != nil {
			t.Fatalf("GetProcess failed: %v", err)
		}
	}

	mgr.SendShutdownSignal()

	for _, w := range ff.created {
		if w.signals.Load() != 1 {
			t.Errorf("worker %d signaled %d times, want 1", w.port, w.signals.Load())
		}
		if w.stops.Load() != 0 {
			t.Errorf("worker %d hard-stopped during drain", w.port)
		}
	}
	for _, info := range mgr.Snapshot() {
		if !info.Empty {
			t.Errorf("expected slot %d empty after drain", info.Slot)
		}
	}

	// Drain does not set stopping: new workers may still be created.
	if _, err := mgr.GetProcess(context.Background(), cfg); err != nil {
		t.Errorf("expected creation after drain, got %v", err)
	}
}

func TestShutdownWalkIdempotentOnEmptySlots(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()

	// Slot table allocated but slots never filled.
	if _, err := mgr.GetProcess(context.Background(), testConfig(2)); err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}
	mgr.SendShutdownSignal()
	mgr.ShutdownAllProcesses()
	mgr.ShutdownAllProcesses()
}

func TestReleaseDestroysExactlyOnce(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)

	const extra = 7
	for i := 0; i < extra; i++ {
		mgr.Acquire()
	}

	var wg sync.WaitGroup
	for i := 0; i < extra+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Release()
		}()
	}
	wg.Wait()

	if !mgr.destroyed.Load() {
		t.Error("expected manager destroyed after last release")
	}
	if !mgr.Stopping() {
		t.Error("expected destroy to run shutdown")
	}
}

func TestConcurrentGetProcessNeverDoublesASlot(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()
	cfg := testConfig(2)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w, err := mgr.GetProcess(context.Background(), cfg); err == nil && !w.IsReady() {
				t.Error("GetProcess returned a worker that is not ready")
			}
		}()
	}
	wg.Wait()

	occupied := 0
	for _, info := range mgr.Snapshot() {
		if !info.Empty {
			occupied++
		}
	}
	// Two live workers must never share a slot: creations equal the
	// number of installed workers.
	if ff.count() != occupied {
		t.Errorf("%d workers created but %d installed", ff.count(), occupied)
	}
}

func TestInitializeOpensDiscardSink(t *testing.T) {
	ff := &fakeFactory{}
	mgr := newTestManager(ff, nil)
	defer mgr.Release()

	if err := mgr.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	sink := mgr.DiscardSink()
	if sink == nil {
		t.Fatal("expected discard sink after Initialize")
	}

	// Idempotent: a second call keeps the same handle.
	if err := mgr.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if mgr.DiscardSink() != sink {
		t.Error("expected Initialize to reuse the discard sink")
	}
}
