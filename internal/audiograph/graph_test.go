package audiograph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region fakes

type stubDevice struct {
	mu       sync.Mutex
	state    string
	out      chan contracts.FeatureFrame
	openErr  error
	suspends int
	resumes  int
}

func newStubDevice() *stubDevice {
	return &stubDevice{state: StateClosed}
}

func (d *stubDevice) Open(context.Context, Constraints) (<-chan contracts.FeatureFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.state = StateRunning
	d.out = make(chan contracts.FeatureFrame, 8)
	return d.out, nil
}

func (d *stubDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspends++
	d.state = StateSuspended
	return nil
}

func (d *stubDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumes++
	d.state = StateRunning
	return nil
}

func (d *stubDevice) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *stubDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		return nil
	}
	d.state = StateClosed
	close(d.out)
	return nil
}

type fallbackLog struct {
	mu      sync.Mutex
	reasons []string
	notify  chan string
}

func newFallbackLog() *fallbackLog {
	return &fallbackLog{notify: make(chan string, 8)}
}

func (l *fallbackLog) record(reason string) {
	l.mu.Lock()
	l.reasons = append(l.reasons, reason)
	l.mu.Unlock()
	l.notify <- reason
}

func (l *fallbackLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.reasons...)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected fallback %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fallback %q", want)
	}
}

// #endregion fakes

// #region initialize-tests

func TestInitializeWithoutDeviceFallsBackToSystem(t *testing.T) {
	fb := newFallbackLog()
	g := NewGraph(nil, nil, fb.record)

	err := g.Initialize(context.Background())
	if !errors.Is(err, ErrProcessingUnavailable) {
		t.Fatalf("expected ErrProcessingUnavailable, got %v", err)
	}
	if got := fb.all(); len(got) != 1 || got[0] != ReasonSystem {
		t.Fatalf("expected one system fallback, got %v", got)
	}
}

func TestInitializeMapsMicDenialToMicPermission(t *testing.T) {
	device := newStubDevice()
	device.openErr = ErrMicUnavailable
	fb := newFallbackLog()
	g := NewGraph(device, nil, fb.record)

	if err := g.Initialize(context.Background()); !errors.Is(err, ErrMicUnavailable) {
		t.Fatalf("expected ErrMicUnavailable, got %v", err)
	}
	if got := fb.all(); len(got) != 1 || got[0] != ReasonMicPermission {
		t.Fatalf("expected mic-permission fallback, got %v", got)
	}
}

func TestInitializeMapsOtherOpenErrorsToSystem(t *testing.T) {
	device := newStubDevice()
	device.openErr = errors.New("driver exploded")
	fb := newFallbackLog()
	g := NewGraph(device, nil, fb.record)

	if err := g.Initialize(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if got := fb.all(); len(got) != 1 || got[0] != ReasonSystem {
		t.Fatalf("expected system fallback, got %v", got)
	}
}

func TestInitializeIsIdempotentWhileRunning(t *testing.T) {
	device := newStubDevice()
	g := NewGraph(device, nil, nil)
	defer g.Clear()

	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("first initialize failed: %v", err)
	}
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("second initialize should be a no-op, got %v", err)
	}
}

// #endregion initialize-tests

// #region pump-tests

func TestFramesReachTheConsumer(t *testing.T) {
	device := newStubDevice()
	frames := make(chan contracts.FeatureFrame, 1)
	g := NewGraph(device, func(f contracts.FeatureFrame) { frames <- f }, nil)
	defer g.Clear()

	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	device.out <- contracts.FeatureFrame{Note: "A4", Confidence: 0.9, HasSignal: true}

	select {
	case f := <-frames:
		if f.Note != "A4" {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestProducerDeathFallsBackToSystem(t *testing.T) {
	device := newStubDevice()
	fb := newFallbackLog()
	g := NewGraph(device, nil, fb.record)

	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	// The producer dying on its own, not via Clear, is unrecoverable.
	close(device.out)
	waitFor(t, fb.notify, ReasonSystem)
}

func TestClearSuppressesTheDeathFallback(t *testing.T) {
	device := newStubDevice()
	fb := newFallbackLog()
	g := NewGraph(device, nil, fb.record)

	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	g.Clear()
	if got := fb.all(); len(got) != 0 {
		t.Fatalf("clean teardown must not emit fallbacks, got %v", got)
	}
	if device.State() != StateClosed {
		t.Fatalf("device should be closed, got %s", device.State())
	}
}

// #endregion pump-tests

// #region transition-tests

func TestTransitionRunsOnlyWhenPredicateAccepts(t *testing.T) {
	device := newStubDevice()
	g := NewGraph(device, nil, nil)
	defer g.Clear()

	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	g.Transition(func(state string) bool { return state == StateRunning }, "suspend")
	if device.suspends != 1 || device.State() != StateSuspended {
		t.Fatalf("expected one suspend, got %d (%s)", device.suspends, device.State())
	}

	// Already suspended: the suspend predicate rejects, nothing happens.
	g.Transition(func(state string) bool { return state == StateRunning }, "suspend")
	if device.suspends != 1 {
		t.Fatalf("suspend should not repeat, got %d", device.suspends)
	}

	g.Transition(func(state string) bool { return state != StateRunning }, "resume")
	if device.resumes != 1 || device.State() != StateRunning {
		t.Fatalf("expected one resume, got %d (%s)", device.resumes, device.State())
	}
}

func TestTransitionIgnoredWhenNotRunning(t *testing.T) {
	device := newStubDevice()
	g := NewGraph(device, nil, nil)

	g.Transition(func(string) bool { return true }, "suspend")
	if device.suspends != 0 {
		t.Fatal("transition before initialize must be ignored")
	}
}

// #endregion transition-tests
