// Package audiograph is the boundary to the external feature producer. The
// engine never sees capture internals, only feature frames and fallback
// reasons; everything here is about acquiring, pausing, and tearing down a
// Device without ever letting teardown throw.
package audiograph

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region reasons

// Fallback reasons surfaced to the runtime. Both are unrecoverable for the
// current session.
const (
	ReasonMicPermission = "mic-permission"
	ReasonSystem        = "system"
)

// ErrMicUnavailable means microphone access was denied or absent.
var ErrMicUnavailable = errors.New("microphone unavailable")

// ErrProcessingUnavailable means the feature-extraction pipeline cannot run.
var ErrProcessingUnavailable = errors.New("audio processing unavailable")

// #endregion reasons

// #region constraints

// Constraints are the capture settings requested from the device. Coaching
// needs the raw signal, so all three DSP assists stay off.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// RawSignalConstraints disables echo cancellation, noise suppression, and
// auto gain. Pitch accuracy depends on it.
func RawSignalConstraints() Constraints {
	return Constraints{}
}

// #endregion constraints

// #region device

// Device states reported by State.
const (
	StateRunning   = "running"
	StateSuspended = "suspended"
	StateClosed    = "closed"
)

// Device is an opaque feature producer. Open returns a frame channel that is
// closed when the producer stops, whether by Close or by an internal error.
type Device interface {
	Open(ctx context.Context, c Constraints) (<-chan contracts.FeatureFrame, error)
	Suspend() error
	Resume() error
	State() string
	Close() error
}

// #endregion device

// #region graph

// Graph owns one Device for the lifetime of a session and pumps its frames to
// the runtime.
type Graph struct {
	mu         sync.Mutex
	device     Device
	onFrame    func(contracts.FeatureFrame)
	onFallback func(reason string)
	running    bool
	pumpDone   chan struct{}
}

// NewGraph wires a graph around device. Either callback may be nil.
func NewGraph(device Device, onFrame func(contracts.FeatureFrame), onFallback func(reason string)) *Graph {
	return &Graph{
		device:     device,
		onFrame:    onFrame,
		onFallback: onFallback,
	}
}

// #endregion graph

// #region initialize

// Initialize acquires the device under raw-signal constraints and starts the
// frame pump. Failures emit a fallback reason before returning.
func (g *Graph) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}
	if g.device == nil {
		g.fallback(ReasonSystem)
		return ErrProcessingUnavailable
	}

	frames, err := g.device.Open(ctx, RawSignalConstraints())
	if err != nil {
		if errors.Is(err, ErrMicUnavailable) {
			g.fallback(ReasonMicPermission)
		} else {
			g.fallback(ReasonSystem)
		}
		return err
	}

	g.running = true
	g.pumpDone = make(chan struct{})
	go g.pump(frames, g.pumpDone)
	return nil
}

func (g *Graph) pump(frames <-chan contracts.FeatureFrame, done chan struct{}) {
	defer close(done)
	for frame := range frames {
		g.mu.Lock()
		running := g.running
		g.mu.Unlock()
		if !running {
			return
		}
		if g.onFrame != nil {
			g.onFrame(frame)
		}
	}
	// Producer stopped on its own: unrecoverable for this session.
	g.mu.Lock()
	stillRunning := g.running
	g.mu.Unlock()
	if stillRunning {
		g.fallback(ReasonSystem)
	}
}

func (g *Graph) fallback(reason string) {
	if g.onFallback != nil {
		g.onFallback(reason)
	}
}

// #endregion initialize

// #region clear

// Clear tears everything down. Each step is individually guarded so a failing
// device cannot abort the rest of the teardown.
func (g *Graph) Clear() {
	g.mu.Lock()
	wasRunning := g.running
	g.running = false
	pumpDone := g.pumpDone
	g.pumpDone = nil
	device := g.device
	g.mu.Unlock()

	if device != nil {
		safely(func() error { return device.Close() })
	}
	if wasRunning && pumpDone != nil {
		<-pumpDone
	}
}

// #endregion clear

// #region transition

// Transition conditionally suspends or resumes the device: method runs only
// when should accepts the current device state.
func (g *Graph) Transition(should func(state string) bool, method string) {
	g.mu.Lock()
	device := g.device
	running := g.running
	g.mu.Unlock()
	if device == nil || !running || !should(device.State()) {
		return
	}
	switch method {
	case "suspend":
		safely(device.Suspend)
	case "resume":
		safely(device.Resume)
	}
}

func safely(op func() error) {
	if err := op(); err != nil {
		log.Printf("[AUDIO] ignored teardown/transition error: %v", err)
	}
}

// #endregion transition
