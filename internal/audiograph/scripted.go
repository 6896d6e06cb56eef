package audiograph

import (
	"context"
	"sync"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region scripted-device

// ScriptedDevice replays a fixed frame sequence at a steady cadence. It backs
// the demo binary and replay tooling where no real capture pipeline exists.
type ScriptedDevice struct {
	mu       sync.Mutex
	frames   []contracts.FeatureFrame
	interval time.Duration
	loop     bool
	state    string
	stop     chan struct{}
	out      chan contracts.FeatureFrame
}

// NewScriptedDevice creates a device that emits frames every interval. With
// loop set it restarts from the beginning after the last frame.
func NewScriptedDevice(frames []contracts.FeatureFrame, interval time.Duration, loop bool) *ScriptedDevice {
	if interval <= 0 {
		interval = 80 * time.Millisecond
	}
	return &ScriptedDevice{
		frames:   frames,
		interval: interval,
		loop:     loop,
		state:    StateClosed,
	}
}

// Open starts the emitter goroutine.
func (d *ScriptedDevice) Open(ctx context.Context, _ Constraints) (<-chan contracts.FeatureFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateRunning {
		return d.out, nil
	}
	d.state = StateRunning
	d.stop = make(chan struct{})
	d.out = make(chan contracts.FeatureFrame)
	go d.emit(ctx, d.stop, d.out)
	return d.out, nil
}

func (d *ScriptedDevice) emit(ctx context.Context, stop chan struct{}, out chan contracts.FeatureFrame) {
	defer close(out)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		running := d.state == StateRunning
		d.mu.Unlock()
		if !running {
			continue
		}
		if i >= len(d.frames) {
			if !d.loop || len(d.frames) == 0 {
				return
			}
			i = 0
		}
		frame := d.frames[i]
		frame.Timestamp = time.Now()
		i++

		select {
		case out <- frame:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Suspend pauses emission without tearing the device down.
func (d *ScriptedDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateRunning {
		d.state = StateSuspended
	}
	return nil
}

// Resume restarts emission after a suspend.
func (d *ScriptedDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateSuspended {
		d.state = StateRunning
	}
	return nil
}

// State reports the device state.
func (d *ScriptedDevice) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close stops the emitter and closes the frame channel.
func (d *ScriptedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		return nil
	}
	d.state = StateClosed
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	return nil
}

// #endregion scripted-device

// #region failing-device

// FailingDevice refuses to open, standing in for denied microphone permission
// or a missing processing pipeline.
type FailingDevice struct {
	Err error
}

func (d *FailingDevice) Open(context.Context, Constraints) (<-chan contracts.FeatureFrame, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return nil, ErrProcessingUnavailable
}

func (d *FailingDevice) Suspend() error { return nil }
func (d *FailingDevice) Resume() error  { return nil }
func (d *FailingDevice) State() string  { return StateClosed }
func (d *FailingDevice) Close() error   { return nil }

// #endregion failing-device
