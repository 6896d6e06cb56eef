// Package worker runs policy evaluation off the session goroutine behind a
// request/response channel with correlation ids and timeouts. A timeout
// resolves to nil, which callers must treat as "no decision", not an error.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/policy"
)

// #region evaluator

// Evaluator is the work the background worker performs. *policy.Engine
// satisfies it.
type Evaluator interface {
	Evaluate(in policy.FrameInput, ctx policy.EvalContext) *contracts.Cue
	ApplyParentPreset(ctx context.Context, preset contracts.Preset) contracts.Preset
	Snapshot() policy.Snapshot
}

// EvalPayload is one frame's worth of evaluation input.
type EvalPayload struct {
	Features policy.FrameInput  `json:"features"`
	Context  policy.EvalContext `json:"context"`
}

// EvaluateOptions controls how a coalesced evaluation is applied. CanApply is
// re-checked when the decision resolves so stale results are discarded without
// aborting the underlying request.
type EvaluateOptions struct {
	CanApply   func() bool
	OnDecision func(cue *contracts.Cue)
}

// #endregion evaluator

// #region request-response

type requestKind string

const (
	reqEvaluate    requestKind = "evaluate"
	reqApplyPreset requestKind = "apply-preset"
)

type request struct {
	id      int64
	kind    requestKind
	payload EvalPayload
	preset  contracts.Preset
	reply   chan response
}

type response struct {
	requestID int64
	cue       *contracts.Cue
	preset    contracts.Preset
	snapshot  policy.Snapshot
}

// #endregion request-response

// #region config

// Config tunes the worker client.
type Config struct {
	// EvaluateTimeout bounds one evaluate round trip.
	EvaluateTimeout time.Duration
	// PresetTimeout bounds one apply-preset round trip.
	PresetTimeout time.Duration
	// Spawn is called once before the evaluation loop starts; an error marks
	// the worker permanently unavailable. Nil means start unconditionally.
	Spawn func() error
	// OnSnapshot receives the policy snapshot piggybacked on each response.
	OnSnapshot func(policy.Snapshot)
}

// DefaultConfig mirrors live tuning.
func DefaultConfig() Config {
	return Config{
		EvaluateTimeout: 120 * time.Millisecond,
		PresetTimeout:   180 * time.Millisecond,
	}
}

// #endregion config

// #region client

// Client wraps the background evaluation goroutine. A dead worker is never
// retried: any spawn or runtime failure marks it permanently unavailable and
// callers fall back to local evaluation.
type Client struct {
	eval       Evaluator
	cfg        Config
	onSnapshot func(policy.Snapshot)

	mu        sync.Mutex
	available bool
	running   bool
	requests  chan request
	done      chan struct{}
	nextID    int64
	inFlight  bool
	queued    *EvalPayload
}

// NewClient creates a worker client around eval.
func NewClient(eval Evaluator, cfg Config) *Client {
	if cfg.EvaluateTimeout <= 0 {
		cfg.EvaluateTimeout = 120 * time.Millisecond
	}
	if cfg.PresetTimeout <= 0 {
		cfg.PresetTimeout = 180 * time.Millisecond
	}
	return &Client{
		eval:       eval,
		cfg:        cfg,
		onSnapshot: cfg.OnSnapshot,
		available:  true,
	}
}

// #endregion client

// #region ensure

// EnsureWorker lazily starts the evaluation loop. It reports whether the
// worker is usable.
func (c *Client) EnsureWorker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available {
		return false
	}
	if c.running {
		return true
	}
	if c.cfg.Spawn != nil {
		if err := c.cfg.Spawn(); err != nil {
			log.Printf("[WORKER] failed to start policy worker: %v", err)
			c.available = false
			c.teardownLocked()
			return false
		}
	}
	c.requests = make(chan request, 1)
	c.done = make(chan struct{})
	c.running = true
	go c.run(c.requests, c.done)
	return true
}

func (c *Client) run(requests <-chan request, done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WORKER] policy worker crashed: %v", r)
			c.mu.Lock()
			c.available = false
			c.teardownLocked()
			c.mu.Unlock()
		}
	}()
	for {
		select {
		case <-done:
			return
		case req := <-requests:
			resp := response{requestID: req.id}
			switch req.kind {
			case reqEvaluate:
				resp.cue = c.eval.Evaluate(req.payload.Features, req.payload.Context)
			case reqApplyPreset:
				resp.preset = c.eval.ApplyParentPreset(context.Background(), req.preset)
			}
			resp.snapshot = c.eval.Snapshot()
			select {
			case req.reply <- resp:
			default:
				// Caller already timed out.
			}
		}
	}
}

// #endregion ensure

// #region request

// roundTrip sends one correlated request and waits up to timeout for its
// response. Nil means timeout, teardown, or an unavailable worker.
func (c *Client) roundTrip(req request, timeout time.Duration) *response {
	if !c.EnsureWorker() {
		return nil
	}
	c.mu.Lock()
	c.nextID++
	req.id = c.nextID
	requests := c.requests
	done := c.done
	c.mu.Unlock()

	req.reply = make(chan response, 1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case requests <- req:
	case <-done:
		return nil
	case <-timer.C:
		return nil
	}

	select {
	case resp := <-req.reply:
		if c.onSnapshot != nil {
			c.onSnapshot(resp.snapshot)
		}
		return &resp
	case <-done:
		return nil
	case <-timer.C:
		return nil
	}
}

// #endregion request

// #region evaluate

// Evaluate coalesces rapid calls: while one evaluation is in flight the newest
// payload supersedes anything queued, so stale frames are dropped rather than
// backlogged.
func (c *Client) Evaluate(payload EvalPayload, opts EvaluateOptions) {
	c.mu.Lock()
	if c.inFlight {
		p := payload
		c.queued = &p
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()
	go c.evaluateLoop(payload, opts)
}

func (c *Client) evaluateLoop(payload EvalPayload, opts EvaluateOptions) {
	for {
		resp := c.roundTrip(request{kind: reqEvaluate, payload: payload}, c.cfg.EvaluateTimeout)
		if opts.CanApply == nil || opts.CanApply() {
			var cue *contracts.Cue
			if resp != nil {
				cue = resp.cue
			}
			if opts.OnDecision != nil {
				opts.OnDecision(cue)
			}
		}

		c.mu.Lock()
		if c.queued == nil {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		payload = *c.queued
		c.queued = nil
		c.mu.Unlock()
	}
}

// #endregion evaluate

// #region apply-preset

// ApplyPreset routes a preset change through the worker. ok is false on
// timeout or an unavailable worker; callers then apply locally.
func (c *Client) ApplyPreset(preset contracts.Preset) (applied contracts.Preset, ok bool) {
	resp := c.roundTrip(request{kind: reqApplyPreset, preset: preset}, c.cfg.PresetTimeout)
	if resp == nil {
		return "", false
	}
	return resp.preset, true
}

// #endregion apply-preset

// #region teardown

// Teardown stops the worker goroutine and resolves anything pending to nil.
// A cleanly torn-down worker may be restarted by the next session; a failed
// one may not.
func (c *Client) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Client) teardownLocked() {
	if c.running {
		close(c.done)
		c.running = false
	}
	c.inFlight = false
	c.queued = nil
}

// Available reports whether the worker may still be used this process.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// #endregion teardown
